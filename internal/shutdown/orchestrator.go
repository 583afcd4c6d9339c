package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/smallbiznis/hookrelay/internal/config"
)

// Phase is the orchestrator lifecycle: RUNNING until the first shutdown
// signal, DRAINING while callbacks run, STOPPED when the sequence ends.
type Phase int

const (
	PhaseRunning Phase = iota
	PhaseDraining
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseRunning:
		return "running"
	case PhaseDraining:
		return "draining"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrTimedOut reports a callback or the whole sequence exceeding its budget.
var ErrTimedOut = errors.New("shutdown timed out")

type callback struct {
	name     string
	priority int
	timeout  time.Duration
	fn       func(ctx context.Context) error
	seq      int
}

// Orchestrator runs registered teardown callbacks in descending priority
// order, bounding each one and the whole sequence. A second shutdown signal
// is a no-op; callers block until the first run finishes.
type Orchestrator struct {
	log      *zap.Logger
	tunables config.ShutdownTunables

	mu        sync.Mutex
	phase     Phase
	callbacks []callback
	nextSeq   int
	done      chan struct{}
	result    error
}

func New(log *zap.Logger, t config.ShutdownTunables) *Orchestrator {
	if t.CallbackTimeout <= 0 {
		t.CallbackTimeout = 10 * time.Second
	}
	if t.GlobalTimeout <= 0 {
		t.GlobalTimeout = 45 * time.Second
	}
	return &Orchestrator{
		log:      log.Named("shutdown"),
		tunables: t,
		done:     make(chan struct{}),
	}
}

// Register adds a teardown callback. Higher priority runs earlier. A zero
// timeout uses the configured per-callback default. Registration after
// draining begins is rejected.
func (o *Orchestrator) Register(name string, priority int, timeout time.Duration, fn func(ctx context.Context) error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.phase != PhaseRunning {
		return fmt.Errorf("register %s: shutdown already %s", name, o.phase)
	}
	if timeout <= 0 {
		timeout = o.tunables.CallbackTimeout
	}
	o.callbacks = append(o.callbacks, callback{
		name:     name,
		priority: priority,
		timeout:  timeout,
		fn:       fn,
		seq:      o.nextSeq,
	})
	o.nextSeq++
	return nil
}

// Phase returns the current lifecycle phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// Draining reports whether shutdown has begun. The HTTP layer uses it to
// refuse new webhooks while in-flight work finishes.
func (o *Orchestrator) Draining() bool {
	return o.Phase() != PhaseRunning
}

// Shutdown runs the teardown sequence once. Concurrent and repeated calls
// wait for the first run and return its result.
func (o *Orchestrator) Shutdown() error {
	o.mu.Lock()
	if o.phase != PhaseRunning {
		done := o.done
		o.mu.Unlock()
		<-done
		o.mu.Lock()
		err := o.result
		o.mu.Unlock()
		return err
	}
	o.phase = PhaseDraining
	cbs := make([]callback, len(o.callbacks))
	copy(cbs, o.callbacks)
	o.mu.Unlock()

	// Descending priority; registration order breaks ties.
	sort.SliceStable(cbs, func(i, j int) bool {
		if cbs[i].priority != cbs[j].priority {
			return cbs[i].priority > cbs[j].priority
		}
		return cbs[i].seq < cbs[j].seq
	})

	o.log.Info("draining", zap.Int("callbacks", len(cbs)))
	start := time.Now()
	deadline := start.Add(o.tunables.GlobalTimeout)

	var firstErr error
	for _, cb := range cbs {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			o.log.Error("global shutdown budget exhausted", zap.String("skipped_from", cb.name))
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: global budget exhausted at %s", ErrTimedOut, cb.name)
			}
			break
		}
		timeout := cb.timeout
		if timeout > remaining {
			timeout = remaining
		}
		if err := o.runOne(cb, timeout); err != nil {
			o.log.Error("shutdown callback failed", zap.String("callback", cb.name), zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", cb.name, err)
			}
		}
	}

	o.mu.Lock()
	o.phase = PhaseStopped
	o.result = firstErr
	o.mu.Unlock()
	close(o.done)
	o.log.Info("stopped", zap.Duration("elapsed", time.Since(start)))
	return firstErr
}

// runOne executes a callback in its own goroutine so an unresponsive one can
// be abandoned at its deadline instead of wedging the sequence.
func (o *Orchestrator) runOne(cb callback, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errc <- fmt.Errorf("panic: %v", r)
			}
		}()
		errc <- cb.fn(ctx)
	}()

	select {
	case err := <-errc:
		if err == nil {
			o.log.Info("shutdown callback done", zap.String("callback", cb.name))
		}
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w after %s", ErrTimedOut, timeout)
	}
}
