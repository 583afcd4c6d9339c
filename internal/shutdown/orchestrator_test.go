package shutdown

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/hookrelay/internal/config"
)

func newTestOrchestrator() *Orchestrator {
	return New(zap.NewNop(), config.ShutdownTunables{
		CallbackTimeout: 200 * time.Millisecond,
		GlobalTimeout:   time.Second,
	})
}

func TestShutdownRunsDescendingPriority(t *testing.T) {
	o := newTestOrchestrator()

	var mu sync.Mutex
	var order []string
	record := func(name string) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}

	require.NoError(t, o.Register("redis", PriorityRedis, 0, record("redis")))
	require.NoError(t, o.Register("workers", PriorityWorkers, 0, record("workers")))
	require.NoError(t, o.Register("ingress", PriorityIngress, 0, record("ingress")))
	require.NoError(t, o.Register("store", PriorityStore, 0, record("store")))

	require.NoError(t, o.Shutdown())
	assert.Equal(t, []string{"ingress", "store", "workers", "redis"}, order)
	assert.Equal(t, PhaseStopped, o.Phase())
}

func TestEqualPriorityKeepsRegistrationOrder(t *testing.T) {
	o := newTestOrchestrator()

	var order []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		require.NoError(t, o.Register(name, 5, 0, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		}))
	}
	require.NoError(t, o.Shutdown())
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestSlowCallbackIsAbandoned(t *testing.T) {
	o := newTestOrchestrator()

	done := false
	require.NoError(t, o.Register("slow", 20, 50*time.Millisecond, func(ctx context.Context) error {
		select {
		case <-time.After(5 * time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))
	require.NoError(t, o.Register("after", 10, 0, func(ctx context.Context) error {
		done = true
		return nil
	}))

	start := time.Now()
	err := o.Shutdown()
	assert.ErrorIs(t, err, ErrTimedOut)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, done, "later callbacks still run after a timeout")
}

func TestGlobalBudgetBoundsSequence(t *testing.T) {
	o := New(zap.NewNop(), config.ShutdownTunables{
		CallbackTimeout: time.Second,
		GlobalTimeout:   100 * time.Millisecond,
	})

	ran := 0
	block := func(ctx context.Context) error {
		ran++
		<-ctx.Done()
		return ctx.Err()
	}
	require.NoError(t, o.Register("first", 30, 0, block))
	require.NoError(t, o.Register("second", 20, 0, block))
	require.NoError(t, o.Register("third", 10, 0, block))

	start := time.Now()
	err := o.Shutdown()
	assert.ErrorIs(t, err, ErrTimedOut)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Less(t, ran, 3, "budget exhaustion skips trailing callbacks")
}

func TestDoubleShutdownIsIdempotent(t *testing.T) {
	o := newTestOrchestrator()

	calls := 0
	require.NoError(t, o.Register("once", 10, 0, func(ctx context.Context) error {
		calls++
		return nil
	}))

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, o.Shutdown())
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, calls)
}

func TestRegisterAfterDrainRejected(t *testing.T) {
	o := newTestOrchestrator()
	require.NoError(t, o.Shutdown())
	assert.Error(t, o.Register("late", 10, 0, func(ctx context.Context) error { return nil }))
}

func TestDrainingFlag(t *testing.T) {
	o := newTestOrchestrator()
	assert.False(t, o.Draining())

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, o.Register("hold", 10, time.Second, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))

	go func() { _ = o.Shutdown() }()
	<-started
	assert.True(t, o.Draining())
	close(release)
}
