package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/smallbiznis/hookrelay/internal/clock"
	"github.com/smallbiznis/hookrelay/internal/observability/metrics"
	"go.uber.org/zap"
)

// ErrOpen is returned when the breaker rejects a call without executing it.
// Callers distinguish it from operation errors to avoid burning retry budget
// on a dependency that is known to be down.
var ErrOpen = errors.New("circuit breaker open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Settings configures one breaker instance. Expected errors are application
// rejections (validation, not-found) that pass through to the caller without
// counting toward the failure threshold.
type Settings struct {
	Name             string
	FailureThreshold int
	ResetTimeout     time.Duration
	Expected         []error
}

// Snapshot is a consistent read-only view of breaker state.
type Snapshot struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	FailureCount    int       `json:"failure_count"`
	LastFailureTime time.Time `json:"last_failure_time"`
	TotalRequests   uint64    `json:"total_requests"`
	TotalFailures   uint64    `json:"total_failures"`
	TotalSuccesses  uint64    `json:"total_successes"`
}

// Breaker wraps calls to a single external dependency with the
// closed/open/half-open failure isolation protocol.
type Breaker struct {
	name      string
	threshold int
	timeout   time.Duration
	expected  []error
	clock     clock.Clock
	log       *zap.Logger
	metrics   *metrics.PipelineMetrics

	mu            sync.Mutex
	state         State
	failureCount  int
	lastFailure   time.Time
	trialInFlight bool

	totalRequests  uint64
	totalFailures  uint64
	totalSuccesses uint64
}

func New(s Settings, clk clock.Clock, log *zap.Logger) *Breaker {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.ResetTimeout <= 0 {
		s.ResetTimeout = 30 * time.Second
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	if log == nil {
		log = zap.NewNop()
	}
	b := &Breaker{
		name:      s.Name,
		threshold: s.FailureThreshold,
		timeout:   s.ResetTimeout,
		expected:  s.Expected,
		clock:     clk,
		log:       log.Named("breaker").With(zap.String("dependency", s.Name)),
		metrics:   metrics.Pipeline(),
		state:     StateClosed,
	}
	b.metrics.SetBreakerState(b.name, float64(StateClosed))
	return b
}

// Execute runs op through the breaker. While OPEN it returns ErrOpen without
// calling op.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	return b.ExecuteWithFallback(ctx, op, nil)
}

// ExecuteWithFallback runs op through the breaker; if the breaker rejects the
// call and a fallback is supplied, the fallback runs instead and its result is
// returned.
func (b *Breaker) ExecuteWithFallback(ctx context.Context, op, fallback func(ctx context.Context) error) error {
	trial, err := b.admit()
	if err != nil {
		if fallback != nil {
			return fallback(ctx)
		}
		return err
	}

	opErr := op(ctx)
	b.record(trial, opErr)

	return opErr
}

// admit decides whether a call may proceed. The second half-open caller is
// rejected until the single trial resolves.
func (b *Breaker) admit() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests++

	switch b.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if b.clock.Now().Sub(b.lastFailure) < b.timeout {
			return false, ErrOpen
		}
		b.state = StateHalfOpen
		b.trialInFlight = true
		b.metrics.SetBreakerState(b.name, float64(StateHalfOpen))
		b.log.Info("circuit breaker half-open, allowing trial request")
		return true, nil
	case StateHalfOpen:
		if b.trialInFlight {
			return false, ErrOpen
		}
		b.trialInFlight = true
		return true, nil
	default:
		return false, nil
	}
}

func (b *Breaker) record(trial bool, opErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if trial {
		b.trialInFlight = false
	}

	if opErr == nil || b.isExpected(opErr) {
		b.totalSuccesses++
		b.failureCount = 0
		if b.state != StateClosed {
			b.log.Info("circuit breaker closed")
		}
		b.state = StateClosed
		b.metrics.SetBreakerState(b.name, float64(StateClosed))
		return
	}

	b.totalFailures++
	b.lastFailure = b.clock.Now()

	if b.state == StateHalfOpen {
		b.state = StateOpen
		b.metrics.SetBreakerState(b.name, float64(StateOpen))
		b.log.Warn("circuit breaker re-opened after failed trial", zap.Error(opErr))
		return
	}

	b.failureCount++
	if b.failureCount >= b.threshold {
		b.state = StateOpen
		b.metrics.SetBreakerState(b.name, float64(StateOpen))
		b.log.Warn("circuit breaker opened",
			zap.Int("failures", b.failureCount),
			zap.Duration("reset_timeout", b.timeout),
		)
	}
}

func (b *Breaker) isExpected(err error) bool {
	for _, e := range b.expected {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// State returns a consistent snapshot for observability.
func (b *Breaker) State() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:            b.name,
		State:           b.state.String(),
		FailureCount:    b.failureCount,
		LastFailureTime: b.lastFailure,
		TotalRequests:   b.totalRequests,
		TotalFailures:   b.totalFailures,
		TotalSuccesses:  b.totalSuccesses,
	}
}
