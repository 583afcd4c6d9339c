package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/hookrelay/internal/breaker"
	"github.com/smallbiznis/hookrelay/internal/clock"
	"github.com/smallbiznis/hookrelay/internal/config"
)

func testTunables() config.QueueTunables {
	return config.QueueTunables{
		Concurrency:        2,
		PollInterval:       10 * time.Millisecond,
		LeaseDuration:      60 * time.Second,
		SweepInterval:      time.Second,
		MaxAttempts:        3,
		BackoffBase:        2 * time.Second,
		BackoffCap:         5 * time.Minute,
		JobTimeout:         5 * time.Second,
		CompletedRetention: 2,
		FailedRetention:    10,
	}
}

func newTestQueue(t *testing.T) (*Queue, *clock.FakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clk := clock.NewFakeClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	br := breaker.New(breaker.Settings{Name: "redis", FailureThreshold: 5, ResetTimeout: 10 * time.Second}, clk, zap.NewNop())
	return New(rdb, br, clk, zap.NewNop(), testTunables()), clk
}

func TestEnqueuePopPriorityOrder(t *testing.T) {
	q, clk := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, Job{Type: "payment", EventID: "evt_normal"}, Options{Priority: 10})
	require.NoError(t, err)
	clk.Advance(time.Millisecond)
	_, err = q.Enqueue(ctx, Job{Type: "dispute", EventID: "evt_urgent"}, Options{Priority: 1})
	require.NoError(t, err)
	clk.Advance(time.Millisecond)
	_, err = q.Enqueue(ctx, Job{Type: "account", EventID: "evt_elevated"}, Options{Priority: 3})
	require.NoError(t, err)

	var order []string
	for i := 0; i < 3; i++ {
		job, err := q.Pop(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)
		order = append(order, job.EventID)
	}
	assert.Equal(t, []string{"evt_urgent", "evt_elevated", "evt_normal"}, order)

	job, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestSamePriorityIsFIFO(t *testing.T) {
	q, clk := newTestQueue(t)
	ctx := context.Background()

	for _, id := range []string{"evt_1", "evt_2", "evt_3"} {
		_, err := q.Enqueue(ctx, Job{Type: "payment", EventID: id}, Options{Priority: 10})
		require.NoError(t, err)
		clk.Advance(time.Millisecond)
	}

	for _, want := range []string{"evt_1", "evt_2", "evt_3"} {
		job, err := q.Pop(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, want, job.EventID)
	}
}

func TestDelayedJobPromotes(t *testing.T) {
	q, clk := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, Job{Type: "payment", EventID: "evt_later"}, Options{Priority: 10, Delay: 30 * time.Second})
	require.NoError(t, err)

	promoted, err := q.PromoteDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, promoted)
	job, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)

	clk.Advance(31 * time.Second)
	promoted, err = q.PromoteDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), promoted)

	job, err = q.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "evt_later", job.EventID)
}

func TestRetrySchedulesWithBackoff(t *testing.T) {
	q, clk := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, Job{Type: "payment", EventID: "evt_retry"}, Options{Priority: 10})
	require.NoError(t, err)

	job, err := q.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	job.Attempt = 1
	require.NoError(t, q.Retry(ctx, job, errors.New("db down")))

	// Not ready before the backoff delay (base 2s << 1 = 4s).
	clk.Advance(3 * time.Second)
	promoted, err := q.PromoteDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, promoted)

	clk.Advance(2 * time.Second)
	promoted, err = q.PromoteDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), promoted)

	got, err := q.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, got.Attempt)
	assert.Equal(t, "db down", got.LastError)
}

func TestBackoffDelayMonotonicAndCapped(t *testing.T) {
	base := 2 * time.Second
	limit := 5 * time.Minute

	prev := time.Duration(0)
	for attempt := 0; attempt < 20; attempt++ {
		d := backoffDelay(base, limit, attempt)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		assert.LessOrEqual(t, d, limit)
		prev = d
	}
	assert.Equal(t, limit, backoffDelay(base, limit, 19))
}

func TestFailRecordsAndNotifies(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, Job{Type: "payment", EventID: "evt_dead"}, Options{Priority: 10})
	require.NoError(t, err)
	job, err := q.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	job.Attempt = 3
	require.NoError(t, q.Fail(ctx, job, errors.New("permanent")))

	select {
	case fj := <-q.Failures():
		assert.Equal(t, "evt_dead", fj.EventID)
		assert.Equal(t, "permanent", fj.Error)
	default:
		t.Fatal("expected failure notification")
	}

	failed, err := q.ListFailed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "evt_dead", failed[0].EventID)
	assert.Equal(t, 3, failed[0].Attempt)

	// Gone from every live state.
	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Waiting)
	assert.Zero(t, stats.Active)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestSweepRequeuesExpiredLease(t *testing.T) {
	q, clk := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, Job{Type: "payment", EventID: "evt_stall"}, Options{Priority: 10})
	require.NoError(t, err)
	job, err := q.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	requeued, err := q.SweepStalled(ctx)
	require.NoError(t, err)
	assert.Zero(t, requeued)

	clk.Advance(61 * time.Second)
	requeued, err = q.SweepStalled(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), requeued)

	again, err := q.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, "evt_stall", again.EventID)
}

func TestCompletedRetentionTrims(t *testing.T) {
	q, clk := newTestQueue(t)
	ctx := context.Background()

	for _, id := range []string{"evt_a", "evt_b", "evt_c"} {
		_, err := q.Enqueue(ctx, Job{Type: "payment", EventID: id}, Options{Priority: 10})
		require.NoError(t, err)
		clk.Advance(time.Millisecond)
		job, err := q.Pop(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)
		require.NoError(t, q.Ack(ctx, job))
	}

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Completed)
	assert.Zero(t, stats.Waiting)
	assert.Zero(t, stats.Active)
}

func TestPurge(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, Job{Type: "payment", EventID: "evt_x"}, Options{Priority: 10})
	require.NoError(t, err)
	job, err := q.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	job.Attempt = 3
	require.NoError(t, q.Fail(ctx, job, errors.New("nope")))

	dropped, err := q.PurgeFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dropped)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Failed)
}

func TestPoolProcessesJobs(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	processed := make(chan string, 3)
	handler := func(ctx context.Context, job *Job) error {
		processed <- job.EventID
		return nil
	}
	pool := NewPool(q, handler, zap.NewNop())
	pool.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = pool.Stop(stopCtx)
	}()

	for _, id := range []string{"evt_p1", "evt_p2", "evt_p3"} {
		_, err := q.Enqueue(ctx, Job{Type: "payment", EventID: id}, Options{Priority: 10})
		require.NoError(t, err)
	}

	got := map[string]bool{}
	for i := 0; i < 3; i++ {
		select {
		case id := <-processed:
			got[id] = true
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for jobs")
		}
	}
	assert.Len(t, got, 3)
}

func TestPoolRetriesUntilExhausted(t *testing.T) {
	q, clk := newTestQueue(t)
	ctx := context.Background()

	attempts := make(chan int, 10)
	handler := func(ctx context.Context, job *Job) error {
		attempts <- job.Attempt
		return errors.New("always fails")
	}
	pool := NewPool(q, handler, zap.NewNop())
	// Clock jumps below would expire leases mid-flight and let the sweeper
	// double-queue the job, so park it for this test.
	pool.sweepEvery = time.Hour
	pool.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = pool.Stop(stopCtx)
	}()

	_, err := q.Enqueue(ctx, Job{Type: "payment", EventID: "evt_fail"}, Options{Priority: 10})
	require.NoError(t, err)

	seen := 0
	deadline := time.After(5 * time.Second)
	for seen < 3 {
		select {
		case <-attempts:
			seen++
			// Each retry is parked in the delayed set; jump the clock past
			// the backoff so the maintenance loop promotes it.
			clk.Advance(time.Hour)
		case <-deadline:
			t.Fatalf("saw %d attempts, want 3", seen)
		}
	}

	var failed []FailedJob
	require.Eventually(t, func() bool {
		var err error
		failed, err = q.ListFailed(ctx, 10)
		return err == nil && len(failed) == 1
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, "evt_fail", failed[0].EventID)
	assert.Equal(t, 3, failed[0].Attempt)
}

func TestPoolBreakerRejectionsKeepRetryBudget(t *testing.T) {
	q, clk := newTestQueue(t)
	ctx := context.Background()

	attempts := make(chan int, 10)
	done := make(chan struct{})
	var deliveries int32
	handler := func(ctx context.Context, job *Job) error {
		attempts <- job.Attempt
		// More rejections than the job has attempts; none of them count.
		if atomic.AddInt32(&deliveries, 1) <= 5 {
			return fmt.Errorf("records write: %w", breaker.ErrOpen)
		}
		close(done)
		return nil
	}
	pool := NewPool(q, handler, zap.NewNop())
	pool.sweepEvery = time.Hour
	pool.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = pool.Stop(stopCtx)
	}()

	_, err := q.Enqueue(ctx, Job{Type: "payment", EventID: "evt_outage"}, Options{Priority: 10})
	require.NoError(t, err)

	seen := 0
	deadline := time.After(5 * time.Second)
	for seen < 6 {
		select {
		case a := <-attempts:
			assert.Zero(t, a)
			seen++
			clk.Advance(time.Hour)
		case <-deadline:
			t.Fatalf("saw %d deliveries, want 6", seen)
		}
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("job never completed after the dependency recovered")
	}

	failed, err := q.ListFailed(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestJobRoundTrip(t *testing.T) {
	payload := json.RawMessage(`{"payment":{"entity":{"id":"pay_1"}}}`)
	job := Job{ID: "j1", Type: "payment", EventID: "evt_1", EventType: "payment.captured", Payload: payload, Priority: 10, MaxAttempts: 3}

	body, err := json.Marshal(job)
	require.NoError(t, err)
	var got Job
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, job.EventType, got.EventType)
	assert.JSONEq(t, string(payload), string(got.Payload))
}
