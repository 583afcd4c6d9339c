package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/smallbiznis/hookrelay/internal/breaker"
	"github.com/smallbiznis/hookrelay/internal/clock"
	"github.com/smallbiznis/hookrelay/internal/config"
	"github.com/smallbiznis/hookrelay/internal/observability/metrics"
)

const (
	keyJobs       = "hookrelay:queue:jobs"
	keyPriorities = "hookrelay:queue:priorities"
	keyWaiting    = "hookrelay:queue:waiting"
	keyDelayed    = "hookrelay:queue:delayed"
	keyActive     = "hookrelay:queue:active"
	keyCompleted  = "hookrelay:queue:completed"
	keyFailed     = "hookrelay:queue:failed"
)

// Waiting-set scores pack priority ahead of enqueue time so lower priority
// classes always pop first and ties stay FIFO. priority*1e13 + unix millis
// stays well inside float64's exact integer range.
const priorityStride = 1e13

var enqueueScript = redis.NewScript(`
redis.call("HSET", KEYS[2], ARGV[1], ARGV[2])
redis.call("HSET", KEYS[3], ARGV[1], ARGV[3])
redis.call("ZADD", KEYS[1], tonumber(ARGV[4]), ARGV[1])
return 1
`)

var promoteScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
for _, id in ipairs(due) do
	local prio = tonumber(redis.call("HGET", KEYS[3], id)) or 10
	redis.call("ZADD", KEYS[2], prio * 1e13 + tonumber(ARGV[1]), id)
	redis.call("ZREM", KEYS[1], id)
end
return #due
`)

var popScript = redis.NewScript(`
local ids = redis.call("ZRANGE", KEYS[1], 0, 0)
if #ids == 0 then
	return false
end
local id = ids[1]
redis.call("ZREM", KEYS[1], id)
local body = redis.call("HGET", KEYS[3], id)
if not body then
	redis.call("HDEL", KEYS[2], id)
	return false
end
redis.call("HSET", KEYS[2], id, ARGV[1])
return {id, body}
`)

var ackScript = redis.NewScript(`
redis.call("HDEL", KEYS[1], ARGV[1])
redis.call("HDEL", KEYS[2], ARGV[1])
redis.call("HDEL", KEYS[3], ARGV[1])
redis.call("LPUSH", KEYS[4], ARGV[2])
redis.call("LTRIM", KEYS[4], 0, tonumber(ARGV[3]) - 1)
return 1
`)

var retryScript = redis.NewScript(`
redis.call("HDEL", KEYS[1], ARGV[1])
redis.call("HSET", KEYS[2], ARGV[1], ARGV[2])
redis.call("ZADD", KEYS[3], tonumber(ARGV[3]), ARGV[1])
return 1
`)

var sweepScript = redis.NewScript(`
local entries = redis.call("HGETALL", KEYS[1])
local requeued = 0
for i = 1, #entries, 2 do
	local id = entries[i]
	local expiry = tonumber(entries[i + 1])
	if expiry ~= nil and expiry < tonumber(ARGV[1]) then
		local prio = tonumber(redis.call("HGET", KEYS[3], id)) or 10
		redis.call("ZADD", KEYS[2], prio * 1e13 + tonumber(ARGV[1]), id)
		redis.call("HDEL", KEYS[1], id)
		requeued = requeued + 1
	end
end
return requeued
`)

// Queue is a durable at-least-once priority queue on redis. Jobs move
// waiting -> active (under a lease) -> completed, or back through delayed on
// retry, or into failed once attempts run out. All transitions are Lua
// scripts so a crash between steps never loses a job.
type Queue struct {
	rdb      *redis.Client
	br       *breaker.Breaker
	clock    clock.Clock
	log      *zap.Logger
	metrics  *metrics.PipelineMetrics
	tunables config.QueueTunables
	failures chan FailedJob
}

func New(rdb *redis.Client, br *breaker.Breaker, clk clock.Clock, log *zap.Logger, t config.QueueTunables) *Queue {
	return &Queue{
		rdb:      rdb,
		br:       br,
		clock:    clk,
		log:      log.Named("queue"),
		metrics:  metrics.Pipeline(),
		tunables: t,
		failures: make(chan FailedJob, 64),
	}
}

// Failures exposes terminal job failures for out-of-band handling. The send
// is non-blocking; a full channel drops the notification, the failed list
// keeps the record either way.
func (q *Queue) Failures() <-chan FailedJob {
	return q.failures
}

// Enqueue persists the job and makes it eligible for pickup, immediately or
// after the configured delay. Returns the job ID.
func (q *Queue) Enqueue(ctx context.Context, job Job, opts Options) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if opts.Priority > 0 {
		job.Priority = opts.Priority
	}
	if job.Priority <= 0 {
		job.Priority = 10
	}
	job.MaxAttempts = opts.MaxAttempts
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = q.tunables.MaxAttempts
	}
	now := q.clock.Now()
	job.EnqueuedAt = now

	body, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}

	target := keyWaiting
	score := float64(job.Priority)*priorityStride + float64(now.UnixMilli())
	if opts.Delay > 0 {
		target = keyDelayed
		score = float64(now.Add(opts.Delay).UnixMilli())
	}

	err = q.br.Execute(ctx, func(ctx context.Context) error {
		return enqueueScript.Run(ctx, q.rdb,
			[]string{target, keyJobs, keyPriorities},
			job.ID, body, job.Priority, score,
		).Err()
	})
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

// PromoteDue moves delayed jobs whose ready time has passed into the waiting
// set, re-scoring them with their stored priority.
func (q *Queue) PromoteDue(ctx context.Context) (int64, error) {
	var promoted int64
	err := q.br.Execute(ctx, func(ctx context.Context) error {
		n, err := promoteScript.Run(ctx, q.rdb,
			[]string{keyDelayed, keyWaiting, keyPriorities},
			q.clock.Now().UnixMilli(), 100,
		).Int64()
		if err != nil {
			return err
		}
		promoted = n
		return nil
	})
	return promoted, err
}

// Pop takes the highest-priority waiting job and leases it. Returns nil when
// the waiting set is empty.
func (q *Queue) Pop(ctx context.Context) (*Job, error) {
	leaseExpiry := q.clock.Now().Add(q.tunables.LeaseDuration).UnixMilli()
	var raw []interface{}
	err := q.br.Execute(ctx, func(ctx context.Context) error {
		res, err := popScript.Run(ctx, q.rdb,
			[]string{keyWaiting, keyActive, keyJobs},
			leaseExpiry,
		).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		raw, _ = res.([]interface{})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(raw) != 2 {
		return nil, nil
	}
	body, ok := raw[1].(string)
	if !ok {
		return nil, fmt.Errorf("unexpected pop reply %T", raw[1])
	}
	var job Job
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %v: %w", raw[0], err)
	}
	return &job, nil
}

// Ack removes a finished job and records it in the completed retention list.
func (q *Queue) Ack(ctx context.Context, job *Job) error {
	record, err := json.Marshal(CompletedJob{Job: *job, CompletedAt: q.clock.Now()})
	if err != nil {
		return fmt.Errorf("marshal completed record: %w", err)
	}
	return q.br.Execute(ctx, func(ctx context.Context) error {
		return ackScript.Run(ctx, q.rdb,
			[]string{keyActive, keyJobs, keyPriorities, keyCompleted},
			job.ID, record, q.tunables.CompletedRetention,
		).Err()
	})
}

// Retry releases the lease and reschedules the job after an exponential
// backoff delay. The caller has already bumped job.Attempt.
func (q *Queue) Retry(ctx context.Context, job *Job, cause error) error {
	job.LastError = cause.Error()
	delay := backoffDelay(q.tunables.BackoffBase, q.tunables.BackoffCap, job.Attempt)
	readyAt := q.clock.Now().Add(delay).UnixMilli()

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	q.metrics.IncJobRetry(job.Type)
	q.log.Warn("job rescheduled",
		zap.String("job_id", job.ID),
		zap.String("job_type", job.Type),
		zap.Int("attempt", job.Attempt),
		zap.Duration("delay", delay),
		zap.String("cause", cause.Error()),
	)
	return q.br.Execute(ctx, func(ctx context.Context) error {
		return retryScript.Run(ctx, q.rdb,
			[]string{keyActive, keyJobs, keyDelayed},
			job.ID, body, readyAt,
		).Err()
	})
}

// Fail retires a job whose attempts are exhausted, records it in the failed
// retention list and notifies the failure channel.
func (q *Queue) Fail(ctx context.Context, job *Job, cause error) error {
	job.LastError = cause.Error()
	failed := FailedJob{Job: *job, Error: cause.Error(), FailedAt: q.clock.Now()}
	record, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("marshal failed record: %w", err)
	}
	q.metrics.IncJobFailure(job.Type)
	q.log.Error("job failed permanently",
		zap.String("job_id", job.ID),
		zap.String("job_type", job.Type),
		zap.String("event_id", job.EventID),
		zap.Int("attempts", job.Attempt),
		zap.String("cause", cause.Error()),
	)
	err = q.br.Execute(ctx, func(ctx context.Context) error {
		return ackScript.Run(ctx, q.rdb,
			[]string{keyActive, keyJobs, keyPriorities, keyFailed},
			job.ID, record, q.tunables.FailedRetention,
		).Err()
	})
	if err != nil {
		return err
	}
	select {
	case q.failures <- failed:
	default:
	}
	return nil
}

// SweepStalled requeues active jobs whose lease expired, usually because a
// worker died mid-job. Requeued jobs keep their attempt count.
func (q *Queue) SweepStalled(ctx context.Context) (int64, error) {
	var requeued int64
	err := q.br.Execute(ctx, func(ctx context.Context) error {
		n, err := sweepScript.Run(ctx, q.rdb,
			[]string{keyActive, keyWaiting, keyPriorities},
			q.clock.Now().UnixMilli(),
		).Int64()
		if err != nil {
			return err
		}
		requeued = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	if requeued > 0 {
		q.metrics.AddStalledRequeues(float64(requeued))
		q.log.Warn("requeued stalled jobs", zap.Int64("count", requeued))
	}
	return requeued, nil
}

// Stats reports queue depth per state.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := q.br.Execute(ctx, func(ctx context.Context) error {
		pipe := q.rdb.Pipeline()
		waiting := pipe.ZCard(ctx, keyWaiting)
		delayed := pipe.ZCard(ctx, keyDelayed)
		active := pipe.HLen(ctx, keyActive)
		completed := pipe.LLen(ctx, keyCompleted)
		failed := pipe.LLen(ctx, keyFailed)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		s = Stats{
			Waiting:   waiting.Val(),
			Delayed:   delayed.Val(),
			Active:    active.Val(),
			Completed: completed.Val(),
			Failed:    failed.Val(),
		}
		return nil
	})
	return s, err
}

// ListFailed returns up to limit recent terminal failures, newest first.
func (q *Queue) ListFailed(ctx context.Context, limit int64) ([]FailedJob, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []string
	err := q.br.Execute(ctx, func(ctx context.Context) error {
		var err error
		rows, err = q.rdb.LRange(ctx, keyFailed, 0, limit-1).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]FailedJob, 0, len(rows))
	for _, row := range rows {
		var fj FailedJob
		if err := json.Unmarshal([]byte(row), &fj); err != nil {
			continue
		}
		out = append(out, fj)
	}
	return out, nil
}

// PurgeFailed clears the failed retention list and returns how many records
// were dropped.
func (q *Queue) PurgeFailed(ctx context.Context) (int64, error) {
	return q.purgeList(ctx, keyFailed)
}

// PurgeCompleted clears the completed retention list.
func (q *Queue) PurgeCompleted(ctx context.Context) (int64, error) {
	return q.purgeList(ctx, keyCompleted)
}

func (q *Queue) purgeList(ctx context.Context, key string) (int64, error) {
	var dropped int64
	err := q.br.Execute(ctx, func(ctx context.Context) error {
		n, err := q.rdb.LLen(ctx, key).Result()
		if err != nil {
			return err
		}
		if err := q.rdb.Del(ctx, key).Err(); err != nil {
			return err
		}
		dropped = n
		return nil
	})
	return dropped, err
}

// publishDepth refreshes the queue depth gauges.
func (q *Queue) publishDepth(ctx context.Context) {
	s, err := q.Stats(ctx)
	if err != nil {
		return
	}
	q.metrics.SetQueueDepth(metrics.JobStateWaiting, float64(s.Waiting))
	q.metrics.SetQueueDepth(metrics.JobStateDelayed, float64(s.Delayed))
	q.metrics.SetQueueDepth(metrics.JobStateActive, float64(s.Active))
	q.metrics.SetQueueDepth(metrics.JobStateCompleted, float64(s.Completed))
	q.metrics.SetQueueDepth(metrics.JobStateFailed, float64(s.Failed))
}

// backoffDelay doubles per attempt up to cap.
func backoffDelay(base, cap time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	d := base << uint(attempt)
	if d > cap || d <= 0 {
		return cap
	}
	return d
}
