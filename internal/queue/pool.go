package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/smallbiznis/hookrelay/internal/breaker"
	"github.com/smallbiznis/hookrelay/internal/observability/metrics"
)

// Handler processes one job. A nil return acks the job; an error schedules a
// retry until attempts run out.
type Handler func(ctx context.Context, job *Job) error

// Pool runs a fixed set of workers against the queue plus one maintenance
// loop that promotes delayed jobs and sweeps expired leases.
type Pool struct {
	queue   *Queue
	handler Handler
	log     *zap.Logger
	metrics *metrics.PipelineMetrics

	concurrency  int
	pollInterval time.Duration
	jobTimeout   time.Duration
	sweepEvery   time.Duration

	mu      sync.Mutex
	stop    chan struct{}
	wg      sync.WaitGroup
	started bool
}

func NewPool(q *Queue, handler Handler, log *zap.Logger) *Pool {
	t := q.tunables
	return &Pool{
		queue:        q,
		handler:      handler,
		log:          log.Named("worker"),
		metrics:      metrics.Pipeline(),
		concurrency:  t.Concurrency,
		pollInterval: t.PollInterval,
		jobTimeout:   t.JobTimeout,
		sweepEvery:   t.SweepInterval,
	}
}

func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.stop = make(chan struct{})
	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.work(i)
	}
	p.wg.Add(1)
	go p.maintain()
	p.log.Info("worker pool started", zap.Int("concurrency", p.concurrency))
}

// Stop tells workers to finish their in-flight job and exit. It returns once
// every worker has drained or ctx expires; an expired lease will hand any
// abandoned job to another worker later.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	close(p.stop)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.log.Info("worker pool drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker pool drain: %w", ctx.Err())
	}
}

func (p *Pool) work(n int) {
	defer p.wg.Done()
	log := p.log.With(zap.Int("worker", n))
	for {
		select {
		case <-p.stop:
			return
		default:
		}
		job, err := p.queue.Pop(context.Background())
		if err != nil {
			log.Warn("pop failed", zap.Error(err))
			p.sleep()
			continue
		}
		if job == nil {
			p.sleep()
			continue
		}
		p.run(log, job)
	}
}

func (p *Pool) run(log *zap.Logger, job *Job) {
	ctx, cancel := context.WithTimeout(context.Background(), p.jobTimeout)
	defer cancel()

	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		return p.handler(ctx, job)
	}()
	p.metrics.ObserveJobDuration(job.Type, time.Since(start).Seconds())

	if err == nil {
		if ackErr := p.queue.Ack(ctx, job); ackErr != nil {
			log.Warn("ack failed", zap.String("job_id", job.ID), zap.Error(ackErr))
		}
		return
	}

	// Transitions below need a live context even when the job one timed out.
	tctx, tcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer tcancel()

	// A rejection from an open breaker says nothing about the job itself.
	// Reschedule it without charging an attempt; the dependency's reset
	// timeout decides when work flows again.
	if errors.Is(err, breaker.ErrOpen) {
		if retryErr := p.queue.Retry(tctx, job, err); retryErr != nil {
			log.Error("retry scheduling failed", zap.String("job_id", job.ID), zap.Error(retryErr))
		}
		return
	}

	job.Attempt++
	if job.Attempt >= job.MaxAttempts {
		if failErr := p.queue.Fail(tctx, job, err); failErr != nil {
			log.Error("recording terminal failure failed", zap.String("job_id", job.ID), zap.Error(failErr))
		}
		return
	}
	if retryErr := p.queue.Retry(tctx, job, err); retryErr != nil {
		log.Error("retry scheduling failed", zap.String("job_id", job.ID), zap.Error(retryErr))
	}
}

func (p *Pool) sleep() {
	select {
	case <-p.stop:
	case <-time.After(p.pollInterval):
	}
}

func (p *Pool) maintain() {
	defer p.wg.Done()
	promote := time.NewTicker(p.pollInterval)
	sweep := time.NewTicker(p.sweepEvery)
	defer promote.Stop()
	defer sweep.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-promote.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if _, err := p.queue.PromoteDue(ctx); err != nil {
				p.log.Warn("promote failed", zap.Error(err))
			}
			cancel()
		case <-sweep.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if _, err := p.queue.SweepStalled(ctx); err != nil {
				p.log.Warn("stall sweep failed", zap.Error(err))
			}
			p.queue.publishDepth(ctx)
			cancel()
		}
	}
}
