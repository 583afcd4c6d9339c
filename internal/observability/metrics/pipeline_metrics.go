package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	JobStateWaiting   = "waiting"
	JobStateDelayed   = "delayed"
	JobStateActive    = "active"
	JobStateCompleted = "completed"
	JobStateFailed    = "failed"
)

// Config carries the constant labels stamped on every instrument.
type Config struct {
	ServiceName string
	Environment string
}

// PipelineMetrics captures webhook pipeline health signals: queue depth by
// state, breaker state per dependency, processed events by type.
type PipelineMetrics struct {
	queueDepth      *prometheus.GaugeVec
	breakerState    *prometheus.GaugeVec
	eventsProcessed *prometheus.CounterVec
	eventsUnknown   prometheus.Counter
	jobRetries      *prometheus.CounterVec
	jobFailures     *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	stalledRequeues prometheus.Counter
	ingestOutcomes  *prometheus.CounterVec
}

var (
	pipelineMetricsOnce sync.Once
	pipelineMetrics     *PipelineMetrics
)

// Pipeline returns the singleton pipeline metrics registry.
func Pipeline() *PipelineMetrics {
	return PipelineWithConfig(Config{})
}

// PipelineWithConfig returns the singleton pipeline metrics registry using config labels.
func PipelineWithConfig(cfg Config) *PipelineMetrics {
	pipelineMetricsOnce.Do(func() {
		pipelineMetrics = newPipelineMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return pipelineMetrics
}

// ResetPipelineMetricsForTest resets the pipeline metrics singleton for tests.
func ResetPipelineMetricsForTest() {
	pipelineMetricsOnce = sync.Once{}
	pipelineMetrics = nil
}

func newPipelineMetrics(registerer prometheus.Registerer, cfg Config) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "hookrelay"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &PipelineMetrics{
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "hookrelay_queue_depth",
			Help:        "Jobs per queue state.",
			ConstLabels: constLabels,
		}, []string{"state"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "hookrelay_breaker_state",
			Help:        "Circuit breaker state per dependency (0 closed, 1 open, 2 half-open).",
			ConstLabels: constLabels,
		}, []string{"dependency"}),
		eventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "hookrelay_events_processed_total",
			Help:        "Webhook events processed by event type.",
			ConstLabels: constLabels,
		}, []string{"event_type"}),
		eventsUnknown: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "hookrelay_events_unknown_total",
			Help:        "Webhook events with an unmapped event type, acknowledged without processing.",
			ConstLabels: constLabels,
		}),
		jobRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "hookrelay_job_retries_total",
			Help:        "Job retries scheduled, by job type.",
			ConstLabels: constLabels,
		}, []string{"job_type"}),
		jobFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "hookrelay_job_failures_total",
			Help:        "Jobs marked failed-terminal, by job type.",
			ConstLabels: constLabels,
		}, []string{"job_type"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "hookrelay_job_duration_seconds",
			Help:        "Job execution duration by job type.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"job_type"}),
		stalledRequeues: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "hookrelay_stalled_requeues_total",
			Help:        "Jobs returned to waiting by the stall sweep.",
			ConstLabels: constLabels,
		}),
		ingestOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "hookrelay_ingest_total",
			Help:        "Webhook ingest outcomes.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
	}

	registerer.MustRegister(
		m.queueDepth,
		m.breakerState,
		m.eventsProcessed,
		m.eventsUnknown,
		m.jobRetries,
		m.jobFailures,
		m.jobDuration,
		m.stalledRequeues,
		m.ingestOutcomes,
	)

	return m
}

func (m *PipelineMetrics) SetQueueDepth(state string, depth float64) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(state).Set(depth)
}

func (m *PipelineMetrics) SetBreakerState(dependency string, state float64) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(dependency).Set(state)
}

func (m *PipelineMetrics) IncEventProcessed(eventType string) {
	if m == nil {
		return
	}
	m.eventsProcessed.WithLabelValues(eventType).Inc()
}

func (m *PipelineMetrics) IncEventUnknown() {
	if m == nil {
		return
	}
	m.eventsUnknown.Inc()
}

func (m *PipelineMetrics) IncJobRetry(jobType string) {
	if m == nil {
		return
	}
	m.jobRetries.WithLabelValues(jobType).Inc()
}

func (m *PipelineMetrics) IncJobFailure(jobType string) {
	if m == nil {
		return
	}
	m.jobFailures.WithLabelValues(jobType).Inc()
}

func (m *PipelineMetrics) ObserveJobDuration(jobType string, seconds float64) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(jobType).Observe(seconds)
}

func (m *PipelineMetrics) AddStalledRequeues(n float64) {
	if m == nil {
		return
	}
	m.stalledRequeues.Add(n)
}

func (m *PipelineMetrics) IncIngest(outcome string) {
	if m == nil {
		return
	}
	m.ingestOutcomes.WithLabelValues(outcome).Inc()
}
