// Package metrics instruments the build pipeline, the rate limiters and the graph
// store with Prometheus metrics, the domain rework of the teacher's
// tracing.Metrics/NewMetrics(namespace) idiom.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector exposed on /metrics.
type Metrics struct {
	TasksTotal         *prometheus.CounterVec
	TaskDuration       *prometheus.HistogramVec
	PipelineStage      *prometheus.HistogramVec
	StateStatus        *prometheus.GaugeVec
	RateLimiterWaits   *prometheus.CounterVec
	RateLimiterWaitDur *prometheus.HistogramVec
	RetryAttempts      *prometheus.CounterVec
	GraphWriteNodes    *prometheus.CounterVec
	GraphWriteEdges    *prometheus.CounterVec
	GraphQueryLatency  *prometheus.HistogramVec
	CacheHits          *prometheus.CounterVec
}

// New creates and registers every collector under namespace (defaulting to
// "kgraphsvc" when empty).
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "kgraphsvc"
	}

	return &Metrics{
		TasksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_total",
				Help:      "Total number of build/update tasks started, by task type and outcome",
			},
			[]string{"task_type", "outcome"},
		),
		TaskDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Duration of a full build or incremental update task",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"task_type", "outcome"},
		),
		PipelineStage: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_stage_duration_seconds",
				Help:      "Duration of a single build pipeline stage",
				Buckets:   []float64{.1, .5, 1, 5, 15, 30, 60, 300},
			},
			[]string{"task_type", "stage"},
		),
		StateStatus: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "state_status",
				Help:      "1 if the KGState singleton currently reports this status, 0 otherwise",
			},
			[]string{"status"},
		),
		RateLimiterWaits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limiter_waits_total",
				Help:      "Total number of token-bucket limiter acquisitions, whether or not they blocked",
			},
			[]string{"limiter"},
		),
		RateLimiterWaitDur: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rate_limiter_wait_seconds",
				Help:      "Time spent waiting for the token-bucket limiter to admit a call",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"limiter"},
		),
		RetryAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Retry executor events against the LLM/embeddings API: outcome=retried per retry attempt, success/failure per finished call",
			},
			[]string{"client", "outcome"},
		),
		GraphWriteNodes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "graph_write_entities_total",
				Help:      "Total number of entities written to a graph version",
			},
			[]string{"task_type"},
		),
		GraphWriteEdges: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "graph_write_relationships_total",
				Help:      "Total number of relationships written to a graph version",
			},
			[]string{"task_type"},
		),
		GraphQueryLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "graph_query_duration_seconds",
				Help:      "Duration of a /kg/query graph projection",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"cache"},
		),
		CacheHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "query_cache_results_total",
				Help:      "Total number of /kg/query responses served by cache outcome",
			},
			[]string{"outcome"},
		),
	}
}

// ObserveTask records a finished task's outcome and wall-clock duration.
func (m *Metrics) ObserveTask(taskType, outcome string, duration time.Duration) {
	m.TasksTotal.WithLabelValues(taskType, outcome).Inc()
	m.TaskDuration.WithLabelValues(taskType, outcome).Observe(duration.Seconds())
}

// ObserveStage records how long a single checkpointed pipeline stage took.
func (m *Metrics) ObserveStage(taskType, stage string, duration time.Duration) {
	m.PipelineStage.WithLabelValues(taskType, stage).Observe(duration.Seconds())
}

// SetStateStatus flips the state-status gauge so exactly one status label reads 1.
func (m *Metrics) SetStateStatus(status string, all []string) {
	for _, s := range all {
		value := 0.0
		if s == status {
			value = 1.0
		}
		m.StateStatus.WithLabelValues(s).Set(value)
	}
}

// ObserveRateLimiterWait records one limiter acquisition and the time it spent
// waiting (zero or near zero when the bucket admitted the call at once).
func (m *Metrics) ObserveRateLimiterWait(limiter string, wait time.Duration) {
	m.RateLimiterWaits.WithLabelValues(limiter).Inc()
	m.RateLimiterWaitDur.WithLabelValues(limiter).Observe(wait.Seconds())
}

// ObserveRetry records one retry-executor event for an LLM or embeddings client:
// a retry attempt (outcome "retried") or a finished call ("success"/"failure").
func (m *Metrics) ObserveRetry(client, outcome string) {
	m.RetryAttempts.WithLabelValues(client, outcome).Inc()
}

// ObserveGraphWrite records the size of a graph snapshot written to a version.
func (m *Metrics) ObserveGraphWrite(taskType string, entities, relationships int) {
	m.GraphWriteNodes.WithLabelValues(taskType).Add(float64(entities))
	m.GraphWriteEdges.WithLabelValues(taskType).Add(float64(relationships))
}

// ObserveQuery records a /kg/query call's latency, tagged by whether it was served
// from cache.
func (m *Metrics) ObserveQuery(cacheOutcome string, duration time.Duration) {
	m.GraphQueryLatency.WithLabelValues(cacheOutcome).Observe(duration.Seconds())
	m.CacheHits.WithLabelValues(cacheOutcome).Inc()
}
