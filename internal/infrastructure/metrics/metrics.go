// Package metrics wires the teacher's hand-rolled MetricsCollector
// (internal/infrastructure/monitoring/metrics.go: per-workflow,
// per-node, and AI-usage counters behind a mutex) to a real
// prometheus/client_golang registry, filling the EngineConfig.EnableMetrics
// flag the teacher's engine.go carries but never wires to a collector.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/smilemakc/codegen-orchestrator/internal/domain"
)

// Collector exposes the counters and histograms spec.md's testable
// properties imply: job outcomes by terminal status, iteration counts,
// per-model selection counts, per-model circuit breaker state, and
// validation score distribution.
type Collector struct {
	jobsTotal          *prometheus.CounterVec
	iterationsPerJob   prometheus.Histogram
	modelSelections    *prometheus.CounterVec
	modelOutcomes      *prometheus.CounterVec
	validationScore    prometheus.Histogram
	breakerOpen        *prometheus.GaugeVec
	attemptDuration    *prometheus.HistogramVec
}

// NewCollector registers every metric against reg. Pass
// prometheus.NewRegistry() for isolated tests, or
// prometheus.DefaultRegisterer-wrapped registry in production.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		jobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Name:      "jobs_total",
			Help:      "Jobs reaching a terminal status, by status.",
		}, []string{"status"}),
		iterationsPerJob: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "orchestrator",
			Name:      "job_iterations",
			Help:      "Number of generate-validate-fix iterations a job took before reaching a terminal status.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		modelSelections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Name:      "model_selections_total",
			Help:      "Model selection decisions, by model name.",
		}, []string{"model"}),
		modelOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Name:      "attempt_outcomes_total",
			Help:      "Attempt outcomes, by model and outcome.",
		}, []string{"model", "outcome"}),
		validationScore: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "orchestrator",
			Name:      "validation_score",
			Help:      "Validation score distribution across all attempts, on the 0-10 scale.",
			Buckets:   prometheus.LinearBuckets(0, 1, 11),
		}),
		breakerOpen: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "orchestrator",
			Name:      "model_circuit_breaker_open",
			Help:      "1 if the named model's circuit breaker is open, else 0.",
		}, []string{"model"}),
		attemptDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orchestrator",
			Name:      "attempt_duration_seconds",
			Help:      "Wall-clock duration of a single generate-validate attempt.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"model"}),
	}
}

// RecordJobTerminal increments the job-outcome counter for status.
func (c *Collector) RecordJobTerminal(status domain.JobStatus) {
	c.jobsTotal.WithLabelValues(status.String()).Inc()
}

// RecordIterations observes how many iterations a job took.
func (c *Collector) RecordIterations(n int) {
	c.iterationsPerJob.Observe(float64(n))
}

// RecordSelection increments the selection counter for model.
func (c *Collector) RecordSelection(model string) {
	c.modelSelections.WithLabelValues(model).Inc()
}

// RecordAttempt observes one attempt's outcome, score, and duration.
func (c *Collector) RecordAttempt(a domain.Attempt) {
	c.modelOutcomes.WithLabelValues(a.Model, string(a.Outcome)).Inc()
	c.validationScore.Observe(a.Result.Score)
	c.attemptDuration.WithLabelValues(a.Model).Observe(a.Duration().Seconds())
}

// SetBreakerOpen reflects a model's circuit breaker state as a gauge.
func (c *Collector) SetBreakerOpen(model string, open bool) {
	v := 0.0
	if open {
		v = 1.0
	}
	c.breakerOpen.WithLabelValues(model).Set(v)
}

// Timer returns a func that, when called, observes the elapsed time
// since Timer was invoked against attemptDuration for model. Mirrors the
// teacher's latency-measurement call sites in node_executors.go
// (time.Since(start) around each backend call).
func (c *Collector) Timer(model string) func() {
	start := time.Now()
	return func() {
		c.attemptDuration.WithLabelValues(model).Observe(time.Since(start).Seconds())
	}
}
