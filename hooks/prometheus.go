package hooks

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Skryldev/imgconv/core"
)

// PrometheusMetrics exports the collector observations as Prometheus
// series.
type PrometheusMetrics struct {
	stepDuration *prometheus.HistogramVec
	outputBytes  prometheus.Counter
	errors       *prometheus.CounterVec
	jobs         *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
}

// NewPrometheusMetrics creates the collectors and registers them on reg.
// A nil reg means prometheus.DefaultRegisterer.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &PrometheusMetrics{
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "imgconv_step_duration_seconds",
				Help:    "Duration of conversion pipeline steps",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
			},
			[]string{"step"},
		),
		outputBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "imgconv_output_bytes_total",
				Help: "Total bytes written by successful conversions",
			},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imgconv_step_errors_total",
				Help: "Failed pipeline steps by error kind",
			},
			[]string{"step", "kind"},
		),
		jobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imgconv_job_transitions_total",
				Help: "Job state transitions",
			},
			[]string{"state"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imgconv_cache_lookups_total",
				Help: "Preview cache lookups by tier and result",
			},
			[]string{"tier", "result"}, // result: "hit", "miss"
		),
	}
	reg.MustRegister(m.stepDuration, m.outputBytes, m.errors, m.jobs, m.cacheLookups)
	return m
}

func (m *PrometheusMetrics) RecordProcessingTime(stepName string, d time.Duration) {
	m.stepDuration.WithLabelValues(stepName).Observe(d.Seconds())
}

func (m *PrometheusMetrics) RecordThroughput(bytes int64) {
	m.outputBytes.Add(float64(bytes))
}

func (m *PrometheusMetrics) RecordError(stepName string, kind string) {
	m.errors.WithLabelValues(stepName, kind).Inc()
}

func (m *PrometheusMetrics) RecordJobState(state core.JobState) {
	m.jobs.WithLabelValues(string(state)).Inc()
}

func (m *PrometheusMetrics) RecordCacheLookup(tier string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(tier, result).Inc()
}

var _ core.MetricsCollector = (*PrometheusMetrics)(nil)
