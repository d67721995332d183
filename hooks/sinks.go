package hooks

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Skryldev/imgconv/core"
)

// ── Logging sink ──────────────────────────────────────────────────────────────

// LoggingSink logs terminal job events and a throttled batch progress line.
// The last event of a batch always logs its summary.
type LoggingSink struct {
	logger   core.Logger
	interval time.Duration

	mu      sync.Mutex
	batches map[string]*rate.Sometimes
}

// NewLoggingSink logs progress at most once per interval for each batch.
func NewLoggingSink(l core.Logger, interval time.Duration) *LoggingSink {
	return &LoggingSink{logger: l, interval: interval, batches: make(map[string]*rate.Sometimes)}
}

func (s *LoggingSink) Publish(ev core.Event) {
	switch ev.State {
	case core.StateSucceeded:
		fields := []interface{}{
			"job", ev.JobID, "source", ev.Source, "output", ev.OutputPath,
			"bytes_in", ev.BytesIn, "bytes_out", ev.BytesOut, "saved", ev.Saved(),
		}
		if ev.Quality > 0 {
			fields = append(fields, "quality", ev.Quality)
		}
		for _, n := range ev.Notices {
			fields = append(fields, string(n.Kind), n.Message)
		}
		s.logger.Info("job.succeeded", fields...)
	case core.StateFailed:
		msg := ""
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		s.logger.Warn("job.failed", "job", ev.JobID, "source", ev.Source, "kind", string(ev.Kind), "error", msg)
	case core.StateCancelled:
		s.logger.Info("job.cancelled", "job", ev.JobID, "source", ev.Source)
	default:
		s.logger.Debug("job."+string(ev.State), "job", ev.JobID, "source", ev.Source)
		return
	}

	c := ev.Counts
	if c.Complete() {
		s.forget(ev.BatchID)
		s.logger.Info("batch.finished", "batch", ev.BatchID,
			"total", c.Total, "succeeded", c.Succeeded, "failed", c.Failed, "cancelled", c.Cancelled)
		return
	}
	s.throttle(ev.BatchID).Do(func() {
		s.logger.Info("batch.progress", "batch", ev.BatchID, "done", c.Done(), "total", c.Total)
	})
}

func (s *LoggingSink) throttle(batchID string) *rate.Sometimes {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.batches[batchID]
	if !ok {
		st = &rate.Sometimes{First: 1, Interval: s.interval}
		s.batches[batchID] = st
	}
	return st
}

func (s *LoggingSink) forget(batchID string) {
	s.mu.Lock()
	delete(s.batches, batchID)
	s.mu.Unlock()
}

// ── Metrics sink ──────────────────────────────────────────────────────────────

// MetricsSink records job-level failures, including those raised outside a
// pipeline step such as timeouts and runner panics.
type MetricsSink struct {
	collector core.MetricsCollector
}

// NewMetricsSink creates a MetricsSink.
func NewMetricsSink(c core.MetricsCollector) *MetricsSink { return &MetricsSink{collector: c} }

func (s *MetricsSink) Publish(ev core.Event) {
	if ev.State == core.StateFailed {
		s.collector.RecordError("job", string(ev.Kind))
	}
}

var (
	_ core.Sink = (*LoggingSink)(nil)
	_ core.Sink = (*MetricsSink)(nil)
)
