package hooks

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Skryldev/imgconv/core"
)

// ── In-memory metrics collector ───────────────────────────────────────────────

// InMemoryMetrics accumulates metrics atomically; safe for concurrent use.
type InMemoryMetrics struct {
	mu sync.RWMutex

	stepDurationsMs map[string]int64 // cumulative ms per step
	stepCalls       map[string]int64 // call count per step
	stepErrors      map[string]int64
	errorKinds      map[string]int64
	jobStates       map[core.JobState]int64
	cacheHits       map[string]int64
	cacheMisses     map[string]int64

	totalThroughputB int64
}

// NewInMemoryMetrics creates an empty metrics store.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		stepDurationsMs: make(map[string]int64),
		stepCalls:       make(map[string]int64),
		stepErrors:      make(map[string]int64),
		errorKinds:      make(map[string]int64),
		jobStates:       make(map[core.JobState]int64),
		cacheHits:       make(map[string]int64),
		cacheMisses:     make(map[string]int64),
	}
}

func (m *InMemoryMetrics) RecordProcessingTime(stepName string, d time.Duration) {
	m.mu.Lock()
	m.stepDurationsMs[stepName] += d.Milliseconds()
	m.stepCalls[stepName]++
	m.mu.Unlock()
}

func (m *InMemoryMetrics) RecordThroughput(bytes int64) {
	atomic.AddInt64(&m.totalThroughputB, bytes)
}

func (m *InMemoryMetrics) RecordError(stepName string, kind string) {
	m.mu.Lock()
	m.stepErrors[stepName]++
	m.errorKinds[kind]++
	m.mu.Unlock()
}

func (m *InMemoryMetrics) RecordJobState(state core.JobState) {
	m.mu.Lock()
	m.jobStates[state]++
	m.mu.Unlock()
}

func (m *InMemoryMetrics) RecordCacheLookup(tier string, hit bool) {
	m.mu.Lock()
	if hit {
		m.cacheHits[tier]++
	} else {
		m.cacheMisses[tier]++
	}
	m.mu.Unlock()
}

// Snapshot returns a copy of current metrics.
func (m *InMemoryMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return MetricsSnapshot{
		StepDurationsMs:  copyMap(m.stepDurationsMs),
		StepCalls:        copyMap(m.stepCalls),
		StepErrors:       copyMap(m.stepErrors),
		ErrorKinds:       copyMap(m.errorKinds),
		JobStates:        copyMap(m.jobStates),
		CacheHits:        copyMap(m.cacheHits),
		CacheMisses:      copyMap(m.cacheMisses),
		TotalThroughputB: atomic.LoadInt64(&m.totalThroughputB),
	}
}

func copyMap[K comparable](src map[K]int64) map[K]int64 {
	out := make(map[K]int64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// MetricsSnapshot is an immutable point-in-time copy of metrics.
type MetricsSnapshot struct {
	StepDurationsMs  map[string]int64
	StepCalls        map[string]int64
	StepErrors       map[string]int64
	ErrorKinds       map[string]int64
	JobStates        map[core.JobState]int64
	CacheHits        map[string]int64
	CacheMisses      map[string]int64
	TotalThroughputB int64
}

var _ core.MetricsCollector = (*InMemoryMetrics)(nil)
