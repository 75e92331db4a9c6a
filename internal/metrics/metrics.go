// Package metrics defines the instrumentation contract the connector core emits
// against. The core only depends on the Recorder interface; host applications
// plug in their own backend the same way they plug in a logger.
package metrics

import "sync"

// Metric names emitted by the core.
const (
	CounterHTTPRequests           = "http_requests"
	CounterCacheHits              = "cache_hits"
	CounterErrors                 = "errors"
	CounterRefreshAttempts        = "refresh_attempts"
	CounterRefreshFailures        = "refresh_failures"
	CounterRefreshDedupLocal      = "refresh_dedup_local"
	CounterRefreshDedupDistrib    = "refresh_dedup_distributed"
	CounterConnections            = "connections"
	HistogramRequestDuration      = "request_duration_ms"
	HistogramRefreshDuration      = "refresh_duration_ms"
	GaugeRateLimitQueueDepth      = "rate_limit_queue_depth"
	GaugeItemsFetched             = "items_fetched"
)

// Tag is a key-value dimension attached to a metric observation
type Tag struct {
	Key   string
	Value string
}

// Provider builds the tag every per-provider metric carries
func Provider(name string) Tag {
	return Tag{Key: "provider", Value: name}
}

// Recorder receives metric observations from the core
type Recorder interface {
	IncrCounter(name string, delta int64, tags ...Tag)
	ObserveHistogram(name string, value float64, tags ...Tag)
	AddGauge(name string, delta float64, tags ...Tag)
	SetGauge(name string, value float64, tags ...Tag)
}

// NoopRecorder discards all observations
type NoopRecorder struct{}

var _ Recorder = (*NoopRecorder)(nil)

func (NoopRecorder) IncrCounter(string, int64, ...Tag)         {}
func (NoopRecorder) ObserveHistogram(string, float64, ...Tag)  {}
func (NoopRecorder) AddGauge(string, float64, ...Tag)          {}
func (NoopRecorder) SetGauge(string, float64, ...Tag)          {}

// MemoryRecorder keeps observations in memory. It backs tests and is the
// default recorder so queue-depth gauges always have somewhere to land.
type MemoryRecorder struct {
	mu         sync.RWMutex
	counters   map[string]int64
	gauges     map[string]float64
	histograms map[string][]float64
}

var _ Recorder = (*MemoryRecorder)(nil)

// NewMemoryRecorder creates an empty in-memory recorder
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{
		counters:   make(map[string]int64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
	}
}

func metricKey(name string, tags []Tag) string {
	key := name
	for _, tag := range tags {
		key += "|" + tag.Key + "=" + tag.Value
	}
	return key
}

// IncrCounter adds delta to the named counter
func (m *MemoryRecorder) IncrCounter(name string, delta int64, tags ...Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[metricKey(name, tags)] += delta
}

// ObserveHistogram appends an observation to the named histogram
func (m *MemoryRecorder) ObserveHistogram(name string, value float64, tags ...Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := metricKey(name, tags)
	m.histograms[key] = append(m.histograms[key], value)
}

// AddGauge adjusts the named gauge by delta
func (m *MemoryRecorder) AddGauge(name string, delta float64, tags ...Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[metricKey(name, tags)] += delta
}

// SetGauge sets the named gauge to value
func (m *MemoryRecorder) SetGauge(name string, value float64, tags ...Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[metricKey(name, tags)] = value
}

// Counter returns the current value of a counter
func (m *MemoryRecorder) Counter(name string, tags ...Tag) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[metricKey(name, tags)]
}

// Gauge returns the current value of a gauge
func (m *MemoryRecorder) Gauge(name string, tags ...Tag) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gauges[metricKey(name, tags)]
}

// Histogram returns the recorded observations for a histogram
func (m *MemoryRecorder) Histogram(name string, tags ...Tag) []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obs := m.histograms[metricKey(name, tags)]
	out := make([]float64, len(obs))
	copy(out, obs)
	return out
}
