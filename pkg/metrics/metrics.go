package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsRegistry manages application metrics
type MetricsRegistry struct {
	mu      sync.RWMutex
	enabled bool
	metrics map[string]Metric
	labels  map[string]string
}

// Metric represents a single metric
type Metric interface {
	GetName() string
	GetType() string
	GetValue() interface{}
	GetHelp() string
	GetLabels() map[string]string
}

// Counter represents a monotonically increasing metric
type Counter struct {
	name   string
	help   string
	value  int64
	labels map[string]string
}

// Gauge represents a metric that can go up and down
type Gauge struct {
	name   string
	help   string
	value  int64
	labels map[string]string
}

// Histogram represents a metric with buckets for distribution
type Histogram struct {
	name       string
	help       string
	buckets    []float64
	counts     []int64
	sum        float64
	totalCount int64
	labels     map[string]string
	mu         sync.RWMutex
}

var (
	defaultRegistry *MetricsRegistry
	once            sync.Once
)

// GetRegistry returns the default metrics registry
func GetRegistry() *MetricsRegistry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry
func NewRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		enabled: true,
		metrics: make(map[string]Metric),
		labels:  make(map[string]string),
	}
}

// SetEnabled enables or disables metrics collection
func (r *MetricsRegistry) SetEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = enabled
}

// IsEnabled returns whether metrics collection is enabled
func (r *MetricsRegistry) IsEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled
}

// AddGlobalLabel adds a label that will be applied to all metrics created afterwards
func (r *MetricsRegistry) AddGlobalLabel(key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.labels[key] = value
}

// metricKey identifies a metric by name and label set.
func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", k, labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

func (r *MetricsRegistry) mergeLabels(labels map[string]string) map[string]string {
	merged := make(map[string]string, len(labels)+len(r.labels))
	for k, v := range r.labels {
		merged[k] = v
	}
	for k, v := range labels {
		merged[k] = v
	}
	return merged
}

// NewCounter returns the counter registered under name and labels, creating it on first use.
func (r *MetricsRegistry) NewCounter(name, help string, labels map[string]string) *Counter {
	if !r.IsEnabled() {
		return &Counter{name: name, help: help, labels: labels}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	labels = r.mergeLabels(labels)
	key := metricKey(name, labels)
	if existing, ok := r.metrics[key].(*Counter); ok {
		return existing
	}

	counter := &Counter{name: name, help: help, labels: labels}
	r.metrics[key] = counter
	return counter
}

// NewGauge returns the gauge registered under name and labels, creating it on first use.
func (r *MetricsRegistry) NewGauge(name, help string, labels map[string]string) *Gauge {
	if !r.IsEnabled() {
		return &Gauge{name: name, help: help, labels: labels}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	labels = r.mergeLabels(labels)
	key := metricKey(name, labels)
	if existing, ok := r.metrics[key].(*Gauge); ok {
		return existing
	}

	gauge := &Gauge{name: name, help: help, labels: labels}
	r.metrics[key] = gauge
	return gauge
}

// NewHistogram returns the histogram registered under name and labels, creating it on first use.
func (r *MetricsRegistry) NewHistogram(name, help string, buckets []float64, labels map[string]string) *Histogram {
	if buckets == nil {
		buckets = []float64{0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0}
	}
	if !r.IsEnabled() {
		return &Histogram{name: name, help: help, buckets: buckets, counts: make([]int64, len(buckets)), labels: labels}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	labels = r.mergeLabels(labels)
	key := metricKey(name, labels)
	if existing, ok := r.metrics[key].(*Histogram); ok {
		return existing
	}

	histogram := &Histogram{
		name:    name,
		help:    help,
		buckets: buckets,
		counts:  make([]int64, len(buckets)),
		labels:  labels,
	}
	r.metrics[key] = histogram
	return histogram
}

// GetMetrics returns all registered metrics keyed by name and labels
func (r *MetricsRegistry) GetMetrics() map[string]Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]Metric, len(r.metrics))
	for k, v := range r.metrics {
		result[k] = v
	}
	return result
}

// Inc increments the counter by 1
func (c *Counter) Inc() {
	atomic.AddInt64(&c.value, 1)
}

// Add adds the given value to the counter. Negative values are ignored.
func (c *Counter) Add(value int64) {
	if value < 0 {
		return
	}
	atomic.AddInt64(&c.value, value)
}

// Value returns the current count
func (c *Counter) Value() int64 { return atomic.LoadInt64(&c.value) }

func (c *Counter) GetName() string              { return c.name }
func (c *Counter) GetType() string              { return "counter" }
func (c *Counter) GetValue() interface{}        { return c.Value() }
func (c *Counter) GetHelp() string              { return c.help }
func (c *Counter) GetLabels() map[string]string { return c.labels }

// Set sets the gauge to value
func (g *Gauge) Set(value int64) { atomic.StoreInt64(&g.value, value) }

// Inc increments the gauge by 1
func (g *Gauge) Inc() { atomic.AddInt64(&g.value, 1) }

// Dec decrements the gauge by 1
func (g *Gauge) Dec() { atomic.AddInt64(&g.value, -1) }

// Value returns the current gauge value
func (g *Gauge) Value() int64 { return atomic.LoadInt64(&g.value) }

func (g *Gauge) GetName() string              { return g.name }
func (g *Gauge) GetType() string              { return "gauge" }
func (g *Gauge) GetValue() interface{}        { return g.Value() }
func (g *Gauge) GetHelp() string              { return g.help }
func (g *Gauge) GetLabels() map[string]string { return g.labels }

// Observe adds an observation to the histogram
func (h *Histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.totalCount++
	h.sum += value
	for i, bucket := range h.buckets {
		if value <= bucket {
			h.counts[i]++
		}
	}
}

// ObserveDuration records the seconds elapsed since start.
func (h *Histogram) ObserveDuration(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

func (h *Histogram) GetName() string { return h.name }
func (h *Histogram) GetType() string { return "histogram" }
func (h *Histogram) GetHelp() string { return h.help }

// GetValue returns a snapshot of the bucket counts
func (h *Histogram) GetValue() interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	counts := make([]int64, len(h.counts))
	copy(counts, h.counts)
	return map[string]interface{}{
		"buckets":     h.buckets,
		"counts":      counts,
		"sum":         h.sum,
		"total_count": h.totalCount,
	}
}

func (h *Histogram) GetLabels() map[string]string { return h.labels }

// HTTPMetricsHandler serves a JSON snapshot of the registry
func HTTPMetricsHandler(registry *MetricsRegistry) http.HandlerFunc {
	if registry == nil {
		registry = GetRegistry()
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		snapshot := make(map[string]interface{})
		for key, metric := range registry.GetMetrics() {
			snapshot[key] = map[string]interface{}{
				"name":   metric.GetName(),
				"type":   metric.GetType(),
				"help":   metric.GetHelp(),
				"value":  metric.GetValue(),
				"labels": metric.GetLabels(),
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(map[string]interface{}{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"metrics":   snapshot,
		}); err != nil {
			http.Error(w, fmt.Sprintf("Failed to encode metrics: %v", err), http.StatusInternalServerError)
		}
	}
}
