// Package metrics provides a lightweight, Prometheus-compatible metrics
// collector for agentdesk. It outputs text/plain in Prometheus exposition format.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the global metrics collector.
var Collector = NewMetricsCollector()

// MetricsCollector aggregates counters, gauges, and histograms.
type MetricsCollector struct {
	counters   sync.Map // name -> *Counter
	gauges     sync.Map // name -> *Gauge
	histograms sync.Map // name -> *Histogram
	startTime  time.Time
}

// NewMetricsCollector creates a new collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add increments the counter by n.
func (c *Counter) Add(n int64) { c.value.Add(n) }

// Value returns the current counter value.
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v int64) { g.value.Store(v) }

// Inc increments the gauge by 1.
func (g *Gauge) Inc() { g.value.Add(1) }

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() { g.value.Add(-1) }

// Value returns the current gauge value.
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of values.
type Histogram struct {
	name    string
	help    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// --- Registration helpers ---

// Counter returns or creates a counter with the given name.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	key := name + "{" + labels + "}"
	if v, ok := c.counters.Load(key); ok {
		return v.(*Counter)
	}
	ctr := &Counter{name: name, help: help, labels: labels}
	actual, _ := c.counters.LoadOrStore(key, ctr)
	return actual.(*Counter)
}

// Gauge returns or creates a gauge with the given name.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	key := name + "{" + labels + "}"
	if v, ok := c.gauges.Load(key); ok {
		return v.(*Gauge)
	}
	g := &Gauge{name: name, help: help, labels: labels}
	actual, _ := c.gauges.LoadOrStore(key, g)
	return actual.(*Gauge)
}

// Histogram returns or creates a histogram with the given name.
func (c *MetricsCollector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	key := name + "{" + labels + "}"
	if v, ok := c.histograms.Load(key); ok {
		return v.(*Histogram)
	}
	sort.Float64s(buckets)
	hb := make([]histBucket, len(buckets))
	for i, b := range buckets {
		hb[i] = histBucket{le: b}
	}
	h := &Histogram{name: name, help: help, labels: labels, buckets: hb}
	actual, _ := c.histograms.LoadOrStore(key, h)
	return actual.(*Histogram)
}

// --- Prometheus text rendering ---

// Handler returns an http.HandlerFunc that renders metrics in Prometheus text format.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, c.Render())
	}
}

// Render returns the exposition text. Series are sorted by name then labels.
func (c *MetricsCollector) Render() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# HELP agentdesk_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&sb, "# TYPE agentdesk_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "agentdesk_uptime_seconds %d\n\n", int64(c.Uptime().Seconds()))

	helpWritten := make(map[string]bool)
	for _, ctr := range sortedSeries[*Counter](&c.counters) {
		if !helpWritten[ctr.name] {
			fmt.Fprintf(&sb, "# HELP %s %s\n", ctr.name, ctr.help)
			fmt.Fprintf(&sb, "# TYPE %s counter\n", ctr.name)
			helpWritten[ctr.name] = true
		}
		fmt.Fprintf(&sb, "%s %d\n", series(ctr.name, ctr.labels), ctr.Value())
	}

	helpWritten = make(map[string]bool)
	for _, g := range sortedSeries[*Gauge](&c.gauges) {
		if !helpWritten[g.name] {
			fmt.Fprintf(&sb, "# HELP %s %s\n", g.name, g.help)
			fmt.Fprintf(&sb, "# TYPE %s gauge\n", g.name)
			helpWritten[g.name] = true
		}
		fmt.Fprintf(&sb, "%s %d\n", series(g.name, g.labels), g.Value())
	}

	helpWritten = make(map[string]bool)
	for _, h := range sortedSeries[*Histogram](&c.histograms) {
		h.mu.Lock()
		if !helpWritten[h.name] {
			fmt.Fprintf(&sb, "# HELP %s %s\n", h.name, h.help)
			fmt.Fprintf(&sb, "# TYPE %s histogram\n", h.name)
			helpWritten[h.name] = true
		}
		prefix := h.name + "_bucket{"
		if h.labels != "" {
			prefix += h.labels + ","
		}
		for _, b := range h.buckets {
			le := fmt.Sprintf("%g", b.le)
			if math.IsInf(b.le, 1) {
				le = "+Inf"
			}
			fmt.Fprintf(&sb, "%sle=\"%s\"} %d\n", prefix, le, b.count)
		}
		fmt.Fprintf(&sb, "%s %d\n", series(h.name+"_count", h.labels), h.count)
		fmt.Fprintf(&sb, "%s %f\n", series(h.name+"_sum", h.labels), h.sum)
		h.mu.Unlock()
	}

	return sb.String()
}

func series(name, labels string) string {
	if labels == "" {
		return name
	}
	return name + "{" + labels + "}"
}

func sortedSeries[T any](m *sync.Map) []T {
	var keys []string
	byKey := make(map[string]T)
	m.Range(func(k, v any) bool {
		keys = append(keys, k.(string))
		byKey[k.(string)] = v.(T)
		return true
	})
	sort.Strings(keys)
	out := make([]T, len(keys))
	for i, k := range keys {
		out[i] = byKey[k]
	}
	return out
}

// --- Pre-defined metrics used across the application ---

var (
	ChatTurnsTotal    = Collector.Counter("agentdesk_chat_turns_total", "Total chat turns processed", "")
	ChatFallbacks     = Collector.Counter("agentdesk_chat_fallbacks_total", "Chat turns answered with a fallback message", "")
	LLMRequestsTotal  = Collector.Counter("agentdesk_llm_requests_total", "Total LLM API requests", "")
	LLMErrorsTotal    = Collector.Counter("agentdesk_llm_errors_total", "Total failed LLM API requests", "")
	RateLimitedTotal  = Collector.Counter("agentdesk_rate_limited_total", "Turns rejected by the per-tenant rate limiter", "")
	HistoryDropped    = Collector.Counter("agentdesk_history_messages_dropped_total", "History entries dropped by the bounder", "")
	HistoryTruncated  = Collector.Counter("agentdesk_history_messages_truncated_total", "History messages tail-truncated by the bounder", "")
	ActiveTurns       = Collector.Gauge("agentdesk_active_turns", "Chat turns currently in flight", "")
	QueuedMediaJobs   = Collector.Gauge("agentdesk_media_jobs_queued", "Media jobs waiting for a worker", "")

	LLMLatency = Collector.Histogram("agentdesk_llm_latency_seconds", "LLM request latency in seconds", "",
		[]float64{0.5, 1, 2, 5, 10, 30, 60, 120})
	MediaLatency = Collector.Histogram("agentdesk_media_job_seconds", "Image and video job duration in seconds", "",
		[]float64{1, 5, 10, 30, 60, 120, 300, 600})
)

// MarkersExtracted counts markers found in model replies, by kind.
func MarkersExtracted(kind string) *Counter {
	return Collector.Counter("agentdesk_markers_extracted_total", "Markers extracted from model replies", label("kind", kind))
}

// Escalations counts escalation attempts by outcome (delivered|failed|skipped).
func Escalations(outcome string) *Counter {
	return Collector.Counter("agentdesk_escalations_total", "Escalation attempts", label("outcome", outcome))
}

// MediaJobs counts finished media jobs by kind and status.
func MediaJobs(kind, status string) *Counter {
	return Collector.Counter("agentdesk_media_jobs_total", "Finished media generation jobs",
		label("kind", kind)+","+label("status", status))
}

// Failovers counts turns answered by a fallback provider.
func Failovers(provider string) *Counter {
	return Collector.Counter("agentdesk_llm_failovers_total", "Turns answered by a fallback provider", label("provider", provider))
}

// Events counts internal events by type.
func Events(eventType string) *Counter {
	return Collector.Counter("agentdesk_events_total", "Internal events emitted", label("type", eventType))
}

func label(name, value string) string {
	return name + "=" + strconv.Quote(value)
}
