package observability

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ─── Metric Primitives ──────────────────────────────────────

// Counter is a monotonically increasing value, safe for concurrent use.
type Counter struct {
	value int64
}

func (c *Counter) Inc()         { atomic.AddInt64(&c.value, 1) }
func (c *Counter) Add(n int64)  { atomic.AddInt64(&c.value, n) }
func (c *Counter) Value() int64 { return atomic.LoadInt64(&c.value) }

// Gauge is a value that can go up and down. It stores the raw IEEE-754
// bit pattern under a CAS loop rather than a fixed-point encoding, so
// Set/Value never lose precision at large magnitudes.
type Gauge struct {
	bits uint64
}

func (g *Gauge) Set(v float64)  { atomic.StoreUint64(&g.bits, math.Float64bits(v)) }
func (g *Gauge) Value() float64 { return math.Float64frombits(atomic.LoadUint64(&g.bits)) }
func (g *Gauge) Inc()           { g.add(1) }
func (g *Gauge) Dec()           { g.add(-1) }

func (g *Gauge) add(delta float64) {
	for {
		old := atomic.LoadUint64(&g.bits)
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if atomic.CompareAndSwapUint64(&g.bits, old, next) {
			return
		}
	}
}

// Histogram tracks a value distribution against fixed bucket bounds.
// Unlike a differential bucket scheme, Observe maintains cumulative
// per-bucket counts directly, so exposition is a plain read with no
// accumulation pass.
type Histogram struct {
	mu      sync.Mutex
	buckets []float64
	cum     []int64 // cum[i] = count of observations <= buckets[i]; last slot is +Inf
	sum     float64
	count   int64
}

func newHistogram(buckets []float64) *Histogram {
	sorted := append([]float64(nil), buckets...)
	sort.Float64s(sorted)
	return &Histogram{
		buckets: sorted,
		cum:     make([]int64, len(sorted)+1),
	}
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.count++
	for i, b := range h.buckets {
		if v <= b {
			h.cum[i]++
		}
	}
	h.cum[len(h.buckets)]++ // +Inf always includes every observation
}

func (h *Histogram) snapshot() (buckets []float64, cum []int64, sum float64, count int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buckets, append([]int64(nil), h.cum...), h.sum, h.count
}

// labelKey builds a sorted, stable label string used both as a map key
// and as the rendered Prometheus label set.
func labelKey(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, labels[k])
	}
	return strings.Join(parts, ",")
}

// ─── Metric Families ────────────────────────────────────────
//
// A family is one named metric (e.g. "connections dialed") broken down
// by label set (e.g. per origin). Rather than the pool reaching for a
// generic name-string registry on every call, each concept the pool
// cares about gets its own typed family field on Metrics, created once
// in NewMetrics and walked in declaration order by Handler — so the
// exposition output is stable across calls instead of following Go's
// randomized map iteration.

type family interface {
	expose(sb *strings.Builder)
}

type counterFamily struct {
	name, help string
	mu         sync.RWMutex
	children   map[string]*Counter
}

func newCounterFamily(name, help string) *counterFamily {
	return &counterFamily{name: name, help: help, children: make(map[string]*Counter)}
}

func (f *counterFamily) with(labels map[string]string) *Counter {
	key := labelKey(labels)
	f.mu.RLock()
	if c, ok := f.children[key]; ok {
		f.mu.RUnlock()
		return c
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.children[key]; ok {
		return c
	}
	c := &Counter{}
	f.children[key] = c
	return c
}

func (f *counterFamily) expose(sb *strings.Builder) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.children) == 0 {
		return
	}
	writeHeader(sb, f.name, f.help, "counter")
	for _, lk := range sortedKeys(f.children) {
		writeSample(sb, f.name, lk, fmt.Sprintf("%d", f.children[lk].Value()))
	}
}

type gaugeFamily struct {
	name, help string
	mu         sync.RWMutex
	children   map[string]*Gauge
}

func newGaugeFamily(name, help string) *gaugeFamily {
	return &gaugeFamily{name: name, help: help, children: make(map[string]*Gauge)}
}

func (f *gaugeFamily) with(labels map[string]string) *Gauge {
	key := labelKey(labels)
	f.mu.RLock()
	if g, ok := f.children[key]; ok {
		f.mu.RUnlock()
		return g
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.children[key]; ok {
		return g
	}
	g := &Gauge{}
	f.children[key] = g
	return g
}

func (f *gaugeFamily) expose(sb *strings.Builder) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.children) == 0 {
		return
	}
	writeHeader(sb, f.name, f.help, "gauge")
	for _, lk := range sortedKeys(f.children) {
		writeSample(sb, f.name, lk, fmt.Sprintf("%f", f.children[lk].Value()))
	}
}

type histogramFamily struct {
	name, help string
	buckets    []float64
	mu         sync.RWMutex
	children   map[string]*Histogram
}

func newHistogramFamily(name, help string, buckets []float64) *histogramFamily {
	return &histogramFamily{name: name, help: help, buckets: buckets, children: make(map[string]*Histogram)}
}

func (f *histogramFamily) with(labels map[string]string) *Histogram {
	key := labelKey(labels)
	f.mu.RLock()
	if h, ok := f.children[key]; ok {
		f.mu.RUnlock()
		return h
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	if h, ok := f.children[key]; ok {
		return h
	}
	h := newHistogram(f.buckets)
	f.children[key] = h
	return h
}

func (f *histogramFamily) expose(sb *strings.Builder) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.children) == 0 {
		return
	}
	writeHeader(sb, f.name, f.help, "histogram")
	for _, lk := range sortedKeys(f.children) {
		buckets, cum, sum, count := f.children[lk].snapshot()
		for i, b := range buckets {
			writeSample(sb, f.name+"_bucket", withLE(lk, fmt.Sprintf("%g", b)), fmt.Sprintf("%d", cum[i]))
		}
		writeSample(sb, f.name+"_bucket", withLE(lk, "+Inf"), fmt.Sprintf("%d", cum[len(buckets)]))
		writeSample(sb, f.name+"_sum", lk, fmt.Sprintf("%f", sum))
		writeSample(sb, f.name+"_count", lk, fmt.Sprintf("%d", count))
	}
}

func withLE(lk, bound string) string {
	le := fmt.Sprintf("le=%q", bound)
	if lk == "" {
		return le
	}
	return le + "," + lk
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeHeader(sb *strings.Builder, name, help, kind string) {
	if help != "" {
		sb.WriteString(fmt.Sprintf("# HELP %s %s\n", name, help))
	}
	sb.WriteString(fmt.Sprintf("# TYPE %s %s\n", name, kind))
}

func writeSample(sb *strings.Builder, name, labelSet, value string) {
	if labelSet == "" {
		sb.WriteString(fmt.Sprintf("%s %s\n", name, value))
		return
	}
	sb.WriteString(fmt.Sprintf("%s{%s} %s\n", name, labelSet, value))
}

// ─── Metrics Registry ───────────────────────────────────────

// Metrics is the connection pool daemon's Prometheus-compatible metrics
// registry. Every concept the pool reports on is a named family
// registered once at construction; Track* methods write straight to
// their own family field rather than looking one up by name string.
type Metrics struct {
	logger zerolog.Logger

	dialDuration   *histogramFamily
	dialsSucceeded *counterFamily
	dialsFailed    *counterFamily
	requestsTotal  *counterFamily
	queueWait      *histogramFamily

	connStarting   *gaugeFamily
	connBackingOff *gaugeFamily
	connIdle       *gaugeFamily
	connLeased     *gaugeFamily
	queueDepth     *gaugeFamily

	families []family
}

// NewMetrics creates a new metrics registry with every pool metric
// family pre-registered.
func NewMetrics(logger zerolog.Logger) *Metrics {
	latencyBuckets := []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000, 30000}

	m := &Metrics{
		logger: logger.With().Str("component", "metrics").Logger(),

		dialDuration:   newHistogramFamily("httpclient_pool_dial_duration_ms", "Connection dial latency in milliseconds.", latencyBuckets),
		dialsSucceeded: newCounterFamily("httpclient_pool_dials_succeeded_total", "Successful connection dials."),
		dialsFailed:    newCounterFamily("httpclient_pool_dials_failed_total", "Failed connection dial attempts."),
		requestsTotal:  newCounterFamily("httpclient_pool_requests_total", "Requests by terminal outcome."),
		queueWait:      newHistogramFamily("httpclient_pool_queue_wait_ms", "Time a request spent queued before being leased a connection.", latencyBuckets),

		connStarting:   newGaugeFamily("httpclient_pool_connections_starting", "Connections currently dialing."),
		connBackingOff: newGaugeFamily("httpclient_pool_connections_backing_off", "Connections waiting out a reconnect backoff."),
		connIdle:       newGaugeFamily("httpclient_pool_connections_idle", "Idle, lease-ready connections."),
		connLeased:     newGaugeFamily("httpclient_pool_connections_leased", "Connections currently leased to a request."),
		queueDepth:     newGaugeFamily("httpclient_pool_queue_depth", "Requests waiting for a connection."),
	}

	m.families = []family{
		m.dialDuration, m.dialsSucceeded, m.dialsFailed, m.requestsTotal, m.queueWait,
		m.connStarting, m.connBackingOff, m.connIdle, m.connLeased, m.queueDepth,
	}
	return m
}

// ─── Pool Metric Helpers ─────────────────────────────────────

// TrackConnectionDial records the outcome and latency of a dial attempt.
func (m *Metrics) TrackConnectionDial(origin string, ok bool, latencyMs float64) {
	labels := map[string]string{"origin": origin}
	m.dialDuration.with(labels).Observe(latencyMs)
	if ok {
		m.dialsSucceeded.with(labels).Inc()
	} else {
		m.dialsFailed.with(labels).Inc()
	}
}

// TrackRequestOutcome records a terminal request outcome: served, timed
// out, or cancelled.
func (m *Metrics) TrackRequestOutcome(origin, outcome string) {
	m.requestsTotal.with(map[string]string{"origin": origin, "outcome": outcome}).Inc()
}

// TrackQueueWait records how long a request waited in queue before being
// handed a connection.
func (m *Metrics) TrackQueueWait(origin string, waitMs float64) {
	m.queueWait.with(map[string]string{"origin": origin}).Observe(waitMs)
}

// TrackPoolSnapshot records a point-in-time view of one origin's pool
// state as a set of gauges.
func (m *Metrics) TrackPoolSnapshot(origin string, starting, backingOff, idle, leased, queueDepth int) {
	labels := map[string]string{"origin": origin}
	m.connStarting.with(labels).Set(float64(starting))
	m.connBackingOff.with(labels).Set(float64(backingOff))
	m.connIdle.with(labels).Set(float64(idle))
	m.connLeased.with(labels).Set(float64(leased))
	m.queueDepth.with(labels).Set(float64(queueDepth))
}

// ─── Prometheus Exposition Format ───────────────────────────

// Handler returns an http.HandlerFunc that serves /metrics in
// Prometheus text exposition format.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("# httpclient pool metrics - %s\n\n", time.Now().UTC().Format(time.RFC3339)))

		for _, f := range m.families {
			f.expose(&sb)
			sb.WriteString("\n")
		}

		_, _ = w.Write([]byte(sb.String()))
	}
}
