// Package telemetry records request and run metrics and exposes them in the
// Prometheus text exposition format.
package telemetry

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

	"github.com/labstack/echo/v4"
)

var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// histogram keeps non-cumulative bucket counts; cumulative counts are built at
// export time.
type histogram struct {
	mu      sync.Mutex
	bounds  []float64
	buckets []int64
	count   int64
	sum     uint64 // math.Float64bits
}

func newHistogram(bounds []float64) *histogram {
	return &histogram{bounds: bounds, buckets: make([]int64, len(bounds))}
}

func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	for {
		old := atomic.LoadUint64(&h.sum)
		if atomic.CompareAndSwapUint64(&h.sum, old, math.Float64bits(math.Float64frombits(old)+v)) {
			break
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.bounds {
		if v <= b {
			h.buckets[i]++
			return
		}
	}
}

func (h *histogram) Count() int64 { return atomic.LoadInt64(&h.count) }
func (h *histogram) Sum() float64 { return math.Float64frombits(atomic.LoadUint64(&h.sum)) }

func (h *histogram) cumulative() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]int64, len(h.buckets))
	var running int64
	for i, c := range h.buckets {
		running += c
		out[i] = running
	}
	return out
}

// Registry holds every series. Series keys are the rendered label set, so a
// snapshot can be written without further formatting.
type Registry struct {
	mu       sync.RWMutex
	requests map[string]*histogram
	counters map[string]int64
	gauges   map[string]float64
	help     map[string]string
	active   int64
}

func NewRegistry() *Registry {
	return &Registry{
		requests: make(map[string]*histogram),
		counters: make(map[string]int64),
		gauges:   make(map[string]float64),
		help:     make(map[string]string),
	}
}

// Labels renders name="value" pairs in the order given.
func Labels(kv ...string) string {
	if len(kv) == 0 {
		return ""
	}
	parts := make([]string, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		parts = append(parts, fmt.Sprintf("%s=%q", kv[i], kv[i+1]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func (r *Registry) requestHistogram(labels string) *histogram {
	r.mu.RLock()
	h, ok := r.requests[labels]
	r.mu.RUnlock()
	if ok {
		return h
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok = r.requests[labels]; !ok {
		h = newHistogram(durationBuckets)
		r.requests[labels] = h
	}
	return h
}

// RequestDuration returns the histogram for one method, route and status.
func (r *Registry) RequestDuration(method, route string, status int) *histogram {
	return r.requestHistogram(Labels("method", method, "route", route, "status_code", strconv.Itoa(status)))
}

// Add increments a counter series.
func (r *Registry) Add(name, help, labels string, delta int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name+labels] += delta
	r.help[name] = help
}

// Set replaces a gauge series.
func (r *Registry) Set(name, help, labels string, v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gauges[name+labels] = v
	r.help[name] = help
}

func (r *Registry) Counter(series string) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counters[series]
}

func (r *Registry) Gauge(series string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gauges[series]
}

// Middleware records the duration of every request under its route pattern.
func (r *Registry) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&r.active, 1)
			start := time.Now()

			err := next(c)

			atomic.AddInt64(&r.active, -1)
			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else if !c.Response().Committed {
					status = http.StatusInternalServerError
				}
			}
			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			r.RequestDuration(c.Request().Method, route, status).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves every series at /metrics.
func (r *Registry) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderContentType, "text/plain; version=0.0.4; charset=utf-8")
		return c.String(http.StatusOK, r.Exposition())
	}
}

// Exposition renders the registry with series sorted by key.
func (r *Registry) Exposition() string {
	var b strings.Builder

	r.mu.RLock()
	requests := make(map[string]*histogram, len(r.requests))
	for k, v := range r.requests {
		requests[k] = v
	}
	counters := make(map[string]int64, len(r.counters))
	for k, v := range r.counters {
		counters[k] = v
	}
	gauges := make(map[string]float64, len(r.gauges))
	for k, v := range r.gauges {
		gauges[k] = v
	}
	help := make(map[string]string, len(r.help))
	for k, v := range r.help {
		help[k] = v
	}
	r.mu.RUnlock()

	const reqName = "http_server_request_duration_seconds"
	b.WriteString("# HELP " + reqName + " Duration of HTTP requests in seconds.\n")
	b.WriteString("# TYPE " + reqName + " histogram\n")
	for _, labels := range sortedKeys(requests) {
		writeHistogram(&b, reqName, labels, requests[labels])
	}
	b.WriteString("# HELP http_server_active_requests Number of in-flight HTTP requests.\n")
	b.WriteString("# TYPE http_server_active_requests gauge\n")
	fmt.Fprintf(&b, "http_server_active_requests %d\n", atomic.LoadInt64(&r.active))

	writeFamily(&b, "counter", counters, help)
	writeFamily(&b, "gauge", gauges, help)
	return b.String()
}

func writeFamily[V int64 | float64](b *strings.Builder, typ string, series map[string]V, help map[string]string) {
	seen := map[string]bool{}
	for _, key := range sortedKeys(series) {
		name, _, _ := strings.Cut(key, "{")
		if !seen[name] {
			seen[name] = true
			fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s %s\n", name, help[name], name, typ)
		}
		fmt.Fprintf(b, "%s %v\n", key, series[key])
	}
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	inner := strings.TrimSuffix(strings.TrimPrefix(labels, "{"), "}")
	if inner != "" {
		inner += ","
	}
	cum := h.cumulative()
	for i, bound := range h.bounds {
		fmt.Fprintf(b, "%s_bucket{%sle=\"%g\"} %d\n", name, inner, bound, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%sle=\"+Inf\"} %d\n", name, inner, h.Count())
	fmt.Fprintf(b, "%s_sum%s %g\n", name, labels, h.Sum())
	fmt.Fprintf(b, "%s_count%s %d\n", name, labels, h.Count())
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
