// Package telemetry provides the metrics and tracing layer.
//
// The package-level helpers (Counter, Histogram, Duration) are safe to
// call from anywhere at any time: before Init they are no-ops, after
// Init they record through the configured OpenTelemetry meter. Callers
// never hold instrument handles.
package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// registry caches instruments by metric name so hot paths never
// re-create them
type registry struct {
	meter metric.Meter

	mu         sync.RWMutex
	counters   map[string]metric.Float64Counter
	histograms map[string]metric.Float64Histogram
}

var globalRegistry atomic.Value // holds *registry

func setRegistry(meter metric.Meter) {
	globalRegistry.Store(&registry{
		meter:      meter,
		counters:   make(map[string]metric.Float64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	})
}

func loadRegistry() *registry {
	v := globalRegistry.Load()
	if v == nil {
		return nil
	}
	return v.(*registry)
}

// Counter increments a counter by one.
// Labels are alternating key, value pairs; a trailing odd key is dropped.
func Counter(name string, labels ...string) {
	r := loadRegistry()
	if r == nil {
		return
	}
	c, err := r.counter(name)
	if err != nil {
		return
	}
	c.Add(context.Background(), 1, metric.WithAttributes(toAttributes(labels)...))
}

// Histogram records a value in a distribution. Latencies, costs, sizes.
func Histogram(name string, value float64, labels ...string) {
	r := loadRegistry()
	if r == nil {
		return
	}
	h, err := r.histogram(name)
	if err != nil {
		return
	}
	h.Record(context.Background(), value, metric.WithAttributes(toAttributes(labels)...))
}

// Duration records elapsed time since startTime in milliseconds.
// Typical use:
//
//	start := time.Now()
//	defer telemetry.Duration("fetch.duration_ms", start, "api", name)
func Duration(name string, startTime time.Time, labels ...string) {
	Histogram(name, float64(time.Since(startTime).Milliseconds()), labels...)
}

func (r *registry) counter(name string) (metric.Float64Counter, error) {
	r.mu.RLock()
	c, ok := r.counters[name]
	r.mu.RUnlock()
	if ok {
		return c, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c, nil
	}
	c, err := r.meter.Float64Counter(name)
	if err != nil {
		return nil, err
	}
	r.counters[name] = c
	return c, nil
}

func (r *registry) histogram(name string) (metric.Float64Histogram, error) {
	r.mu.RLock()
	h, ok := r.histograms[name]
	r.mu.RUnlock()
	if ok {
		return h, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[name]; ok {
		return h, nil
	}
	h, err := r.meter.Float64Histogram(name)
	if err != nil {
		return nil, err
	}
	r.histograms[name] = h
	return h, nil
}

func toAttributes(labels []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		attrs = append(attrs, attribute.String(labels[i], labels[i+1]))
	}
	return attrs
}
