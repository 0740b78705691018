package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector is the interface for recording engine metrics.
type Collector interface {
	// RegisterCounter registers a counter with the given name and label names.
	RegisterCounter(ctx context.Context, name string, labels ...string) (prometheus.Collector, error)
	// AddCounter adds a value to a previously registered counter.
	AddCounter(ctx context.Context, name string, value float64, labelValues ...string) error
	// UnregisterCounter removes a previously registered counter.
	UnregisterCounter(ctx context.Context, name string, labels ...string) error
	// RegisterHistogram registers a histogram with the given name and label names.
	RegisterHistogram(ctx context.Context, name string, labels ...string) (prometheus.Collector, error)
	// ObserveHistogram records an observation on a previously registered histogram.
	ObserveHistogram(ctx context.Context, name string, value float64, labelValues ...string) error
	// UnregisterHistogram removes a previously registered histogram.
	UnregisterHistogram(ctx context.Context, name string, labels ...string) error
	// MeasureFunctionExecutionTime returns a stop func that records the elapsed
	// time under the shared function-duration histogram.
	MeasureFunctionExecutionTime(ctx context.Context, name string) (func(), error)
	// MetricsHandler returns an http.Handler exposing the collector's registry.
	MetricsHandler() http.Handler
}

// contextKey is the key used to store the collector in the context.
type contextKey string

const collectorKey contextKey = "metrics"

// prometheusCollector implements Collector with a private registry so that
// concurrent pipeline runs do not interfere with each other.
type prometheusCollector struct {
	prefix     string
	registry   *prometheus.Registry
	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

// WithMetrics returns a new context carrying a collector with the given prefix.
func WithMetrics(ctx context.Context, prefix string) context.Context {
	if _, ok := ctx.Value(collectorKey).(Collector); ok {
		return ctx
	}
	return context.WithValue(ctx, collectorKey, newCollector(prefix))
}

// FromContext returns the collector stored in the context, creating a fresh
// one with the given prefix when none is present.
func FromContext(ctx context.Context, prefix string) Collector {
	if c, ok := ctx.Value(collectorKey).(Collector); ok {
		return c
	}
	return newCollector(prefix)
}

func newCollector(prefix string) *prometheusCollector {
	return &prometheusCollector{
		prefix:     prefix,
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func (c *prometheusCollector) fqName(name string) string {
	return fmt.Sprintf("%s_%s", c.prefix, name)
}

// RegisterCounter registers a counter with the given name and label names.
func (c *prometheusCollector) RegisterCounter(_ context.Context, name string,
	labels ...string) (prometheus.Collector, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fq := c.fqName(name)
	if _, ok := c.counters[fq]; ok {
		return nil, fmt.Errorf("counter %s is already registered", fq)
	}
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: fq,
		Help: fmt.Sprintf("Counter for %s", fq),
	}, labels)
	if err := c.registry.Register(counter); err != nil {
		return nil, fmt.Errorf("failed to register counter %s: %w", fq, err)
	}
	c.counters[fq] = counter
	return counter, nil
}

// AddCounter adds a value to a previously registered counter.
func (c *prometheusCollector) AddCounter(_ context.Context, name string,
	value float64, labelValues ...string) error {
	c.mu.Lock()
	counter, ok := c.counters[c.fqName(name)]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("counter %s is not registered", c.fqName(name))
	}
	counter.WithLabelValues(labelValues...).Add(value)
	return nil
}

// UnregisterCounter removes a previously registered counter.
func (c *prometheusCollector) UnregisterCounter(_ context.Context, name string, _ ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fq := c.fqName(name)
	counter, ok := c.counters[fq]
	if !ok {
		return fmt.Errorf("counter %s is not registered", fq)
	}
	c.registry.Unregister(counter)
	delete(c.counters, fq)
	return nil
}

// RegisterHistogram registers a histogram with the given name and label names.
func (c *prometheusCollector) RegisterHistogram(_ context.Context, name string,
	labels ...string) (prometheus.Collector, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fq := c.fqName(name)
	if _, ok := c.histograms[fq]; ok {
		return nil, fmt.Errorf("histogram %s is already registered", fq)
	}
	histogram := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: fq,
		Help: fmt.Sprintf("Histogram for %s", fq),
	}, labels)
	if err := c.registry.Register(histogram); err != nil {
		return nil, fmt.Errorf("failed to register histogram %s: %w", fq, err)
	}
	c.histograms[fq] = histogram
	return histogram, nil
}

// ObserveHistogram records an observation on a previously registered histogram.
func (c *prometheusCollector) ObserveHistogram(_ context.Context, name string,
	value float64, labelValues ...string) error {
	c.mu.Lock()
	histogram, ok := c.histograms[c.fqName(name)]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("histogram %s is not registered", c.fqName(name))
	}
	histogram.WithLabelValues(labelValues...).Observe(value)
	return nil
}

// UnregisterHistogram removes a previously registered histogram.
func (c *prometheusCollector) UnregisterHistogram(_ context.Context, name string, _ ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fq := c.fqName(name)
	histogram, ok := c.histograms[fq]
	if !ok {
		return fmt.Errorf("histogram %s is not registered", fq)
	}
	c.registry.Unregister(histogram)
	delete(c.histograms, fq)
	return nil
}

// MeasureFunctionExecutionTime returns a stop func that records the elapsed
// time under the shared function-duration histogram.
func (c *prometheusCollector) MeasureFunctionExecutionTime(_ context.Context,
	name string) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fq := c.fqName("function_duration_seconds")
	histogram, ok := c.histograms[fq]
	if !ok {
		histogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    fq,
			Help:    "Time spent executing functions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"function"})
		if err := c.registry.Register(histogram); err != nil {
			return nil, fmt.Errorf("failed to register histogram %s: %w", fq, err)
		}
		c.histograms[fq] = histogram
	}

	start := time.Now()
	return func() {
		histogram.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}, nil
}

// MetricsHandler returns an http.Handler exposing the collector's registry.
func (c *prometheusCollector) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
