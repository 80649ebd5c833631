package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recorder adapts an OpenTelemetry meter to the observability.Metrics
// interface. Instruments are created lazily and cached per name.
type Recorder struct {
	meter metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Float64Counter
	histograms map[string]metric.Float64Histogram
	gauges     map[string]metric.Float64Gauge
}

// NewRecorder builds a recorder over the provider's gridline meter.
func NewRecorder(provider metric.MeterProvider) *Recorder {
	return &Recorder{
		meter:      provider.Meter("gridline"),
		counters:   make(map[string]metric.Float64Counter),
		histograms: make(map[string]metric.Float64Histogram),
		gauges:     make(map[string]metric.Float64Gauge),
	}
}

// IncCounter adds value to the named counter.
func (r *Recorder) IncCounter(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	counter, ok := r.counters[name]
	if !ok {
		created, err := r.meter.Float64Counter(name)
		if err != nil {
			r.mu.Unlock()
			return
		}
		counter = created
		r.counters[name] = counter
	}
	r.mu.Unlock()
	counter.Add(context.Background(), value, metric.WithAttributes(toAttributes(labels)...))
}

// ObserveHistogram records value into the named histogram.
func (r *Recorder) ObserveHistogram(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	histogram, ok := r.histograms[name]
	if !ok {
		created, err := r.meter.Float64Histogram(name)
		if err != nil {
			r.mu.Unlock()
			return
		}
		histogram = created
		r.histograms[name] = histogram
	}
	r.mu.Unlock()
	histogram.Record(context.Background(), value, metric.WithAttributes(toAttributes(labels)...))
}

// SetGauge records the latest value of the named gauge.
func (r *Recorder) SetGauge(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	gauge, ok := r.gauges[name]
	if !ok {
		created, err := r.meter.Float64Gauge(name)
		if err != nil {
			r.mu.Unlock()
			return
		}
		gauge = created
		r.gauges[name] = gauge
	}
	r.mu.Unlock()
	gauge.Record(context.Background(), value, metric.WithAttributes(toAttributes(labels)...))
}

func toAttributes(labels map[string]string) []attribute.KeyValue {
	if len(labels) == 0 {
		return nil
	}
	out := make([]attribute.KeyValue, 0, len(labels))
	for key, value := range labels {
		out = append(out, attribute.String(key, value))
	}
	return out
}
