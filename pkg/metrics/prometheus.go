package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	sourceResults *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	fallbacks     *prometheus.CounterVec
	modelAccuracy prometheus.Gauge
	latency       *prometheus.HistogramVec
}

// New creates a recorder registered with the default registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		sourceResults: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quant_price_source_total",
				Help: "Price source attempts by outcome",
			},
			[]string{"source", "result"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quant_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		fallbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quant_optimizer_fallback_total",
				Help: "Optimizations answered with equal weights",
			},
			[]string{"reason"},
		),
		modelAccuracy: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "quant_sentiment_model_accuracy",
				Help: "Test accuracy of the current sentiment model",
			},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quant_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"operation"},
		),
	}
}

// RecordSourceResult counts one price source attempt.
func (r *Recorder) RecordSourceResult(source, result string) {
	r.sourceResults.WithLabelValues(source, result).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordFallback counts an equal-weight answer. reason is a short class
// such as "degenerate" or "solver", not the full message.
func (r *Recorder) RecordFallback(reason string) {
	r.fallbacks.WithLabelValues(reason).Inc()
}

func (r *Recorder) RecordModelAccuracy(accuracy float64) {
	r.modelAccuracy.Set(accuracy)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
