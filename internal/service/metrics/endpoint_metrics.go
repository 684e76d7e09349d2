package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	EndpointLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "quant",
			Subsystem: "engine",
			Name:      "latency_seconds",
			Help:      "Latency of engine endpoints",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"endpoint"},
	)

	EndpointErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quant",
			Subsystem: "engine",
			Name:      "errors_total",
			Help:      "Errors by engine endpoint and kind",
		},
		[]string{"endpoint", "kind"},
	)

	ComputeQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "quant",
			Subsystem: "compute",
			Name:      "queue_depth",
			Help:      "Tasks waiting for a compute worker",
		},
	)
)

func Register() {
	once.Do(func() {
		prometheus.MustRegister(EndpointLatency, EndpointErrors, ComputeQueueDepth)
	})
}

// Observe records the latency of endpoint since start.
func Observe(endpoint string, start time.Time) {
	EndpointLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}
