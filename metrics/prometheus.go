package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type PrometheusRecorder struct {
	counters  *prometheus.CounterVec
	histogram *prometheus.HistogramVec
}

// NewPrometheusRecorder registers the SDK's collectors on reg.
// Pass prometheus.DefaultRegisterer to expose them on the default /metrics handler.
// Recorders created on the same registerer share collectors.
func NewPrometheusRecorder(reg prometheus.Registerer) Recorder {
	counters := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "events_total",
			Help:      "Oracle Sentinel client event counters",
		},
		[]string{"type", "endpoint", "outcome"},
	)

	histogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sentinel",
			Name:      "latency_seconds",
			Help:      "Oracle Sentinel client operation latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "endpoint", "outcome"},
	)

	counters = register(reg, counters)
	histogram = register(reg, histogram)

	return &PrometheusRecorder{
		counters:  counters,
		histogram: histogram,
	}
}

func (p *PrometheusRecorder) IncCounter(name string, labels map[string]string) {
	p.counters.With(prometheus.Labels{
		"type":     name,
		"endpoint": labels["endpoint"],
		"outcome":  labels["outcome"],
	}).Inc()
}

func (p *PrometheusRecorder) ObserveLatency(name string, d time.Duration, labels map[string]string) {
	p.histogram.With(prometheus.Labels{
		"operation": name,
		"endpoint":  labels["endpoint"],
		"outcome":   labels["outcome"],
	}).Observe(d.Seconds())
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	err := reg.Register(c)
	if err == nil {
		return c
	}

	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing
		}
	}
	panic(err)
}
