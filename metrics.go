package forkdaemon

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the worker loop. A nil *Metrics records nothing.
type Metrics struct {
	ticks          prometheus.Counter
	payloadErrors  prometheus.Counter
	registryWrites prometheus.Counter
	tickDuration   prometheus.Histogram
}

// NewMetrics registers the worker metrics on reg under the given namespace.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Total payload invocations",
		}),
		payloadErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payload_errors_total",
			Help:      "Total payload invocations that returned an error or panicked",
		}),
		registryWrites: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_writes_total",
			Help:      "Total pid file writes performed by the worker",
		}),
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Payload execution time per tick",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) observeTick(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	m.tickDuration.Observe(d.Seconds())
	if err != nil {
		m.payloadErrors.Inc()
	}
}

func (m *Metrics) observeRegistryWrite() {
	if m == nil {
		return
	}
	m.registryWrites.Inc()
}
