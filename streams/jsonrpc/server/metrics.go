package server

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the stream server's collectors.
type Metrics struct {
	sequence    prometheus.Gauge
	subscribers prometheus.Gauge
	events      *prometheus.CounterVec
	calls       *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		sequence: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ammd",
			Subsystem: "stream",
			Name:      "sequence",
			Help:      "Commit sequence of the latest published state.",
		})),
		subscribers: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ammd",
			Subsystem: "stream",
			Name:      "subscribers",
			Help:      "Active state stream subscribers.",
		})),
		events: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ammd",
			Subsystem: "stream",
			Name:      "events_total",
			Help:      "State events delivered to subscribers, by type.",
		}, []string{"type"})),
		calls: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ammd",
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "RPC calls, by method and error code.",
		}, []string{"method", "code"})),
	}
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
