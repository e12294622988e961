package differ

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the state differ's collectors.
type Metrics struct {
	diffDuration  *prometheus.HistogramVec
	protocolDiffs *prometheus.CounterVec
}

// NewMetrics registers the differ collectors with reg. Registering against a
// registry that already holds them reuses the existing collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		diffDuration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ammd",
			Subsystem: "differ",
			Name:      "diff_duration_seconds",
			Help:      "Time taken to diff two states.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}, []string{})),
		protocolDiffs: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ammd",
			Subsystem: "differ",
			Name:      "protocol_diffs_total",
			Help:      "Protocol diffs produced, by schema and outcome.",
		}, []string{"schema", "result"})),
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
