package poolsystem

import (
	"errors"
	"strconv"
	"time"

	"github.com/defistate/defistate-amm-go/ledger"
	"github.com/defistate/defistate-amm-go/protocols/cpamm"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pool system's collectors.
type Metrics struct {
	operations   *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	swapVolume   *prometheus.CounterVec
	fees         *prometheus.CounterVec
	poolsCreated prometheus.Counter
}

// NewMetrics registers the pool system collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		operations: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ammd",
			Subsystem: "pools",
			Name:      "operations_total",
			Help:      "Pool operations, by operation and outcome.",
		}, []string{"op", "result"})),
		duration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ammd",
			Subsystem: "pools",
			Name:      "operation_duration_seconds",
			Help:      "Latency of pool operations including the ledger commit.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 16),
		}, []string{"op"})),
		swapVolume: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ammd",
			Subsystem: "pools",
			Name:      "swap_volume_total",
			Help:      "Base units swapped in, by input token.",
		}, []string{"token"})),
		fees: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ammd",
			Subsystem: "pools",
			Name:      "swap_fees_total",
			Help:      "Base units charged as swap fees, by input token.",
		}, []string{"token"})),
		poolsCreated: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ammd",
			Subsystem: "pools",
			Name:      "created_total",
			Help:      "Pools created since start.",
		})),
	}
}

// observe is deferred with a pointer to the operation's named error result.
func (m *Metrics) observe(op string, start time.Time, err *error) {
	m.operations.WithLabelValues(op, resultLabel(*err)).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) observeSwap(tokenIn uint64, amountIn, fee uint64) {
	label := strconv.FormatUint(tokenIn, 10)
	m.swapVolume.WithLabelValues(label).Add(float64(amountIn))
	m.fees.WithLabelValues(label).Add(float64(fee))
}

// resultLabel keeps the result label bounded to known failure classes.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, cpamm.ErrPoolLocked):
		return "locked"
	case errors.Is(err, cpamm.ErrSlippageExceeded):
		return "slippage"
	case errors.Is(err, cpamm.ErrInsufficientBalance), errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient_balance"
	case errors.Is(err, cpamm.ErrNoLiquidityInPool):
		return "no_liquidity"
	case errors.Is(err, cpamm.ErrInvalidAmount), errors.Is(err, cpamm.ErrInvalidFeePercentage):
		return "invalid"
	case errors.Is(err, cpamm.ErrOverflow), errors.Is(err, cpamm.ErrDivisionByZero):
		return "arithmetic"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ledger.ErrPoolNotFound):
		return "not_found"
	}
	return "error"
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
