package calculator

import (
	"fmt"

	"github.com/defistate/defistate-amm-go/protocols/cpamm"
	"github.com/defistate/defistate-amm-go/protocols/cpamm/calculator/fullmath"
)

// SwapParams trade AmountIn of X for Y (XForY) or of Y for X, requiring at
// least MinAmountOut in return.
type SwapParams struct {
	XForY        bool   `json:"xForY"`
	AmountIn     uint64 `json:"amountIn"`
	MinAmountOut uint64 `json:"minAmountOut"`
}

// SwapRecord is the informational event emitted for an executed swap.
type SwapRecord struct {
	XForY     bool   `json:"xForY"`
	AmountIn  uint64 `json:"amountIn"`
	AmountOut uint64 `json:"amountOut"`
	FeeAmount uint64 `json:"feeAmount"`
}

// SwapResult carries the record plus the amounts the ledger has to move.
// SinkAmount is non-zero only under cpamm.FeeToSink.
type SwapResult struct {
	Record           SwapRecord `json:"record"`
	AmountInAfterFee uint64     `json:"amountInAfterFee"`
	SinkAmount       uint64     `json:"sinkAmount"`
}

// quote is a fully computed swap before slippage is applied.
type quote struct {
	reserveIn     uint64
	reserveOut    uint64
	fee           uint64
	afterFee      uint64
	newReserveIn  uint64
	newReserveOut uint64
	amountOut     uint64
	sink          uint64
}

// Swap executes a swap against pool and returns the resulting pool.
// The input pool is never modified.
func Swap(pool cpamm.Pool, params SwapParams, opts Options) (SwapResult, cpamm.Pool, error) {
	c := acquire()
	defer release(c)
	return c.swap(pool, params, opts)
}

// GetAmountOut returns the output a swap of amountIn would produce right now,
// without a slippage bound. Lock state is ignored so locked pools can still be quoted.
func GetAmountOut(pool cpamm.Pool, xForY bool, amountIn uint64, opts Options) (uint64, error) {
	c := acquire()
	defer release(c)
	q, err := c.quote(pool, xForY, amountIn, opts.FeePolicy)
	if err != nil {
		return 0, err
	}
	return q.amountOut, nil
}

// GetAmountIn returns an input that yields at least amountOut. The result is
// rounded in the pool's favour so GetAmountOut(GetAmountIn(v)) >= v.
func GetAmountIn(pool cpamm.Pool, xForY bool, amountOut uint64) (uint64, error) {
	if amountOut == 0 {
		return 0, fmt.Errorf("%w: amount out must be positive", cpamm.ErrInvalidAmount)
	}
	reserveIn, reserveOut := pool.Reserves(xForY)
	if reserveIn == 0 || reserveOut == 0 {
		return 0, fmt.Errorf("%w: pool %d", cpamm.ErrNoLiquidityInPool, pool.ID)
	}
	if amountOut >= reserveOut {
		return 0, fmt.Errorf("%w: requested %d of reserve %d", cpamm.ErrInsufficientBalance, amountOut, reserveOut)
	}
	if pool.FeeBps >= cpamm.BasisPointDivisor {
		return 0, fmt.Errorf("%w: a %d bps fee leaves nothing to trade", cpamm.ErrInvalidAmount, pool.FeeBps)
	}

	// floor(k/n) <= reserveOut-amountOut once n >= ceil(k/(reserveOut-amountOut)).
	c := acquire()
	defer release(c)
	fullmath.Product(&c.k, reserveIn, reserveOut)
	exact, err := fullmath.Div(&c.q, &c.k, reserveOut-amountOut)
	if err != nil {
		return 0, err
	}
	minReserveIn, err := fullmath.Narrow(&c.q)
	if err != nil {
		return 0, err
	}
	if !exact {
		if minReserveIn, err = fullmath.Add(minReserveIn, 1); err != nil {
			return 0, err
		}
	}
	afterFee := minReserveIn - reserveIn
	return fullmath.MulDivRoundingUp(afterFee, cpamm.BasisPointDivisor, cpamm.BasisPointDivisor-uint64(pool.FeeBps))
}

func (c *Calculator) swap(pool cpamm.Pool, params SwapParams, opts Options) (SwapResult, cpamm.Pool, error) {
	if pool.Locked {
		return SwapResult{}, cpamm.Pool{}, fmt.Errorf("%w: pool %d", cpamm.ErrPoolLocked, pool.ID)
	}

	q, err := c.quote(pool, params.XForY, params.AmountIn, opts.FeePolicy)
	if err != nil {
		return SwapResult{}, cpamm.Pool{}, err
	}
	if q.amountOut < params.MinAmountOut {
		return SwapResult{}, cpamm.Pool{}, fmt.Errorf("%w: output %d below minimum %d", cpamm.ErrSlippageExceeded, q.amountOut, params.MinAmountOut)
	}

	next := pool
	if params.XForY {
		next.ReserveX, next.ReserveY = q.newReserveIn, q.newReserveOut
	} else {
		next.ReserveY, next.ReserveX = q.newReserveIn, q.newReserveOut
	}

	return SwapResult{
		Record: SwapRecord{
			XForY:     params.XForY,
			AmountIn:  params.AmountIn,
			AmountOut: q.amountOut,
			FeeAmount: q.fee,
		},
		AmountInAfterFee: q.afterFee,
		SinkAmount:       q.sink,
	}, next, nil
}

// quote runs the constant-product math: with n = reserveIn + amountIn - fee,
// the new output reserve is floor(k/n). A retained fee is added to the input
// reserve after the invariant is applied.
func (c *Calculator) quote(pool cpamm.Pool, xForY bool, amountIn uint64, policy cpamm.FeePolicy) (quote, error) {
	if amountIn == 0 {
		return quote{}, fmt.Errorf("%w: amount in must be positive", cpamm.ErrInvalidAmount)
	}
	var q quote
	q.reserveIn, q.reserveOut = pool.Reserves(xForY)
	if q.reserveIn == 0 || q.reserveOut == 0 {
		return quote{}, fmt.Errorf("%w: pool %d reserves are (%d, %d)", cpamm.ErrNoLiquidityInPool, pool.ID, pool.ReserveX, pool.ReserveY)
	}

	var err error
	if q.fee, err = fullmath.MulDiv(amountIn, uint64(pool.FeeBps), cpamm.BasisPointDivisor); err != nil {
		return quote{}, err
	}
	if q.afterFee, err = fullmath.Sub(amountIn, q.fee); err != nil {
		return quote{}, err
	}
	n, err := fullmath.Add(q.reserveIn, q.afterFee)
	if err != nil {
		return quote{}, err
	}

	retained := uint64(0)
	if policy == cpamm.FeeToSink {
		q.sink = q.fee
	} else {
		retained = q.fee
	}
	if q.newReserveIn, err = fullmath.Add(n, retained); err != nil {
		return quote{}, err
	}

	fullmath.Product(&c.k, q.reserveIn, q.reserveOut)
	if _, err := fullmath.Div(&c.q, &c.k, n); err != nil {
		return quote{}, err
	}
	// n >= reserveIn, so the quotient never exceeds reserveOut.
	if q.newReserveOut, err = fullmath.Narrow(&c.q); err != nil {
		return quote{}, err
	}

	if q.newReserveOut >= q.reserveOut {
		return quote{}, fmt.Errorf("%w: %d in yields no output", cpamm.ErrInvalidAmount, amountIn)
	}
	q.amountOut = q.reserveOut - q.newReserveOut
	if q.amountOut >= q.reserveOut {
		return quote{}, fmt.Errorf("%w: output %d would drain reserve %d", cpamm.ErrInsufficientBalance, q.amountOut, q.reserveOut)
	}
	return q, nil
}
