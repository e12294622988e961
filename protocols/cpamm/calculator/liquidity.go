package calculator

import (
	"fmt"

	"github.com/defistate/defistate-amm-go/protocols/cpamm"
	"github.com/defistate/defistate-amm-go/protocols/cpamm/calculator/fullmath"
)

// DepositParams request Shares new shares, paying at most MaxX and MaxY.
// When the pool is empty MaxX and MaxY are the exact bootstrap deposit.
type DepositParams struct {
	Shares uint64 `json:"shares"`
	MaxX   uint64 `json:"maxX"`
	MaxY   uint64 `json:"maxY"`
}

// DepositResult is what the caller must transfer in and the shares to mint.
type DepositResult struct {
	AmountX   uint64 `json:"amountX"`
	AmountY   uint64 `json:"amountY"`
	Shares    uint64 `json:"shares"`
	Bootstrap bool   `json:"bootstrap"`
}

// WithdrawParams burn Shares and require at least MinX and MinY back.
// Balance is the caller's current share balance, supplied by the ledger.
type WithdrawParams struct {
	Shares  uint64 `json:"shares"`
	MinX    uint64 `json:"minX"`
	MinY    uint64 `json:"minY"`
	Balance uint64 `json:"balance"`
}

// WithdrawResult is what the pool pays out and the shares to burn.
type WithdrawResult struct {
	AmountX uint64 `json:"amountX"`
	AmountY uint64 `json:"amountY"`
	Shares  uint64 `json:"shares"`
}

// Deposit computes the assets required to mint params.Shares and returns the
// resulting pool. The input pool is never modified.
func Deposit(pool cpamm.Pool, params DepositParams, opts Options) (DepositResult, cpamm.Pool, error) {
	if pool.Locked {
		return DepositResult{}, cpamm.Pool{}, fmt.Errorf("%w: pool %d", cpamm.ErrPoolLocked, pool.ID)
	}
	if params.Shares == 0 {
		return DepositResult{}, cpamm.Pool{}, fmt.Errorf("%w: share amount must be positive", cpamm.ErrInvalidAmount)
	}
	if err := pool.Validate(); err != nil {
		return DepositResult{}, cpamm.Pool{}, err
	}

	var (
		result = DepositResult{Shares: params.Shares}
		err    error
	)
	if pool.ShareSupply == 0 {
		if params.MaxX == 0 || params.MaxY == 0 {
			return DepositResult{}, cpamm.Pool{}, fmt.Errorf("%w: bootstrap deposit needs both assets, got (%d, %d)", cpamm.ErrInvalidAmount, params.MaxX, params.MaxY)
		}
		result.AmountX, result.AmountY, result.Bootstrap = params.MaxX, params.MaxY, true
	} else {
		mulDiv := fullmath.MulDiv
		if opts.DepositRounding == RoundUp {
			mulDiv = fullmath.MulDivRoundingUp
		}
		if result.AmountX, err = mulDiv(pool.ReserveX, params.Shares, pool.ShareSupply); err != nil {
			return DepositResult{}, cpamm.Pool{}, err
		}
		if result.AmountY, err = mulDiv(pool.ReserveY, params.Shares, pool.ShareSupply); err != nil {
			return DepositResult{}, cpamm.Pool{}, err
		}
		if result.AmountX == 0 || result.AmountY == 0 {
			return DepositResult{}, cpamm.Pool{}, fmt.Errorf("%w: %d shares round to a zero deposit leg", cpamm.ErrInvalidAmount, params.Shares)
		}
		if result.AmountX > params.MaxX || result.AmountY > params.MaxY {
			return DepositResult{}, cpamm.Pool{}, fmt.Errorf("%w: deposit (%d, %d) exceeds max (%d, %d)", cpamm.ErrSlippageExceeded, result.AmountX, result.AmountY, params.MaxX, params.MaxY)
		}
	}

	next := pool
	if next.ReserveX, err = fullmath.Add(pool.ReserveX, result.AmountX); err != nil {
		return DepositResult{}, cpamm.Pool{}, fmt.Errorf("%w: reserve x", err)
	}
	if next.ReserveY, err = fullmath.Add(pool.ReserveY, result.AmountY); err != nil {
		return DepositResult{}, cpamm.Pool{}, fmt.Errorf("%w: reserve y", err)
	}
	if next.ShareSupply, err = fullmath.Add(pool.ShareSupply, params.Shares); err != nil {
		return DepositResult{}, cpamm.Pool{}, fmt.Errorf("%w: share supply", err)
	}
	return result, next, nil
}

// Withdraw computes the proportional payout for burning params.Shares and
// returns the resulting pool. Burning the entire supply drains both reserves
// to exactly zero.
func Withdraw(pool cpamm.Pool, params WithdrawParams, _ Options) (WithdrawResult, cpamm.Pool, error) {
	if pool.Locked {
		return WithdrawResult{}, cpamm.Pool{}, fmt.Errorf("%w: pool %d", cpamm.ErrPoolLocked, pool.ID)
	}
	if params.Shares == 0 {
		return WithdrawResult{}, cpamm.Pool{}, fmt.Errorf("%w: share amount must be positive", cpamm.ErrInvalidAmount)
	}
	if params.Shares > params.Balance {
		return WithdrawResult{}, cpamm.Pool{}, fmt.Errorf("%w: %d shares requested, balance is %d", cpamm.ErrInvalidAmount, params.Shares, params.Balance)
	}
	if pool.ShareSupply == 0 {
		return WithdrawResult{}, cpamm.Pool{}, fmt.Errorf("%w: pool %d has no shares outstanding", cpamm.ErrNoLiquidityInPool, pool.ID)
	}
	if params.Shares > pool.ShareSupply {
		return WithdrawResult{}, cpamm.Pool{}, fmt.Errorf("%w: %d shares requested, supply is %d", cpamm.ErrInvalidAmount, params.Shares, pool.ShareSupply)
	}
	if err := pool.Validate(); err != nil {
		return WithdrawResult{}, cpamm.Pool{}, err
	}

	var (
		result = WithdrawResult{Shares: params.Shares}
		err    error
	)
	if result.AmountX, err = fullmath.MulDiv(pool.ReserveX, params.Shares, pool.ShareSupply); err != nil {
		return WithdrawResult{}, cpamm.Pool{}, err
	}
	if result.AmountY, err = fullmath.MulDiv(pool.ReserveY, params.Shares, pool.ShareSupply); err != nil {
		return WithdrawResult{}, cpamm.Pool{}, err
	}
	if result.AmountX < params.MinX || result.AmountY < params.MinY {
		return WithdrawResult{}, cpamm.Pool{}, fmt.Errorf("%w: withdrawal (%d, %d) below min (%d, %d)", cpamm.ErrSlippageExceeded, result.AmountX, result.AmountY, params.MinX, params.MinY)
	}

	next := pool
	if next.ReserveX, err = fullmath.Sub(pool.ReserveX, result.AmountX); err != nil {
		return WithdrawResult{}, cpamm.Pool{}, fmt.Errorf("%w: %d exceeds reserve x %d", cpamm.ErrInsufficientBalance, result.AmountX, pool.ReserveX)
	}
	if next.ReserveY, err = fullmath.Sub(pool.ReserveY, result.AmountY); err != nil {
		return WithdrawResult{}, cpamm.Pool{}, fmt.Errorf("%w: %d exceeds reserve y %d", cpamm.ErrInsufficientBalance, result.AmountY, pool.ReserveY)
	}
	next.ShareSupply -= params.Shares
	if err := next.Validate(); err != nil {
		return WithdrawResult{}, cpamm.Pool{}, err
	}
	return result, next, nil
}
