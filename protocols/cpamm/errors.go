package cpamm

import (
	"errors"

	"github.com/defistate/defistate-amm-go/protocols/cpamm/calculator/fullmath"
)

var (
	// ErrInvalidAmount is returned for zero amounts, amounts above a share balance or
	// supply, and trades or deposits that round to nothing.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrPoolLocked is returned by every mutating operation while the pool is locked.
	ErrPoolLocked = errors.New("pool is locked")
	// ErrNoLiquidityInPool is returned when an operation needs reserves or shares that do not exist.
	ErrNoLiquidityInPool = errors.New("no liquidity in pool")
	// ErrSlippageExceeded is returned when a computed amount violates the caller's bound.
	ErrSlippageExceeded = errors.New("slippage exceeded")
	// ErrInsufficientBalance is returned when an output would meet or exceed the reserve it draws from.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInvalidFeePercentage is returned when a pool is created with a fee above the ceiling.
	ErrInvalidFeePercentage = errors.New("invalid fee percentage")
	// ErrInvalidState is returned when a pool violates the reserve/supply invariant.
	ErrInvalidState = errors.New("invalid pool state")
	// ErrTokenMismatch is returned when a token pair does not match the pool's assets.
	ErrTokenMismatch = errors.New("token mismatch")

	ErrOverflow       = fullmath.ErrOverflow
	ErrDivisionByZero = fullmath.ErrDivisionByZero
)
