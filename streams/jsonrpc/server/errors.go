package server

import (
	"errors"

	"github.com/defistate/defistate-amm-go/ledger"
	"github.com/defistate/defistate-amm-go/poolsystem"
	"github.com/defistate/defistate-amm-go/protocols/cpamm"
	"github.com/defistate/defistate-amm-go/protocols/tokenregistry"
)

// Application error codes returned in the JSON-RPC error object.
const (
	CodeInternal             = -32000
	CodeInvalidAmount        = -33001
	CodePoolLocked           = -33002
	CodeNoLiquidityInPool    = -33003
	CodeSlippageExceeded     = -33004
	CodeInsufficientBalance  = -33005
	CodeOverflow             = -33006
	CodeDivisionByZero       = -33007
	CodeInvalidFeePercentage = -33008
	CodeNotFound             = -33009
	CodeUnauthorized         = -33010
	CodeConflict             = -33011
	CodeFundingDisabled      = -33012
	CodeInvalidState         = -33013
)

var errorCodes = []struct {
	target error
	code   int
}{
	{cpamm.ErrInvalidAmount, CodeInvalidAmount},
	{cpamm.ErrTokenMismatch, CodeInvalidAmount},
	{cpamm.ErrPoolLocked, CodePoolLocked},
	{cpamm.ErrNoLiquidityInPool, CodeNoLiquidityInPool},
	{cpamm.ErrSlippageExceeded, CodeSlippageExceeded},
	{cpamm.ErrInsufficientBalance, CodeInsufficientBalance},
	{ledger.ErrInsufficientFunds, CodeInsufficientBalance},
	{cpamm.ErrOverflow, CodeOverflow},
	{cpamm.ErrDivisionByZero, CodeDivisionByZero},
	{cpamm.ErrInvalidFeePercentage, CodeInvalidFeePercentage},
	{cpamm.ErrInvalidState, CodeInvalidState},
	{ledger.ErrPoolNotFound, CodeNotFound},
	{tokenregistry.ErrTokenNotFound, CodeNotFound},
	{poolsystem.ErrSwapNotFound, CodeNotFound},
	{poolsystem.ErrUnauthorized, CodeUnauthorized},
	{poolsystem.ErrPoolExists, CodeConflict},
	{poolsystem.ErrFundingDisabled, CodeFundingDisabled},
}

// Error carries an application error code through the rpc package, which
// reports ErrorCode in the response.
type Error struct {
	code int
	err  error
}

func (e *Error) Error() string  { return e.err.Error() }
func (e *Error) ErrorCode() int { return e.code }
func (e *Error) Unwrap() error  { return e.err }

func wrapError(err error) error {
	if err == nil {
		return nil
	}
	return &Error{code: errorCode(err), err: err}
}

func errorCode(err error) int {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.target) {
			return ec.code
		}
	}
	return CodeInternal
}
