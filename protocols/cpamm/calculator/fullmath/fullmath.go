package fullmath

import (
	"errors"
	"sync"

	"github.com/holiman/uint256"
)

var (
	// ErrOverflow is returned when a result does not fit in 64 bits.
	ErrOverflow = errors.New("arithmetic overflow")
	// ErrDivisionByZero is returned when a denominator is zero.
	ErrDivisionByZero = errors.New("division by zero")

	one = uint256.NewInt(1)
)

// FullMath holds reusable 256-bit scratch values.
// Instances are managed by a sync.Pool for safe concurrent use.
type FullMath struct {
	product  uint256.Int
	quotient uint256.Int
	rem      uint256.Int
	denom    uint256.Int
}

var pool = sync.Pool{
	New: func() any {
		return new(FullMath)
	},
}

// MulDiv returns floor(a * b / denom). The product is held at 256 bits so it
// never overflows; only the quotient has to fit back into a uint64.
func MulDiv(a, b, denom uint64) (uint64, error) {
	f := pool.Get().(*FullMath)
	defer pool.Put(f)
	return f.mulDiv(a, b, denom, false)
}

// MulDivRoundingUp returns ceil(a * b / denom).
func MulDivRoundingUp(a, b, denom uint64) (uint64, error) {
	f := pool.Get().(*FullMath)
	defer pool.Put(f)
	return f.mulDiv(a, b, denom, true)
}

func (f *FullMath) mulDiv(a, b, denom uint64, roundUp bool) (uint64, error) {
	if denom == 0 {
		return 0, ErrDivisionByZero
	}
	f.product.SetUint64(a)
	f.product.Mul(&f.product, f.denom.SetUint64(b))
	f.denom.SetUint64(denom)
	f.quotient.DivMod(&f.product, &f.denom, &f.rem)
	if roundUp && !f.rem.IsZero() {
		f.quotient.Add(&f.quotient, one)
	}
	return Narrow(&f.quotient)
}

// Product writes the full-width product a * b into dest and returns dest.
func Product(dest *uint256.Int, a, b uint64) *uint256.Int {
	dest.SetUint64(a)
	var rhs uint256.Int
	rhs.SetUint64(b)
	return dest.Mul(dest, &rhs)
}

// Div writes floor(x / denom) into dest and reports whether the division was exact.
func Div(dest, x *uint256.Int, denom uint64) (exact bool, err error) {
	if denom == 0 {
		return false, ErrDivisionByZero
	}
	var d, rem uint256.Int
	d.SetUint64(denom)
	dest.DivMod(x, &d, &rem)
	return rem.IsZero(), nil
}

// Narrow converts x to a uint64, failing with ErrOverflow when it does not fit.
func Narrow(x *uint256.Int) (uint64, error) {
	if !x.IsUint64() {
		return 0, ErrOverflow
	}
	return x.Uint64(), nil
}

// Add returns a + b, failing with ErrOverflow on wrap-around.
func Add(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, ErrOverflow
	}
	return sum, nil
}

// Sub returns a - b, failing with ErrOverflow when b > a.
func Sub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrOverflow
	}
	return a - b, nil
}
