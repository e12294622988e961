package calculator

import (
	"fmt"
	"strings"
	"sync"

	"github.com/defistate/defistate-amm-go/protocols/cpamm"
	"github.com/holiman/uint256"
)

// Rounding selects the direction used for steady-state deposit legs.
type Rounding uint8

const (
	// RoundDown truncates deposit legs.
	RoundDown Rounding = iota
	// RoundUp charges the provider the ceiling of each leg.
	RoundUp
)

func (r Rounding) String() string {
	if r == RoundUp {
		return "up"
	}
	return "down"
}

// ParseRounding parses "down" (the default) or "up".
func ParseRounding(s string) (Rounding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "down":
		return RoundDown, nil
	case "up":
		return RoundUp, nil
	}
	return 0, fmt.Errorf("unknown rounding %q", s)
}

func (r Rounding) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Rounding) UnmarshalText(text []byte) error {
	parsed, err := ParseRounding(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Options are the per-deployment policies the engine runs under.
type Options struct {
	FeePolicy       cpamm.FeePolicy
	DepositRounding Rounding
}

// DefaultOptions keeps swap fees in the pool and truncates deposit legs.
func DefaultOptions() Options {
	return Options{FeePolicy: cpamm.FeeRetained, DepositRounding: RoundDown}
}

// Calculator holds reusable 256-bit values for the swap path.
// Instances are NOT safe for concurrent use by themselves; they are managed
// by calculatorPool.
type Calculator struct {
	k uint256.Int
	q uint256.Int
}

var calculatorPool = sync.Pool{
	New: func() any {
		return new(Calculator)
	},
}

func acquire() *Calculator {
	return calculatorPool.Get().(*Calculator)
}

func release(c *Calculator) {
	calculatorPool.Put(c)
}
