package cpamm

import (
	"fmt"
	"strings"
)

// FeePolicy decides where the swap fee ends up. It is fixed per deployment.
type FeePolicy uint8

const (
	// FeeRetained keeps the whole input, fee included, in the pool's reserves.
	FeeRetained FeePolicy = iota
	// FeeToSink adds only the after-fee input to the reserves and reports the
	// fee for routing to a separate account.
	FeeToSink
)

func (f FeePolicy) String() string {
	switch f {
	case FeeRetained:
		return "retained"
	case FeeToSink:
		return "sink"
	}
	return fmt.Sprintf("FeePolicy(%d)", uint8(f))
}

// ParseFeePolicy parses the textual form produced by String.
func ParseFeePolicy(s string) (FeePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "retained":
		return FeeRetained, nil
	case "sink":
		return FeeToSink, nil
	}
	return 0, fmt.Errorf("unknown fee policy %q", s)
}

func (f FeePolicy) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *FeePolicy) UnmarshalText(text []byte) error {
	p, err := ParseFeePolicy(string(text))
	if err != nil {
		return err
	}
	*f = p
	return nil
}

// CreateParams describes a pool to be created.
type CreateParams struct {
	ID        uint64
	Seed      uint64
	TokenX    uint64
	TokenY    uint64
	FeeBps    uint16
	Authority string
}

// CreatePool returns a new, empty and unlocked pool. feeBps must not exceed
// maxFeeBps, which itself must not exceed 100%.
func CreatePool(params CreateParams, maxFeeBps uint16) (Pool, error) {
	if maxFeeBps > BasisPointDivisor {
		return Pool{}, fmt.Errorf("%w: fee ceiling %d bps exceeds %d", ErrInvalidFeePercentage, maxFeeBps, BasisPointDivisor)
	}
	if params.FeeBps > maxFeeBps {
		return Pool{}, fmt.Errorf("%w: %d bps exceeds ceiling of %d bps", ErrInvalidFeePercentage, params.FeeBps, maxFeeBps)
	}
	if params.TokenX == params.TokenY {
		return Pool{}, fmt.Errorf("%w: pool assets must differ, got %d twice", ErrInvalidAmount, params.TokenX)
	}

	return Pool{
		ID:        params.ID,
		Key:       DeriveKey(params.Seed),
		Seed:      params.Seed,
		TokenX:    params.TokenX,
		TokenY:    params.TokenY,
		FeeBps:    params.FeeBps,
		Authority: params.Authority,
	}, nil
}

// Lock returns a copy of p that rejects deposits, withdrawals and swaps.
// Locking an already locked pool is a no-op.
func (p Pool) Lock() Pool {
	p.Locked = true
	return p
}

// Unlock returns a copy of p with the lock cleared. Unlocking an unlocked pool is a no-op.
func (p Pool) Unlock() Pool {
	p.Locked = false
	return p
}
