package cpamm

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Schema identifies constant-product pool views inside engine.State.
const Schema = "defistate/cpamm/poolView@v1"

// BasisPointDivisor represents 100% in basis points.
const BasisPointDivisor = 10_000

// DefaultMaxFeeBps is the fee ceiling applied when a deployment does not set one (10%).
const DefaultMaxFeeBps = 1_000

var keyPrefix = []byte("cpamm/pool")

// Pool is the full state of one two-asset constant-product pool.
type Pool struct {
	ID          uint64         `json:"id"`
	Key         common.Address `json:"key"`
	Seed        uint64         `json:"seed"`
	TokenX      uint64         `json:"tokenX"`
	TokenY      uint64         `json:"tokenY"`
	ReserveX    uint64         `json:"reserveX"`
	ReserveY    uint64         `json:"reserveY"`
	ShareSupply uint64         `json:"shareSupply"`
	FeeBps      uint16         `json:"feeBps"` // i.e 30 for 0.3%
	Locked      bool           `json:"locked"`
	Authority   string         `json:"authority,omitempty"`
}

// DeriveKey returns the deterministic address of the pool created with seed.
func DeriveKey(seed uint64) common.Address {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], seed)
	return common.BytesToAddress(crypto.Keccak256(keyPrefix, buf[:]))
}

// IsEmpty reports whether the pool holds no liquidity at all.
func (p Pool) IsEmpty() bool {
	return p.ShareSupply == 0 && p.ReserveX == 0 && p.ReserveY == 0
}

// Validate checks the reserve/supply invariant: the reserves are both zero
// exactly when no shares are outstanding, and both positive otherwise.
func (p Pool) Validate() error {
	if p.ShareSupply == 0 {
		if p.ReserveX != 0 || p.ReserveY != 0 {
			return fmt.Errorf("%w: pool %d has reserves (%d, %d) but no shares", ErrInvalidState, p.ID, p.ReserveX, p.ReserveY)
		}
		return nil
	}
	if p.ReserveX == 0 || p.ReserveY == 0 {
		return fmt.Errorf("%w: pool %d has %d shares but reserves (%d, %d)", ErrInvalidState, p.ID, p.ShareSupply, p.ReserveX, p.ReserveY)
	}
	return nil
}

// Reserves returns (reserveIn, reserveOut) for the given swap direction.
func (p Pool) Reserves(xForY bool) (reserveIn, reserveOut uint64) {
	if xForY {
		return p.ReserveX, p.ReserveY
	}
	return p.ReserveY, p.ReserveX
}

// Direction resolves a token pair to a swap direction, returning true when
// tokenIn is the pool's X asset.
func (p Pool) Direction(tokenIn, tokenOut uint64) (bool, error) {
	switch {
	case tokenIn == p.TokenX && tokenOut == p.TokenY:
		return true, nil
	case tokenIn == p.TokenY && tokenOut == p.TokenX:
		return false, nil
	}
	return false, fmt.Errorf("%w: pool %d does not contain the pair %d -> %d", ErrTokenMismatch, p.ID, tokenIn, tokenOut)
}
