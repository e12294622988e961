// Package ledger defines the storage contract behind the pool system: pool
// records, per-account balances, and atomic changesets that move both at once.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/defistate/defistate-amm-go/protocols/cpamm"
	"github.com/defistate/defistate-amm-go/protocols/cpamm/calculator/fullmath"
)

var (
	// ErrPoolNotFound is returned when a pool ID is unknown to the store.
	ErrPoolNotFound = errors.New("pool not found")
	// ErrInsufficientFunds is returned when a movement debits more than an account holds.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInvalidMovement is returned for movements that are malformed.
	ErrInvalidMovement = errors.New("invalid movement")
	// ErrClosed is returned after the store has been closed.
	ErrClosed = errors.New("store is closed")
)

type AssetKind uint8

const (
	AssetToken AssetKind = iota + 1
	AssetShare
)

// Asset is either a registered token or the shares of one pool.
type Asset struct {
	Kind AssetKind `json:"kind"`
	ID   uint64    `json:"id"`
}

func TokenAsset(tokenID uint64) Asset { return Asset{Kind: AssetToken, ID: tokenID} }
func ShareAsset(poolID uint64) Asset  { return Asset{Kind: AssetShare, ID: poolID} }

func (a Asset) String() string {
	switch a.Kind {
	case AssetToken:
		return "token:" + strconv.FormatUint(a.ID, 10)
	case AssetShare:
		return "share:" + strconv.FormatUint(a.ID, 10)
	}
	return fmt.Sprintf("asset(%d):%d", a.Kind, a.ID)
}

// ParseAsset parses the output of Asset.String.
func ParseAsset(s string) (Asset, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok {
		return Asset{}, fmt.Errorf("malformed asset %q", s)
	}
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return Asset{}, fmt.Errorf("malformed asset %q: %w", s, err)
	}
	switch kind {
	case "token":
		return TokenAsset(n), nil
	case "share":
		return ShareAsset(n), nil
	}
	return Asset{}, fmt.Errorf("unknown asset kind %q", kind)
}

// Movement moves Amount of Asset from one account to another. An empty From
// mints and an empty To burns.
type Movement struct {
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
	Asset  Asset  `json:"asset"`
	Amount uint64 `json:"amount"`
}

// Changeset is applied all-or-nothing by Store.Commit.
type Changeset struct {
	Pools     []cpamm.Pool
	Movements []Movement
}

// Store persists pools and balances.
type Store interface {
	Pools(ctx context.Context) ([]cpamm.Pool, error)
	LoadPool(ctx context.Context, id uint64) (cpamm.Pool, error)
	Balance(ctx context.Context, account string, asset Asset) (uint64, error)
	// Commit writes every pool and applies every movement, or does nothing.
	Commit(ctx context.Context, cs Changeset) error
	Close() error
}

// BalanceKey addresses one account's holding of one asset.
type BalanceKey struct {
	Account string
	Asset   Asset
}

// Settle computes the balances touched by movements, reading current values
// through current. It returns only the final values; nothing is written.
func Settle(movements []Movement, current func(BalanceKey) (uint64, error)) (map[BalanceKey]uint64, error) {
	next := make(map[BalanceKey]uint64)
	get := func(k BalanceKey) (uint64, error) {
		if v, ok := next[k]; ok {
			return v, nil
		}
		return current(k)
	}

	for _, m := range movements {
		if m.Amount == 0 {
			continue
		}
		if m.From == "" && m.To == "" {
			return nil, fmt.Errorf("%w: %s movement has neither source nor destination", ErrInvalidMovement, m.Asset)
		}
		if m.From != "" {
			k := BalanceKey{Account: m.From, Asset: m.Asset}
			have, err := get(k)
			if err != nil {
				return nil, err
			}
			if have < m.Amount {
				return nil, fmt.Errorf("%w: %s holds %d %s, needs %d", ErrInsufficientFunds, m.From, have, m.Asset, m.Amount)
			}
			next[k] = have - m.Amount
		}
		if m.To != "" {
			k := BalanceKey{Account: m.To, Asset: m.Asset}
			have, err := get(k)
			if err != nil {
				return nil, err
			}
			sum, err := fullmath.Add(have, m.Amount)
			if err != nil {
				return nil, fmt.Errorf("%w: crediting %s with %d %s", err, m.To, m.Amount, m.Asset)
			}
			next[k] = sum
		}
	}
	return next, nil
}
