// Package memory is an in-process ledger.Store for tests and ephemeral daemons.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/defistate/defistate-amm-go/ledger"
	"github.com/defistate/defistate-amm-go/protocols/cpamm"
)

// Store keeps everything in maps guarded by a single RWMutex.
type Store struct {
	mu       sync.RWMutex
	pools    map[uint64]cpamm.Pool
	balances map[ledger.BalanceKey]uint64
	closed   bool
}

// New returns an empty store.
func New() *Store {
	return &Store{
		pools:    make(map[uint64]cpamm.Pool),
		balances: make(map[ledger.BalanceKey]uint64),
	}
}

func (s *Store) Pools(_ context.Context) ([]cpamm.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ledger.ErrClosed
	}
	pools := make([]cpamm.Pool, 0, len(s.pools))
	for _, p := range s.pools {
		pools = append(pools, p)
	}
	slices.SortFunc(pools, func(a, b cpamm.Pool) int { return cmp.Compare(a.ID, b.ID) })
	return pools, nil
}

func (s *Store) LoadPool(_ context.Context, id uint64) (cpamm.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return cpamm.Pool{}, ledger.ErrClosed
	}
	p, ok := s.pools[id]
	if !ok {
		return cpamm.Pool{}, fmt.Errorf("%w: %d", ledger.ErrPoolNotFound, id)
	}
	return p, nil
}

func (s *Store) Balance(_ context.Context, account string, asset ledger.Asset) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ledger.ErrClosed
	}
	return s.balances[ledger.BalanceKey{Account: account, Asset: asset}], nil
}

func (s *Store) Commit(ctx context.Context, cs ledger.Changeset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ledger.ErrClosed
	}

	next, err := ledger.Settle(cs.Movements, func(k ledger.BalanceKey) (uint64, error) {
		return s.balances[k], nil
	})
	if err != nil {
		return err
	}
	for k, v := range next {
		if v == 0 {
			delete(s.balances, k)
			continue
		}
		s.balances[k] = v
	}
	for _, p := range cs.Pools {
		s.pools[p.ID] = p
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
