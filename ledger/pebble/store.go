// Package pebble persists the ledger in a Pebble key-value store.
package pebble

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/defistate/defistate-amm-go/ledger"
	"github.com/defistate/defistate-amm-go/protocols/cpamm"
)

var (
	poolPrefix    = []byte("pool/")
	balancePrefix = []byte("bal/")
)

// Config selects where the database lives.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path     string
	InMemory bool
}

func (c *Config) validate() error {
	if c.Path == "" && !c.InMemory {
		return errors.New("config: Path is required unless InMemory is set")
	}
	return nil
}

// Store is a ledger.Store on top of Pebble. Pools are stored as JSON and
// balances as big-endian uint64s; a commit is a single synced batch.
type Store struct {
	// mu guards db. Commit holds it exclusively so balance reads and the
	// batch write are atomic.
	mu sync.RWMutex
	db *pebble.DB
}

// Open opens (or creates) the database described by cfg.
func Open(cfg Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	opts := &pebble.Options{}
	path := cfg.Path
	if cfg.InMemory {
		opts.FS = vfs.NewMem()
		path = ""
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("pebble: open %q: %w", cfg.Path, err)
	}
	return &Store{db: db}, nil
}

func poolKey(id uint64) []byte {
	key := make([]byte, 0, len(poolPrefix)+8)
	key = append(key, poolPrefix...)
	return binary.BigEndian.AppendUint64(key, id)
}

func balanceKey(k ledger.BalanceKey) []byte {
	key := make([]byte, 0, len(balancePrefix)+9+len(k.Account))
	key = append(key, balancePrefix...)
	key = append(key, byte(k.Asset.Kind))
	key = binary.BigEndian.AppendUint64(key, k.Asset.ID)
	return append(key, k.Account...)
}

// prefixEnd returns the smallest key greater than every key with prefix.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	end[len(end)-1]++
	return end
}

// get reads a key. The caller holds mu.
func (s *Store) get(key []byte) ([]byte, error) {
	if s.db == nil {
		return nil, ledger.ErrClosed
	}
	val, closer, err := s.db.Get(key)
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (s *Store) Pools(_ context.Context) ([]cpamm.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ledger.ErrClosed
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: poolPrefix,
		UpperBound: prefixEnd(poolPrefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var pools []cpamm.Pool
	for iter.First(); iter.Valid(); iter.Next() {
		var p cpamm.Pool
		if err := json.Unmarshal(iter.Value(), &p); err != nil {
			return nil, fmt.Errorf("pebble: decode pool at %x: %w", iter.Key(), err)
		}
		pools = append(pools, p)
	}
	return pools, iter.Error()
}

func (s *Store) LoadPool(_ context.Context, id uint64) (cpamm.Pool, error) {
	s.mu.RLock()
	raw, err := s.get(poolKey(id))
	s.mu.RUnlock()
	if errors.Is(err, pebble.ErrNotFound) {
		return cpamm.Pool{}, fmt.Errorf("%w: %d", ledger.ErrPoolNotFound, id)
	}
	if err != nil {
		return cpamm.Pool{}, err
	}
	var p cpamm.Pool
	if err := json.Unmarshal(raw, &p); err != nil {
		return cpamm.Pool{}, fmt.Errorf("pebble: decode pool %d: %w", id, err)
	}
	return p, nil
}

// balance reads one balance. The caller holds mu.
func (s *Store) balance(k ledger.BalanceKey) (uint64, error) {
	raw, err := s.get(balanceKey(k))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("pebble: corrupt balance for %s/%s", k.Account, k.Asset)
	}
	return binary.BigEndian.Uint64(raw), nil
}

func (s *Store) Balance(_ context.Context, account string, asset ledger.Asset) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balance(ledger.BalanceKey{Account: account, Asset: asset})
}

func (s *Store) Commit(ctx context.Context, cs ledger.Changeset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ledger.ErrClosed
	}

	next, err := ledger.Settle(cs.Movements, s.balance)
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	for k, v := range next {
		if v == 0 {
			if err := batch.Delete(balanceKey(k), nil); err != nil {
				return err
			}
			continue
		}
		if err := batch.Set(balanceKey(k), binary.BigEndian.AppendUint64(nil, v), nil); err != nil {
			return err
		}
	}
	for _, p := range cs.Pools {
		raw, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("pebble: encode pool %d: %w", p.ID, err)
		}
		if err := batch.Set(poolKey(p.ID), raw, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
