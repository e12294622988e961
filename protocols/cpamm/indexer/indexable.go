package indexer

import (
	"github.com/defistate/defistate-amm-go/protocols/cpamm"
	"github.com/ethereum/go-ethereum/common"
)

// Indexer builds IndexedCPAMM views.
type Indexer struct{}

// New creates a new Indexer.
func New() *Indexer {
	return &Indexer{}
}

// Index creates an indexed view from a raw slice of pools.
func (i *Indexer) Index(pools []cpamm.Pool) IndexedCPAMM {
	return NewIndexableCPAMMSystem(pools)
}

type pairKey struct {
	lo, hi uint64
}

func newPairKey(a, b uint64) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{lo: a, hi: b}
}

// IndexableCPAMMSystem provides indexed access to constant-product pools.
type IndexableCPAMMSystem struct {
	byID   map[uint64]cpamm.Pool
	byKey  map[common.Address]uint64
	byPair map[pairKey][]uint64
	all    []cpamm.Pool
}

// NewIndexableCPAMMSystem indexes pools by ID, address and unordered token pair.
func NewIndexableCPAMMSystem(pools []cpamm.Pool) *IndexableCPAMMSystem {
	s := &IndexableCPAMMSystem{
		byID:   make(map[uint64]cpamm.Pool, len(pools)),
		byKey:  make(map[common.Address]uint64, len(pools)),
		byPair: make(map[pairKey][]uint64),
		all:    pools,
	}
	for _, p := range pools {
		s.byID[p.ID] = p
		s.byKey[p.Key] = p.ID
		k := newPairKey(p.TokenX, p.TokenY)
		s.byPair[k] = append(s.byPair[k], p.ID)
	}
	return s
}

// GetByID retrieves a pool by its unique ID.
func (s *IndexableCPAMMSystem) GetByID(id uint64) (cpamm.Pool, bool) {
	p, ok := s.byID[id]
	return p, ok
}

// GetByKey retrieves a pool by its derived address.
func (s *IndexableCPAMMSystem) GetByKey(key common.Address) (cpamm.Pool, bool) {
	id, ok := s.byKey[key]
	if !ok {
		return cpamm.Pool{}, false
	}
	return s.GetByID(id)
}

// GetByPair returns every pool trading tokenA against tokenB, in either orientation.
func (s *IndexableCPAMMSystem) GetByPair(tokenA, tokenB uint64) []cpamm.Pool {
	ids := s.byPair[newPairKey(tokenA, tokenB)]
	pools := make([]cpamm.Pool, 0, len(ids))
	for _, id := range ids {
		pools = append(pools, s.byID[id])
	}
	return pools
}

// All returns a copy of every indexed pool.
func (s *IndexableCPAMMSystem) All() []cpamm.Pool {
	allCopy := make([]cpamm.Pool, len(s.all))
	copy(allCopy, s.all)
	return allCopy
}
