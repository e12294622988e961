package indexer

import (
	"strings"

	tokenregistry "github.com/defistate/defistate-amm-go/protocols/tokenregistry"
	"github.com/ethereum/go-ethereum/common"
)

// Indexer builds IndexedTokenSystem views.
type Indexer struct{}

// New creates a new Indexer.
func New() *Indexer {
	return &Indexer{}
}

// Index creates an indexed token view from a raw slice of tokens.
func (i *Indexer) Index(tokens []tokenregistry.Token) IndexedTokenSystem {
	return NewIndexableTokenSystem(tokens)
}

// IndexableTokenSystem provides indexed access to token data.
type IndexableTokenSystem struct {
	byID      map[uint64]tokenregistry.Token
	byAddress map[common.Address]uint64
	bySymbol  map[string]uint64
	all       []tokenregistry.Token
}

// NewIndexableTokenSystem indexes tokens by ID, address and upper-cased symbol.
// When two tokens share a symbol the first one wins.
func NewIndexableTokenSystem(tokens []tokenregistry.Token) *IndexableTokenSystem {
	s := &IndexableTokenSystem{
		byID:      make(map[uint64]tokenregistry.Token, len(tokens)),
		byAddress: make(map[common.Address]uint64, len(tokens)),
		bySymbol:  make(map[string]uint64, len(tokens)),
		all:       tokens,
	}
	for _, t := range tokens {
		s.byID[t.ID] = t
		s.byAddress[t.Address] = t.ID
		symbol := strings.ToUpper(t.Symbol)
		if _, taken := s.bySymbol[symbol]; !taken {
			s.bySymbol[symbol] = t.ID
		}
	}
	return s
}

// GetByID retrieves a token by its unique ID.
func (s *IndexableTokenSystem) GetByID(id uint64) (tokenregistry.Token, bool) {
	t, ok := s.byID[id]
	return t, ok
}

// GetByAddress retrieves a token by its address.
func (s *IndexableTokenSystem) GetByAddress(address common.Address) (tokenregistry.Token, bool) {
	id, ok := s.byAddress[address]
	if !ok {
		return tokenregistry.Token{}, false
	}
	return s.GetByID(id)
}

// GetBySymbol retrieves a token by its symbol, ignoring case.
func (s *IndexableTokenSystem) GetBySymbol(symbol string) (tokenregistry.Token, bool) {
	id, ok := s.bySymbol[strings.ToUpper(symbol)]
	if !ok {
		return tokenregistry.Token{}, false
	}
	return s.GetByID(id)
}

// All returns a copy of every indexed token.
func (s *IndexableTokenSystem) All() []tokenregistry.Token {
	allCopy := make([]tokenregistry.Token, len(s.all))
	copy(allCopy, s.all)
	return allCopy
}
