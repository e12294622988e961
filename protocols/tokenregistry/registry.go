package tokenregistry

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrTokenExists is returned when a token ID or address is registered twice.
	ErrTokenExists = errors.New("token already registered")
	// ErrTokenNotFound is returned when a token ID is unknown.
	ErrTokenNotFound = errors.New("token not found")
)

// TokenSystem is a concurrency-safe token registry. Writes take a mutex;
// reads go through an atomically swapped, immutable snapshot.
type TokenSystem struct {
	mu         sync.Mutex
	byID       map[uint64]Token
	byAddress  map[common.Address]uint64
	cachedView atomic.Pointer[[]Token]
}

// NewTokenSystem creates a registry seeded with tokens.
func NewTokenSystem(tokens ...Token) (*TokenSystem, error) {
	s := &TokenSystem{
		byID:      make(map[uint64]Token, len(tokens)),
		byAddress: make(map[common.Address]uint64, len(tokens)),
	}
	for _, t := range tokens {
		if err := s.add(t); err != nil {
			return nil, err
		}
	}
	s.updateCachedView()
	return s, nil
}

// Register adds a token.
func (s *TokenSystem) Register(t Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.add(t); err != nil {
		return err
	}
	s.updateCachedView()
	return nil
}

func (s *TokenSystem) add(t Token) error {
	if _, exists := s.byID[t.ID]; exists {
		return fmt.Errorf("%w: id %d", ErrTokenExists, t.ID)
	}
	if id, exists := s.byAddress[t.Address]; exists {
		return fmt.Errorf("%w: address %s is token %d", ErrTokenExists, t.Address.Hex(), id)
	}
	s.byID[t.ID] = t
	s.byAddress[t.Address] = t.ID
	return nil
}

// updateCachedView MUST be called with s.mu held.
func (s *TokenSystem) updateCachedView() {
	view := make([]Token, 0, len(s.byID))
	for _, t := range s.byID {
		view = append(view, t)
	}
	slices.SortFunc(view, compareByID)
	s.cachedView.Store(&view)
}

// Get returns the token with the given ID.
func (s *TokenSystem) Get(id uint64) (Token, error) {
	view := *s.cachedView.Load()
	i, found := slices.BinarySearchFunc(view, id, func(t Token, id uint64) int {
		return cmp.Compare(t.ID, id)
	})
	if found {
		return view[i], nil
	}
	return Token{}, fmt.Errorf("%w: id %d", ErrTokenNotFound, id)
}

// View returns the current tokens ordered by ID. The slice must not be modified.
func (s *TokenSystem) View() []Token {
	return *s.cachedView.Load()
}
