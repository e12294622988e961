package tokenregistry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenSystem(t *testing.T) {
	s, err := NewTokenSystem(newTestToken(2, "USDC", 6), newTestToken(1, "WETH", 18))
	require.NoError(t, err)

	t.Run("view is ordered by ID", func(t *testing.T) {
		view := s.View()
		require.Len(t, view, 2)
		assert.Equal(t, uint64(1), view[0].ID)
		assert.Equal(t, uint64(2), view[1].ID)
	})

	t.Run("get", func(t *testing.T) {
		token, err := s.Get(2)
		require.NoError(t, err)
		assert.Equal(t, "USDC", token.Symbol)

		_, err = s.Get(9)
		assert.ErrorIs(t, err, ErrTokenNotFound)
	})

	t.Run("duplicates are rejected", func(t *testing.T) {
		assert.ErrorIs(t, s.Register(newTestToken(1, "WETH", 18)), ErrTokenExists)

		sameAddress := newTestToken(1, "OTHER", 18)
		sameAddress.ID = 50
		assert.ErrorIs(t, s.Register(sameAddress), ErrTokenExists)

		_, err := NewTokenSystem(newTestToken(1, "A", 0), newTestToken(1, "B", 0))
		assert.ErrorIs(t, err, ErrTokenExists)
	})

	t.Run("concurrent registration", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := uint64(100); i < 150; i++ {
			wg.Add(1)
			go func(id uint64) {
				defer wg.Done()
				assert.NoError(t, s.Register(newTestToken(id, "T", 0)))
				_ = s.View()
			}(i)
		}
		wg.Wait()
		assert.Len(t, s.View(), 52)
	})
}
