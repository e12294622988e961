package cpamm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiffer(t *testing.T) {
	pool1 := Pool{ID: 1, ReserveX: 100, ReserveY: 100, ShareSupply: 100}
	pool2 := Pool{ID: 2, ReserveX: 200, ReserveY: 200, ShareSupply: 200}
	pool3 := Pool{ID: 3}

	t.Run("identical states produce an empty diff", func(t *testing.T) {
		diff := Differ([]Pool{pool1, pool2}, []Pool{pool2, pool1})
		assert.True(t, diff.IsEmpty())
	})

	t.Run("detects additions, updates and deletions", func(t *testing.T) {
		swapped := pool1
		swapped.ReserveX, swapped.ReserveY = 110, 91
		diff := Differ([]Pool{pool1, pool2}, []Pool{swapped, pool3})

		assert.Equal(t, []Pool{pool3}, diff.Additions)
		assert.Equal(t, []Pool{swapped}, diff.Updates)
		assert.Equal(t, []uint64{2}, diff.Deletions)
	})

	t.Run("lock changes are updates", func(t *testing.T) {
		diff := Differ([]Pool{pool1}, []Pool{pool1.Lock()})
		assert.Equal(t, []Pool{pool1.Lock()}, diff.Updates)
	})

	t.Run("results are ordered by ID", func(t *testing.T) {
		diff := Differ(nil, []Pool{pool3, pool1, pool2})
		assert.Equal(t, []Pool{pool1, pool2, pool3}, diff.Additions)
	})
}
