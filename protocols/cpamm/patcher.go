package cpamm

import (
	"cmp"
	"fmt"
	"slices"
)

// Patcher applies diff to prevState and returns the resulting pools ordered by ID.
// prevState is never modified. Updates for unknown pools are rejected because they
// mean the receiver has drifted from the producer.
func Patcher(prevState []Pool, diff CPAMMSystemDiff) ([]Pool, error) {
	next := make(map[uint64]Pool, len(prevState)+len(diff.Additions))
	for _, pool := range prevState {
		next[pool.ID] = pool
	}

	for _, id := range diff.Deletions {
		delete(next, id)
	}

	for _, pool := range diff.Updates {
		if _, exists := next[pool.ID]; !exists {
			return nil, fmt.Errorf("%w: update for unknown pool %d", ErrInvalidState, pool.ID)
		}
		next[pool.ID] = pool
	}

	for _, pool := range diff.Additions {
		next[pool.ID] = pool
	}

	finalState := make([]Pool, 0, len(next))
	for _, pool := range next {
		finalState = append(finalState, pool)
	}
	slices.SortFunc(finalState, func(a, b Pool) int { return cmp.Compare(a.ID, b.ID) })
	return finalState, nil
}
