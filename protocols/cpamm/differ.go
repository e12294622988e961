package cpamm

import (
	"cmp"
	"slices"
)

type CPAMMSystemDiff struct {
	Additions []Pool   `json:"additions,omitempty"`
	Updates   []Pool   `json:"updates,omitempty"`
	Deletions []uint64 `json:"deletions,omitempty"`
}

// IsEmpty returns true if the diff contains no changes.
func (d CPAMMSystemDiff) IsEmpty() bool {
	return len(d.Additions) == 0 && len(d.Updates) == 0 && len(d.Deletions) == 0
}

// Differ calculates the difference between two sets of pools keyed by ID.
// Results are ordered by pool ID so that equal inputs always encode identically.
func Differ(old, new []Pool) CPAMMSystemDiff {
	oldPools := make(map[uint64]Pool, len(old))
	for _, pool := range old {
		oldPools[pool.ID] = pool
	}
	newIDs := make(map[uint64]struct{}, len(new))

	var diff CPAMMSystemDiff
	for _, pool := range new {
		newIDs[pool.ID] = struct{}{}
		prev, exists := oldPools[pool.ID]
		if !exists {
			diff.Additions = append(diff.Additions, pool)
			continue
		}
		// Every field is a plain value, so struct equality catches reserve,
		// supply and lock changes alike.
		if prev != pool {
			diff.Updates = append(diff.Updates, pool)
		}
	}

	for id := range oldPools {
		if _, exists := newIDs[id]; !exists {
			diff.Deletions = append(diff.Deletions, id)
		}
	}

	byID := func(a, b Pool) int { return cmp.Compare(a.ID, b.ID) }
	slices.SortFunc(diff.Additions, byID)
	slices.SortFunc(diff.Updates, byID)
	slices.Sort(diff.Deletions)
	return diff
}
