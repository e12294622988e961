package tokenregistry

import "slices"

// Patcher constructs a new token set by applying diff to prevState.
// Token holds no pointers, so copying the values is enough to keep the
// states independent.
func Patcher(prevState []Token, diff TokenSystemDiff) ([]Token, error) {
	next := make(map[uint64]Token, len(prevState)+len(diff.Additions))
	for _, token := range prevState {
		next[token.ID] = token
	}
	for _, id := range diff.Deletions {
		delete(next, id)
	}
	for _, token := range diff.Updates {
		next[token.ID] = token
	}
	for _, token := range diff.Additions {
		next[token.ID] = token
	}

	finalState := make([]Token, 0, len(next))
	for _, token := range next {
		finalState = append(finalState, token)
	}
	slices.SortFunc(finalState, compareByID)
	return finalState, nil
}
