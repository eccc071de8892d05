// Package planning turns a tenant's entity sets into the ordered pairs and
// provider-sized batches of one generation run.
package planning

import (
	"github.com/jonathan/commute-matcher/internal/types"
)

// GeneratePairs returns the pairs to evaluate, candidate-major in input
// order. Banned pairs are always skipped; in incremental mode pairs that
// already have a match are skipped too. Full mode ignores existing.
func GeneratePairs(candidates, clients []types.Entity, banned, existing types.PairSet, mode types.Mode) []types.Pair {
	if len(candidates) == 0 || len(clients) == 0 {
		return []types.Pair{}
	}

	pairs := make([]types.Pair, 0, len(candidates)*len(clients))
	for _, candidate := range candidates {
		for _, client := range clients {
			p := types.Pair{Candidate: candidate, Client: client}
			key := p.Key()
			if banned.Has(key) {
				continue
			}
			if mode == types.ModeIncremental && existing.Has(key) {
				continue
			}
			pairs = append(pairs, p)
		}
	}
	return pairs
}
