// Package types provides type definitions for the entities, matches and job state
// shared across the commute-matcher system.
//
//nolint:revive // types is a standard Go package name pattern
package types

// Entity is a geotagged candidate or client. Role may hold several roles
// separated by a delimiter, e.g. "Dental Nurse/ANP/PN".
type Entity struct {
	ID       string `json:"id"`
	Postcode string `json:"postcode"`
	Role     string `json:"role"`
}

// PairKey identifies one (candidate, client) combination within a tenant.
type PairKey struct {
	CandidateID string `json:"candidate_id"`
	ClientID    string `json:"client_id"`
}

// PairSet is a set of pair keys.
type PairSet map[PairKey]struct{}

// NewPairSet builds a set from the given keys.
func NewPairSet(keys ...PairKey) PairSet {
	s := make(PairSet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Add inserts a key into the set.
func (s PairSet) Add(k PairKey) {
	s[k] = struct{}{}
}

// Has reports whether the set contains k. A nil set contains nothing.
func (s PairSet) Has(k PairKey) bool {
	if s == nil {
		return false
	}
	_, ok := s[k]
	return ok
}

// Pair is one candidate/client combination under evaluation.
type Pair struct {
	Candidate Entity
	Client    Entity
}

// Key returns the pair's identity.
func (p Pair) Key() PairKey {
	return PairKey{CandidateID: p.Candidate.ID, ClientID: p.Client.ID}
}

// BannedPair permanently excludes a pair from matching for a tenant.
type BannedPair struct {
	TenantID string  `json:"tenant_id"`
	Key      PairKey `json:"key"`
}
