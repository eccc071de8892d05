package types

import "time"

// CommuteBand is a coarse tier of commute minutes used for display and sorting.
type CommuteBand string

// Commute bands, fastest first.
const (
	BandFast       CommuteBand = "fast"
	BandMedium     CommuteBand = "medium"
	BandSlow       CommuteBand = "slow"
	BandBorderline CommuteBand = "borderline"
)

// IsValid reports whether b is one of the known bands.
func (b CommuteBand) IsValid() bool {
	switch b {
	case BandFast, BandMedium, BandSlow, BandBorderline:
		return true
	}
	return false
}

// Match is a persisted candidate/client pairing within the commute cap.
type Match struct {
	TenantID       string      `json:"tenant_id"`
	CandidateID    string      `json:"candidate_id"`
	ClientID       string      `json:"client_id"`
	CommuteMinutes int         `json:"commute_minutes"`
	CommuteBand    CommuteBand `json:"commute_band"`
	RoleMatch      bool        `json:"role_match"`
	DistanceMeters int         `json:"distance_meters"`
	CreatedAt      time.Time   `json:"created_at,omitempty"`
}

// Key returns the match's pair identity.
func (m Match) Key() PairKey {
	return PairKey{CandidateID: m.CandidateID, ClientID: m.ClientID}
}

// MatchFilter narrows a match listing. Zero values mean "any".
type MatchFilter struct {
	CandidateID string
	ClientID    string
	Band        CommuteBand
	RoleMatch   *bool
	Limit       int
}

// Matches reports whether m passes the filter. Limit is not considered.
func (f MatchFilter) Matches(m Match) bool {
	if f.CandidateID != "" && m.CandidateID != f.CandidateID {
		return false
	}
	if f.ClientID != "" && m.ClientID != f.ClientID {
		return false
	}
	if f.Band != "" && m.CommuteBand != f.Band {
		return false
	}
	if f.RoleMatch != nil && m.RoleMatch != *f.RoleMatch {
		return false
	}
	return true
}

// InsertResult is the outcome of a guarded match insert.
type InsertResult int

const (
	// InsertApplied means the match row was written.
	InsertApplied InsertResult = iota
	// InsertDuplicate means a match for the pair already existed.
	InsertDuplicate
	// InsertBanned means the pair was banned after planning.
	InsertBanned
	// InsertStale means the inserting run no longer owns the tenant's job.
	InsertStale
)

func (r InsertResult) String() string {
	switch r {
	case InsertApplied:
		return "applied"
	case InsertDuplicate:
		return "duplicate"
	case InsertBanned:
		return "banned"
	case InsertStale:
		return "stale"
	}
	return "unknown"
}
