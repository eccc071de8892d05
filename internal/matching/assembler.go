// Package matching turns a batch's distance results into match records,
// commute-cap exclusions and per-pair processing errors.
package matching

import (
	"math"

	"github.com/jonathan/commute-matcher/internal/distance"
	"github.com/jonathan/commute-matcher/internal/planning"
	"github.com/jonathan/commute-matcher/internal/roles"
	"github.com/jonathan/commute-matcher/internal/types"
)

// DefaultMaxCommuteMinutes is the commute cap above which no match is created.
const DefaultMaxCommuteMinutes = 80

// ReasonOverMaxCommute is recorded for business-rule exclusions.
const ReasonOverMaxCommute = "over maximum commute"

// Band thresholds in minutes, inclusive.
const (
	fastMaxMinutes   = 20
	mediumMaxMinutes = 40
	slowMaxMinutes   = 55
)

// Exclusion is a pair dropped by the commute cap. It is not an error.
type Exclusion struct {
	Key     types.PairKey
	Minutes int
	Reason  string
}

// PairError is a pair the provider could not resolve.
type PairError struct {
	Key    types.PairKey
	Status string
	Reason string
}

// Outcome is the assembled result of one batch.
type Outcome struct {
	Matches    []types.Match
	Exclusions []Exclusion
	Errors     []PairError
}

// Tally counts the outcome.
func (o Outcome) Tally() types.BatchTally {
	return types.BatchTally{
		Processed: len(o.Matches) + len(o.Exclusions) + len(o.Errors),
		Matches:   len(o.Matches),
		Excluded:  len(o.Exclusions),
		Errors:    len(o.Errors),
	}
}

// Assembler applies the commute rules and role matching.
type Assembler struct {
	roles      *roles.Matcher
	maxMinutes int
}

// NewAssembler creates an assembler. A nil matcher uses the default synonym
// table; a non-positive cap uses DefaultMaxCommuteMinutes.
func NewAssembler(matcher *roles.Matcher, maxMinutes int) *Assembler {
	if matcher == nil {
		matcher = roles.Default()
	}
	if maxMinutes <= 0 {
		maxMinutes = DefaultMaxCommuteMinutes
	}
	return &Assembler{roles: matcher, maxMinutes: maxMinutes}
}

// Assemble classifies every element of m, which must be shaped
// [len(b.Origins)][len(b.Destinations)].
func (a *Assembler) Assemble(tenantID string, b planning.Batch, m *distance.Matrix) Outcome {
	var out Outcome
	for i, candidate := range b.Origins {
		for j, client := range b.Destinations {
			key := types.PairKey{CandidateID: candidate.ID, ClientID: client.ID}
			e := m.At(i, j)

			if !e.OK() {
				out.Errors = append(out.Errors, PairError{Key: key, Status: e.Status, Reason: "element status " + e.Status})
				continue
			}

			minutes := Minutes(e)
			if minutes > a.maxMinutes {
				out.Exclusions = append(out.Exclusions, Exclusion{Key: key, Minutes: minutes, Reason: ReasonOverMaxCommute})
				continue
			}

			out.Matches = append(out.Matches, types.Match{
				TenantID:       tenantID,
				CandidateID:    candidate.ID,
				ClientID:       client.ID,
				CommuteMinutes: minutes,
				CommuteBand:    Band(minutes),
				RoleMatch:      a.roles.Match(candidate.Role, client.Role),
				DistanceMeters: e.DistanceMeters,
			})
		}
	}
	return out
}

// Failed marks every pair of the batch as errored.
func (a *Assembler) Failed(b planning.Batch, status string, err error) Outcome {
	reason := status
	if err != nil {
		reason = err.Error()
	}
	out := Outcome{Errors: make([]PairError, 0, b.Size())}
	for _, p := range b.Pairs() {
		out.Errors = append(out.Errors, PairError{Key: p.Key(), Status: status, Reason: reason})
	}
	return out
}

// Minutes returns the commute in whole minutes, preferring the
// traffic-aware duration.
func Minutes(e distance.Element) int {
	seconds := e.DurationSeconds
	if e.HasTraffic {
		seconds = e.TrafficDurationSeconds
	}
	return int(math.Round(float64(seconds) / 60))
}

// Band returns the commute band for minutes within the cap.
func Band(minutes int) types.CommuteBand {
	switch {
	case minutes <= fastMaxMinutes:
		return types.BandFast
	case minutes <= mediumMaxMinutes:
		return types.BandMedium
	case minutes <= slowMaxMinutes:
		return types.BandSlow
	default:
		return types.BandBorderline
	}
}
