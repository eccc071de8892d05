package planning

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// Policy names accepted by PolicyByName.
const (
	PolicyStandard     = "standard"
	PolicyConservative = "conservative"
	PolicyFixed        = "fixed"
)

// Limits are the provider's per-request ceilings.
type Limits struct {
	MaxElements  int
	MaxDimension int
}

// DefaultLimits returns the provider's documented ceilings.
func DefaultLimits() Limits {
	return Limits{MaxElements: 100, MaxDimension: 25}
}

// Policy chooses origin and destination chunk sizes for a group of
// origins x destinations. Results are clamped to Limits by the Batcher.
type Policy interface {
	Name() string
	ChunkSize(origins, destinations int, limits Limits) (o, d int)
}

// Standard fills each request as far as the limits allow, widest on the
// destination side.
type Standard struct{}

func (Standard) Name() string { return PolicyStandard }

func (Standard) ChunkSize(origins, destinations int, limits Limits) (int, int) {
	d := min(destinations, limits.MaxDimension)
	o := min(origins, limits.MaxDimension, limits.MaxElements/max(d, 1))
	return o, d
}

// Conservative sends one pair per request, isolating failures to single pairs.
type Conservative struct{}

func (Conservative) Name() string { return PolicyConservative }

func (Conservative) ChunkSize(int, int, Limits) (int, int) { return 1, 1 }

// Fixed uses a configured origins x destinations shape.
type Fixed struct {
	Origins      int
	Destinations int
}

func (f Fixed) Name() string { return fmt.Sprintf("%s(%dx%d)", PolicyFixed, f.Origins, f.Destinations) }

func (f Fixed) ChunkSize(origins, destinations int, limits Limits) (int, int) {
	return min(origins, f.Origins), min(destinations, f.Destinations)
}

// PolicyByName resolves a configured policy. origins and destinations are
// only used by the fixed policy.
func PolicyByName(name string, origins, destinations int) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyStandard:
		return Standard{}, nil
	case PolicyConservative:
		return Conservative{}, nil
	case PolicyFixed:
		if origins <= 0 || destinations <= 0 {
			return nil, errors.Newf("fixed batching policy needs positive origins and destinations, got %dx%d", origins, destinations)
		}
		return Fixed{Origins: origins, Destinations: destinations}, nil
	default:
		return nil, errors.Newf("unknown batching policy %q", name)
	}
}
