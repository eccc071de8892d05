package planning

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/commute-matcher/internal/types"
)

func entities(prefix string, n int) []types.Entity {
	out := make([]types.Entity, n)
	for i := range out {
		out[i] = types.Entity{
			ID:       fmt.Sprintf("%s-%d", prefix, i),
			Postcode: fmt.Sprintf("%s%d 1AA", prefix, i),
			Role:     "Dental Nurse",
		}
	}
	return out
}

func keys(pairs []types.Pair) []types.PairKey {
	out := make([]types.PairKey, len(pairs))
	for i, p := range pairs {
		out[i] = p.Key()
	}
	return out
}

func TestGeneratePairs(t *testing.T) {
	candidates := entities("cand", 2)
	clients := entities("cli", 3)

	banned := types.NewPairSet(types.PairKey{CandidateID: "cand-0", ClientID: "cli-1"})
	existing := types.NewPairSet(types.PairKey{CandidateID: "cand-1", ClientID: "cli-0"})

	tests := []struct {
		name     string
		mode     types.Mode
		banned   types.PairSet
		existing types.PairSet
		want     []types.PairKey
	}{
		{
			name: "full cross product",
			mode: types.ModeFull,
			want: []types.PairKey{
				{CandidateID: "cand-0", ClientID: "cli-0"},
				{CandidateID: "cand-0", ClientID: "cli-1"},
				{CandidateID: "cand-0", ClientID: "cli-2"},
				{CandidateID: "cand-1", ClientID: "cli-0"},
				{CandidateID: "cand-1", ClientID: "cli-1"},
				{CandidateID: "cand-1", ClientID: "cli-2"},
			},
		},
		{
			name:     "full skips banned but not existing",
			mode:     types.ModeFull,
			banned:   banned,
			existing: existing,
			want: []types.PairKey{
				{CandidateID: "cand-0", ClientID: "cli-0"},
				{CandidateID: "cand-0", ClientID: "cli-2"},
				{CandidateID: "cand-1", ClientID: "cli-0"},
				{CandidateID: "cand-1", ClientID: "cli-1"},
				{CandidateID: "cand-1", ClientID: "cli-2"},
			},
		},
		{
			name:     "incremental skips banned and existing",
			mode:     types.ModeIncremental,
			banned:   banned,
			existing: existing,
			want: []types.PairKey{
				{CandidateID: "cand-0", ClientID: "cli-0"},
				{CandidateID: "cand-0", ClientID: "cli-2"},
				{CandidateID: "cand-1", ClientID: "cli-1"},
				{CandidateID: "cand-1", ClientID: "cli-2"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GeneratePairs(candidates, clients, tt.banned, tt.existing, tt.mode)
			assert.Equal(t, tt.want, keys(got))
		})
	}
}

func TestGeneratePairs_ZeroEntities(t *testing.T) {
	pairs := GeneratePairs(nil, entities("cli", 5), nil, nil, types.ModeFull)
	assert.NotNil(t, pairs)
	assert.Empty(t, pairs)

	pairs = GeneratePairs(entities("cand", 5), []types.Entity{}, nil, nil, types.ModeIncremental)
	assert.Empty(t, pairs)

	assert.Empty(t, NewBatcher(Standard{}, DefaultLimits()).Plan(pairs))
}

func TestGeneratePairs_Deterministic(t *testing.T) {
	candidates := entities("cand", 7)
	clients := entities("cli", 9)
	banned := types.NewPairSet(
		types.PairKey{CandidateID: "cand-3", ClientID: "cli-4"},
		types.PairKey{CandidateID: "cand-6", ClientID: "cli-0"},
	)

	first := GeneratePairs(candidates, clients, banned, nil, types.ModeFull)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, GeneratePairs(candidates, clients, banned, nil, types.ModeFull))
	}
}

func TestStandardPolicy(t *testing.T) {
	limits := DefaultLimits()
	tests := []struct {
		origins, destinations int
		wantO, wantD          int
	}{
		{100, 100, 4, 25},
		{100, 3, 25, 3},
		{2, 3, 2, 3},
		{1, 1000, 1, 25},
		{10, 10, 10, 10},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%dx%d", tt.origins, tt.destinations), func(t *testing.T) {
			o, d := Standard{}.ChunkSize(tt.origins, tt.destinations, limits)
			assert.Equal(t, tt.wantO, o)
			assert.Equal(t, tt.wantD, d)
			assert.LessOrEqual(t, o*d, limits.MaxElements)
		})
	}
}

func TestPolicyByName(t *testing.T) {
	p, err := PolicyByName("", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, PolicyStandard, p.Name())

	p, err = PolicyByName("Conservative", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, PolicyConservative, p.Name())

	p, err = PolicyByName("fixed", 5, 5)
	require.NoError(t, err)
	assert.Equal(t, Fixed{Origins: 5, Destinations: 5}, p)

	_, err = PolicyByName("fixed", 0, 5)
	assert.Error(t, err)

	_, err = PolicyByName("professional", 0, 0)
	assert.Error(t, err)
}

func TestBatcher_PreservesPairs(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	candidates := entities("cand", 37)
	clients := entities("cli", 41)

	banned := types.NewPairSet()
	existing := types.NewPairSet()
	for _, c := range candidates {
		for _, cl := range clients {
			k := types.PairKey{CandidateID: c.ID, ClientID: cl.ID}
			switch rng.Intn(10) {
			case 0:
				banned.Add(k)
			case 1:
				existing.Add(k)
			}
		}
	}

	policies := []Policy{
		Standard{},
		Conservative{},
		Fixed{Origins: 5, Destinations: 5},
		Fixed{Origins: 10, Destinations: 10},
		Fixed{Origins: 30, Destinations: 30},
	}

	for _, mode := range []types.Mode{types.ModeFull, types.ModeIncremental} {
		pairs := GeneratePairs(candidates, clients, banned, existing, mode)
		want := types.NewPairSet(keys(pairs)...)

		for _, policy := range policies {
			t.Run(string(mode)+"/"+policy.Name(), func(t *testing.T) {
				limits := DefaultLimits()
				batches := NewBatcher(policy, limits).Plan(pairs)

				assert.Equal(t, len(pairs), TotalPairs(batches))

				seen := types.NewPairSet()
				for i, b := range batches {
					assert.Equal(t, i, b.Index)
					assert.LessOrEqual(t, b.Size(), limits.MaxElements)
					assert.LessOrEqual(t, len(b.Origins), limits.MaxDimension)
					assert.LessOrEqual(t, len(b.Destinations), limits.MaxDimension)
					for _, p := range b.Pairs() {
						k := p.Key()
						require.True(t, want.Has(k), "batch %d holds unplanned pair %v", i, k)
						require.False(t, seen.Has(k), "pair %v batched twice", k)
						seen.Add(k)
					}
				}
				assert.Len(t, seen, len(want))
			})
		}
	}
}

func TestBatcher_Conservative(t *testing.T) {
	pairs := GeneratePairs(entities("cand", 3), entities("cli", 4), nil, nil, types.ModeFull)
	batches := NewBatcher(Conservative{}, DefaultLimits()).Plan(pairs)

	require.Len(t, batches, 12)
	for i, b := range batches {
		assert.Equal(t, 1, b.Size())
		assert.Equal(t, pairs[i].Key(), b.Pairs()[0].Key())
	}
}

func TestBatcher_FixedClampedToLimits(t *testing.T) {
	pairs := GeneratePairs(entities("cand", 40), entities("cli", 40), nil, nil, types.ModeFull)
	batches := NewBatcher(Fixed{Origins: 30, Destinations: 30}, DefaultLimits()).Plan(pairs)

	for _, b := range batches {
		assert.LessOrEqual(t, len(b.Destinations), 25)
		assert.LessOrEqual(t, b.Size(), 100)
	}
	assert.Equal(t, 1600, TotalPairs(batches))
}

func TestBatcher_Deterministic(t *testing.T) {
	candidates := entities("cand", 12)
	clients := entities("cli", 30)
	existing := types.NewPairSet(
		types.PairKey{CandidateID: "cand-2", ClientID: "cli-7"},
		types.PairKey{CandidateID: "cand-9", ClientID: "cli-29"},
	)
	pairs := GeneratePairs(candidates, clients, nil, existing, types.ModeIncremental)
	b := NewBatcher(Standard{}, DefaultLimits())

	first := b.Plan(pairs)
	assert.Equal(t, first, b.Plan(pairs))
}

func TestBatch_Postcodes(t *testing.T) {
	b := Batch{
		Origins:      []types.Entity{{ID: "a", Postcode: "SW1A 1AA"}},
		Destinations: []types.Entity{{ID: "x", Postcode: "EC1A 1BB"}, {ID: "y", Postcode: "N1 9GU"}},
	}
	assert.Equal(t, []string{"SW1A 1AA"}, b.OriginPostcodes())
	assert.Equal(t, []string{"EC1A 1BB", "N1 9GU"}, b.DestinationPostcodes())
	assert.Equal(t, 2, b.Size())
}
