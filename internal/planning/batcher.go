package planning

import (
	"strings"

	"github.com/jonathan/commute-matcher/internal/types"
)

// Batch is one provider request: every origin (candidate) against every
// destination (client).
type Batch struct {
	Index        int
	Origins      []types.Entity
	Destinations []types.Entity
}

// Size returns the number of pairs in the batch.
func (b Batch) Size() int {
	return len(b.Origins) * len(b.Destinations)
}

// Pairs expands the batch, origin-major.
func (b Batch) Pairs() []types.Pair {
	pairs := make([]types.Pair, 0, b.Size())
	for _, o := range b.Origins {
		for _, d := range b.Destinations {
			pairs = append(pairs, types.Pair{Candidate: o, Client: d})
		}
	}
	return pairs
}

// OriginPostcodes returns the origin locations in request order.
func (b Batch) OriginPostcodes() []string {
	return postcodes(b.Origins)
}

// DestinationPostcodes returns the destination locations in request order.
func (b Batch) DestinationPostcodes() []string {
	return postcodes(b.Destinations)
}

func postcodes(entities []types.Entity) []string {
	out := make([]string, len(entities))
	for i, e := range entities {
		out[i] = e.Postcode
	}
	return out
}

// Batcher splits a pair sequence into provider-sized batches.
type Batcher struct {
	policy Policy
	limits Limits
}

// NewBatcher creates a batcher. Non-positive limits fall back to the defaults.
func NewBatcher(policy Policy, limits Limits) *Batcher {
	def := DefaultLimits()
	if limits.MaxElements <= 0 {
		limits.MaxElements = def.MaxElements
	}
	if limits.MaxDimension <= 0 {
		limits.MaxDimension = def.MaxDimension
	}
	if policy == nil {
		policy = Standard{}
	}
	return &Batcher{policy: policy, limits: limits}
}

// Policy returns the active chunking policy.
func (b *Batcher) Policy() Policy {
	return b.policy
}

// group is a run of candidates that share the same pending client list.
type group struct {
	candidates []types.Entity
	clients    []types.Entity
}

// Plan batches pairs. Candidates whose pending clients are identical are
// grouped and each group is chunked as a cross product, so the batches
// cover exactly the input pairs. Output order depends only on input order.
func (b *Batcher) Plan(pairs []types.Pair) []Batch {
	groups := groupPairs(pairs)

	var batches []Batch
	for _, g := range groups {
		o, d := b.chunk(len(g.candidates), len(g.clients))
		for i := 0; i < len(g.candidates); i += o {
			origins := g.candidates[i:min(i+o, len(g.candidates))]
			for j := 0; j < len(g.clients); j += d {
				batches = append(batches, Batch{
					Index:        len(batches),
					Origins:      origins,
					Destinations: g.clients[j:min(j+d, len(g.clients))],
				})
			}
		}
	}
	return batches
}

func (b *Batcher) chunk(origins, destinations int) (int, int) {
	o, d := b.policy.ChunkSize(origins, destinations, b.limits)
	d = max(1, min(d, b.limits.MaxDimension))
	o = max(1, min(o, b.limits.MaxDimension, b.limits.MaxElements/d))
	return o, d
}

func groupPairs(pairs []types.Pair) []*group {
	type pending struct {
		candidate types.Entity
		clients   []types.Entity
	}

	var order []*pending
	byCandidate := make(map[string]*pending)
	for _, p := range pairs {
		pc, ok := byCandidate[p.Candidate.ID]
		if !ok {
			pc = &pending{candidate: p.Candidate}
			byCandidate[p.Candidate.ID] = pc
			order = append(order, pc)
		}
		pc.clients = append(pc.clients, p.Client)
	}

	var groups []*group
	byClients := make(map[string]*group)
	var sb strings.Builder
	for _, pc := range order {
		sb.Reset()
		for _, c := range pc.clients {
			sb.WriteString(c.ID)
			sb.WriteByte(0)
		}
		key := sb.String()
		g, ok := byClients[key]
		if !ok {
			g = &group{clients: pc.clients}
			byClients[key] = g
			groups = append(groups, g)
		}
		g.candidates = append(g.candidates, pc.candidate)
	}
	return groups
}

// TotalPairs sums the pairs across batches.
func TotalPairs(batches []Batch) int {
	n := 0
	for _, b := range batches {
		n += b.Size()
	}
	return n
}
