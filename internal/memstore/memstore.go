// Package memstore is an in-memory implementation of the match store, used
// for offline generation and tests.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/jonathan/commute-matcher/internal/types"
)

type tenant struct {
	candidates []types.Entity
	clients    []types.Entity
	banned     types.PairSet
	matches    map[types.PairKey]types.Match
	job        *types.JobState
}

// Store holds every tenant's data in memory. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	tenants map[string]*tenant
	now     func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		tenants: make(map[string]*tenant),
		now:     time.Now,
	}
}

func (s *Store) tenant(id string) *tenant {
	t, ok := s.tenants[id]
	if !ok {
		t = &tenant{
			banned:  types.NewPairSet(),
			matches: make(map[types.PairKey]types.Match),
		}
		s.tenants[id] = t
	}
	return t
}

// SetEntities replaces a tenant's candidates and clients.
func (s *Store) SetEntities(tenantID string, candidates, clients []types.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(tenantID)
	t.candidates = append([]types.Entity(nil), candidates...)
	t.clients = append([]types.Entity(nil), clients...)
}

// Dataset is the JSON document accepted by Import.
type Dataset struct {
	Candidates []types.Entity  `json:"candidates"`
	Clients    []types.Entity  `json:"clients"`
	Banned     []types.PairKey `json:"banned,omitempty"`
}

// Import loads a Dataset document for a tenant.
func (s *Store) Import(tenantID string, data []byte) error {
	var ds Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return errors.Wrap(err, "decoding entities document")
	}
	s.SetEntities(tenantID, ds.Candidates, ds.Clients)

	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(tenantID)
	for _, k := range ds.Banned {
		t.banned.Add(k)
	}
	return nil
}

// ListCandidates returns the tenant's candidates in insertion order.
func (s *Store) ListCandidates(_ context.Context, tenantID string) ([]types.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Entity{}, s.tenant(tenantID).candidates...), nil
}

// ListClients returns the tenant's clients in insertion order.
func (s *Store) ListClients(_ context.Context, tenantID string) ([]types.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Entity{}, s.tenant(tenantID).clients...), nil
}

// ListBannedPairs returns the tenant's banned pairs.
func (s *Store) ListBannedPairs(_ context.Context, tenantID string) (types.PairSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := types.NewPairSet()
	for k := range s.tenant(tenantID).banned {
		out.Add(k)
	}
	return out, nil
}

// ListMatchedPairs returns the keys of the tenant's existing matches.
func (s *Store) ListMatchedPairs(_ context.Context, tenantID string) (types.PairSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := types.NewPairSet()
	for k := range s.tenant(tenantID).matches {
		out.Add(k)
	}
	return out, nil
}

// DeleteMatches removes every non-banned match for the tenant while runID
// owns the tenant's job.
func (s *Store) DeleteMatches(_ context.Context, tenantID string, runID uuid.UUID) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(tenantID)
	if t.job == nil || t.job.RunID != runID {
		return 0, false, nil
	}
	var n int64
	for k := range t.matches {
		if !t.banned.Has(k) {
			delete(t.matches, k)
			n++
		}
	}
	return n, true, nil
}

// InsertMatch writes m if runID still owns the tenant's job, the pair is not
// banned and no match exists for it yet.
func (s *Store) InsertMatch(_ context.Context, runID uuid.UUID, m types.Match) (types.InsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(m.TenantID)
	switch {
	case t.job == nil || t.job.RunID != runID:
		return types.InsertStale, nil
	case t.banned.Has(m.Key()):
		return types.InsertBanned, nil
	}
	if _, ok := t.matches[m.Key()]; ok {
		return types.InsertDuplicate, nil
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now().UTC()
	}
	t.matches[m.Key()] = m
	return types.InsertApplied, nil
}

// ListMatches returns the tenant's matches ordered by candidate then client.
func (s *Store) ListMatches(_ context.Context, tenantID string, filter types.MatchFilter) ([]types.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []types.Match{}
	for _, m := range s.tenant(tenantID).matches {
		if filter.Matches(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CandidateID != out[j].CandidateID {
			return out[i].CandidateID < out[j].CandidateID
		}
		return out[i].ClientID < out[j].ClientID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// BanPair bans the pair and removes any match for it.
func (s *Store) BanPair(_ context.Context, tenantID string, key types.PairKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(tenantID)
	t.banned.Add(key)
	delete(t.matches, key)
	return nil
}

// LoadJob returns a copy of the tenant's job row, or nil.
func (s *Store) LoadJob(_ context.Context, tenantID string) (*types.JobState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[tenantID]
	if !ok || t.job == nil {
		return nil, nil
	}
	out := *t.job
	return &out, nil
}

// SaveJob upserts the tenant's job row.
func (s *Store) SaveJob(_ context.Context, state *types.JobState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := *state
	s.tenant(state.TenantID).job = &row
	return nil
}

// UpdateJob writes the row only while state.RunID owns it.
func (s *Store) UpdateJob(_ context.Context, state *types.JobState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(state.TenantID)
	if t.job == nil || t.job.RunID != state.RunID {
		return false, nil
	}
	row := *state
	t.job = &row
	return true, nil
}

// ListJobsByStatus returns job rows with the given status, ordered by tenant.
func (s *Store) ListJobsByStatus(_ context.Context, status types.JobStatus) ([]types.JobState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []types.JobState{}
	for _, t := range s.tenants {
		if t.job != nil && t.job.Status == status {
			out = append(out, *t.job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out, nil
}
