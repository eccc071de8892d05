package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPairSet(t *testing.T) {
	a := PairKey{CandidateID: "c1", ClientID: "k1"}
	b := PairKey{CandidateID: "c1", ClientID: "k2"}

	s := NewPairSet(a)
	assert.True(t, s.Has(a))
	assert.False(t, s.Has(b))

	s.Add(b)
	assert.True(t, s.Has(b))
	assert.Len(t, s, 2)

	s.Add(b)
	assert.Len(t, s, 2)
}

func TestPairSet_NilHasNothing(t *testing.T) {
	var s PairSet
	assert.False(t, s.Has(PairKey{CandidateID: "c1", ClientID: "k1"}))
}

func TestPairKeys(t *testing.T) {
	p := Pair{
		Candidate: Entity{ID: "c1", Postcode: "SW1A 1AA", Role: "Dentist"},
		Client:    Entity{ID: "k1", Postcode: "EC1A 1BB", Role: "Dentist"},
	}
	m := Match{CandidateID: "c1", ClientID: "k1"}

	assert.Equal(t, PairKey{CandidateID: "c1", ClientID: "k1"}, p.Key())
	assert.Equal(t, p.Key(), m.Key())
}
