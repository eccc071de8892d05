package roles

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	m := Default()

	tests := []struct {
		input    string
		expected string
	}{
		{"dn", DentalNurse},
		{"DN", DentalNurse},
		{"  Dental   Nurse ", DentalNurse},
		{"Dental Nurse", DentalNurse},
		{"ANP", AdvancedNursePractitioner},
		{"Advanced Nurse Practitioner", AdvancedNursePractitioner},
		{"pn", PracticeNurse},
		{"Senior Dental Nurse", DentalNurse},
		{"Trainee Dental Nurse (Level 3)", TraineeDentalNurse},
		{"Locum GP", GeneralPractitioner},
		{"Head Receptionist", Receptionist},
		{"Dental Nurses", DentalNurse},
		{"Receptionists", Receptionist},
		{"Dentists", Dentist},
		{"Senior Hygienists (part time)", DentalHygienist},
		{"DNs", DentalNurse},
		{"Astronaut", "Astronaut"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, m.Normalize(tt.input))
		})
	}
}

func TestNormalize_SubstringRequiresWordBoundary(t *testing.T) {
	m := Default()

	// "pm" and "dn" are synonyms but must not match inside other words.
	assert.Equal(t, "Supmdnx", m.Normalize("Supmdnx"))
	assert.Equal(t, "Dnsx", m.Normalize("Dnsx"))
}

func TestNormalize_LongestMatchWins(t *testing.T) {
	m := NewMatcher([]Synonym{
		{"nurse", "Nurse"},
		{"dental nurse", "Dental Nurse"},
	})

	assert.Equal(t, "Dental Nurse", m.Normalize("senior dental nurse"))
	assert.Equal(t, "Nurse", m.Normalize("staff nurse"))
}

func TestNormalize_TieBrokenByTableOrder(t *testing.T) {
	m := NewMatcher([]Synonym{
		{"alpha", "First"},
		{"omega", "Second"},
	})

	assert.Equal(t, "First", m.Normalize("alpha omega"))
	assert.Equal(t, "First", m.Normalize("omega alpha"))
}

func TestSplit(t *testing.T) {
	tests := []struct {
		input    string
		expected []string
	}{
		{"Dental Nurse/ANP/PN", []string{"Dental Nurse", "ANP", "PN"}},
		{"Dentist", []string{"Dentist"}},
		{"GP, ANP", []string{"GP", "ANP"}},
		{" / ", []string{}},
		{"", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, Split(tt.input))
		})
	}
}

func TestMatch(t *testing.T) {
	m := Default()

	tests := []struct {
		name      string
		candidate string
		client    string
		expected  bool
	}{
		{"multi-role candidate matches abbreviation", "Dental Nurse/ANP", "ANP", true},
		{"abbreviation matches full name", "dn", "Dental Nurse", true},
		{"third role matches", "Dental Nurse/ANP/PN", "Practice Nurse", true},
		{"different canonical roles", "Dental Nurse", "Dentist", false},
		{"unknown roles never match", "Astronaut", "Astronaut", false},
		{"unknown client role", "Dental Nurse", "Astronaut", false},
		{"empty candidate role", "", "Dental Nurse", false},
		{"case and whitespace insensitive", "  dental   NURSE ", "DN", true},
		{"plural candidate role", "Dental Nurses", "Dental Nurse", true},
		{"plural client role", "Receptionist", "Receptionists", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, m.Match(tt.candidate, tt.client))
		})
	}
}

func TestIsCanonical(t *testing.T) {
	m := Default()

	assert.True(t, m.IsCanonical(DentalNurse))
	assert.True(t, m.IsCanonical(AdvancedNursePractitioner))
	assert.False(t, m.IsCanonical("dn"))
}
