// Package roles normalizes free-text role labels to a canonical taxonomy and
// decides whether a candidate's roles are compatible with a client's role.
package roles

import (
	"strings"
	"unicode"
)

// Delimiters separate multiple roles held in a single role field.
const Delimiters = "/,"

// Matcher normalizes role labels against an ordered synonym table.
type Matcher struct {
	synonyms  []Synonym
	exact     map[string]string
	canonical map[string]bool
}

// NewMatcher builds a matcher from the given synonym table. Every canonical
// label in the table is also accepted as its own synonym.
func NewMatcher(synonyms []Synonym) *Matcher {
	m := &Matcher{
		synonyms:  make([]Synonym, 0, len(synonyms)),
		exact:     make(map[string]string, len(synonyms)),
		canonical: make(map[string]bool),
	}

	for _, s := range synonyms {
		m.canonical[s.Canonical] = true
	}
	for _, s := range synonyms {
		pattern := collapse(s.Pattern)
		if pattern == "" {
			continue
		}
		m.synonyms = append(m.synonyms, Synonym{Pattern: pattern, Canonical: s.Canonical})
		if _, ok := m.exact[pattern]; !ok {
			m.exact[pattern] = s.Canonical
		}
	}
	for c := range m.canonical {
		key := collapse(c)
		if _, ok := m.exact[key]; !ok {
			m.exact[key] = c
			m.synonyms = append(m.synonyms, Synonym{Pattern: key, Canonical: c})
		}
	}

	return m
}

// Default returns a matcher over DefaultSynonyms.
func Default() *Matcher {
	return NewMatcher(DefaultSynonyms)
}

// IsCanonical reports whether role is one of the matcher's canonical labels.
func (m *Matcher) IsCanonical(role string) bool {
	return m.canonical[role]
}

// Normalize maps a role label to its canonical form. Matching is
// case-insensitive and whitespace-collapsing; an exact synonym wins, otherwise
// the longest synonym found as a whole-word substring, plurals included. Unknown labels are
// returned unchanged.
func (m *Matcher) Normalize(role string) string {
	key := collapse(role)
	if key == "" {
		return role
	}

	if canonical, ok := m.exact[key]; ok {
		return canonical
	}

	best := -1
	for i, s := range m.synonyms {
		if len(s.Pattern) > len(key) {
			continue
		}
		if best >= 0 && len(s.Pattern) <= len(m.synonyms[best].Pattern) {
			continue
		}
		if containsWord(key, s.Pattern) {
			best = i
		}
	}
	if best < 0 {
		return role
	}
	return m.synonyms[best].Canonical
}

// Split breaks a multi-role field into its individual, trimmed roles. A field
// without a delimiter yields a single-element list.
func Split(role string) []string {
	parts := strings.FieldsFunc(role, func(r rune) bool {
		return strings.ContainsRune(Delimiters, r)
	})

	roles := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			roles = append(roles, p)
		}
	}
	return roles
}

// Match reports whether any of the candidate's roles normalizes to the same
// canonical role as the client's role.
func (m *Matcher) Match(candidateRole, clientRole string) bool {
	want := m.Normalize(clientRole)
	if !m.IsCanonical(want) {
		return false
	}

	for _, r := range Split(candidateRole) {
		if m.Normalize(r) == want {
			return true
		}
	}
	return false
}

// collapse lowercases s, trims it and folds internal whitespace runs to one space.
func collapse(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// containsWord reports whether word occurs in s bounded by non-alphanumerics or
// the string ends. A trailing plural "s" still counts as the word's end.
func containsWord(s, word string) bool {
	for offset := 0; offset <= len(s)-len(word); {
		idx := strings.Index(s[offset:], word)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(word)
		if boundary(s, start-1) && (boundary(s, end) || plural(s, end)) {
			return true
		}
		offset = start + 1
	}
	return false
}

func plural(s string, i int) bool {
	return i < len(s) && s[i] == 's' && boundary(s, i+1)
}

func boundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	r := rune(s[i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
