package story

import (
	"sort"
	"strings"
)

// Condition is a structural predicate over flag names. Entries may be
// prefixed with "!" to require the flag NOT be true. Conditions are pure
// data; they are evaluated against a flag store, never mutated.
//
// Semantics: empty or missing all_of/none_of clauses are vacuously true;
// an empty any_of clause is vacuously false (no disjunct can be satisfied).
type Condition struct {
	AllOf  []string `yaml:"all_of,omitempty" json:"all_of,omitempty"`
	AnyOf  []string `yaml:"any_of,omitempty" json:"any_of,omitempty"`
	NoneOf []string `yaml:"none_of,omitempty" json:"none_of,omitempty"`
}

// IsEmpty reports whether the condition places no constraints at all.
// Note an empty AnyOf slice is a constraint (it can never be satisfied),
// so IsEmpty distinguishes nil from empty slices.
func (c *Condition) IsEmpty() bool {
	return c == nil || (len(c.AllOf) == 0 && c.AnyOf == nil && len(c.NoneOf) == 0)
}

// Key returns a canonical serialization of the condition, used as a cache
// key by the flag store. Term order within a clause is not significant, so
// terms are sorted.
func (c *Condition) Key() string {
	if c == nil {
		return "all=|any=nil|none="
	}
	var sb strings.Builder
	sb.WriteString("all=")
	sb.WriteString(sortedTerms(c.AllOf))
	if c.AnyOf == nil {
		sb.WriteString("|any=nil")
	} else {
		sb.WriteString("|any=")
		sb.WriteString(sortedTerms(c.AnyOf))
	}
	sb.WriteString("|none=")
	sb.WriteString(sortedTerms(c.NoneOf))
	return sb.String()
}

// Terms returns every flag name the condition references, with negation
// markers stripped. Used by story validation.
func (c *Condition) Terms() []string {
	if c == nil {
		return nil
	}
	var names []string
	for _, clause := range [][]string{c.AllOf, c.AnyOf, c.NoneOf} {
		for _, term := range clause {
			names = append(names, strings.TrimPrefix(term, "!"))
		}
	}
	return names
}

// Describe renders the condition as compact natural language for prompts,
// e.g. "door_open AND NOT guard_alerted".
func (c *Condition) Describe() string {
	if c.IsEmpty() {
		return "always"
	}
	var parts []string
	describeTerm := func(term string) string {
		if name, ok := strings.CutPrefix(term, "!"); ok {
			return "NOT " + name
		}
		return term
	}
	for _, term := range c.AllOf {
		parts = append(parts, describeTerm(term))
	}
	if c.AnyOf != nil {
		var alts []string
		for _, term := range c.AnyOf {
			alts = append(alts, describeTerm(term))
		}
		if len(alts) == 0 {
			parts = append(parts, "never")
		} else {
			parts = append(parts, "("+strings.Join(alts, " OR ")+")")
		}
	}
	for _, term := range c.NoneOf {
		parts = append(parts, "NOT "+strings.TrimPrefix(term, "!"))
	}
	return strings.Join(parts, " AND ")
}

func sortedTerms(terms []string) string {
	if len(terms) == 0 {
		return ""
	}
	sorted := make([]string, len(terms))
	copy(sorted, terms)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
