// Package flags holds the mutable flag state for one game session and
// evaluates flag conditions against it. The store is the deterministic
// counterweight to the language model: transitions and endings fire from
// flag state alone, never from prose.
package flags

import (
	"log/slog"
	"strings"

	"github.com/indraastra/iffy-sub000/pkg/story"
)

// LocationPrefix marks the mutually exclusive location flags. At most one
// at_* flag is true at any time.
const LocationPrefix = "at_"

// LocationKey is the string flag holding the current location id.
const LocationKey = "location"

// Store holds the current flag values for a single session. It is owned by
// one engine instance and is not safe for concurrent use; the engine
// processes one turn at a time.
type Store struct {
	values map[string]story.Value
	defs   map[string]story.FlagDef
	cache  map[string]bool
	logger *slog.Logger
}

// NewStore seeds a store from the story's flag definitions. Flags without a
// definition may still be set during play; they default to absent.
func NewStore(defs map[string]story.FlagDef, logger *slog.Logger) *Store {
	s := &Store{
		values: make(map[string]story.Value, len(defs)),
		defs:   defs,
		cache:  make(map[string]bool),
		logger: logger,
	}
	for name, def := range defs {
		s.values[name] = def.Default
	}
	return s
}

// Get returns the current value of a flag.
func (s *Store) Get(name string) (story.Value, bool) {
	v, ok := s.values[name]
	return v, ok
}

// IsTrue reports whether a flag is strictly the boolean true.
func (s *Store) IsTrue(name string) bool {
	return s.values[name].IsTrue()
}

// Set writes a flag value. A non-default write to a flag with a requires
// condition is silently rejected when the condition is unsatisfied; this is
// a soft guard, so the caller gets no error, only a log line. Writes back
// to the default value are always allowed.
func (s *Store) Set(name string, v story.Value) {
	if !s.admit(name, v) {
		return
	}
	s.values[name] = v
	s.invalidate()
}

// ApplyBatch sets the listed flags true and clears the listed flags back to
// their defaults (false for undeclared flags), honoring the per-flag
// requires guard. The condition cache is invalidated exactly once.
func (s *Store) ApplyBatch(set, clear []string) {
	for _, name := range set {
		if !s.admit(name, story.BoolValue(true)) {
			continue
		}
		s.values[name] = story.BoolValue(true)
	}
	for _, name := range clear {
		s.values[name] = s.defaultFor(name)
	}
	if len(set) > 0 || len(clear) > 0 {
		s.invalidate()
	}
}

// SetLocation clears every at_* flag, sets at_<id> true, and records the
// location id. Done as one mutation so no condition check can observe a
// half-updated location.
func (s *Store) SetLocation(id string) {
	for name := range s.values {
		if strings.HasPrefix(name, LocationPrefix) && s.values[name].IsTrue() {
			s.values[name] = story.BoolValue(false)
		}
	}
	s.values[LocationPrefix+id] = story.BoolValue(true)
	s.values[LocationKey] = story.StringValue(id)
	s.invalidate()
}

// Location returns the current location id, if one has been set.
func (s *Store) Location() string {
	if v, ok := s.values[LocationKey]; ok && v.Kind == story.KindString {
		return v.Str
	}
	return ""
}

// Evaluate decides whether a condition is satisfied by current flag state.
// A nil or fully empty condition is satisfied. Per-clause semantics:
// all_of is vacuously true, none_of is vacuously true, any_of is vacuously
// false. Only values strictly equal to boolean true participate; a bare
// term never matches a string or number flag, and a negated term matches
// anything that is not boolean true.
//
// Results are cached by the condition's canonical key; the cache is fully
// dropped on every mutation. Correctness over cache efficiency.
func (s *Store) Evaluate(c *story.Condition) bool {
	if c == nil {
		return true
	}
	key := c.Key()
	if cached, ok := s.cache[key]; ok {
		return cached
	}

	result := s.evaluate(c)
	s.cache[key] = result
	return result
}

func (s *Store) evaluate(c *story.Condition) bool {
	for _, term := range c.AllOf {
		if !s.term(term) {
			return false
		}
	}
	if c.AnyOf != nil {
		satisfied := false
		for _, term := range c.AnyOf {
			if s.term(term) {
				satisfied = true
				break
			}
		}
		if !satisfied {
			return false
		}
	}
	for _, term := range c.NoneOf {
		if s.term(term) {
			return false
		}
	}
	return true
}

// term resolves one condition entry. "name" is true iff the flag is
// boolean true; "!name" is true iff it is not.
func (s *Store) term(term string) bool {
	if name, negated := strings.CutPrefix(term, "!"); negated {
		return !s.values[name].IsTrue()
	}
	return s.values[term].IsTrue()
}

// Snapshot returns a copy of all current values, for prompts and saves.
func (s *Store) Snapshot() map[string]story.Value {
	out := make(map[string]story.Value, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Restore replaces all values wholesale, e.g. when loading a save.
func (s *Store) Restore(values map[string]story.Value) {
	s.values = make(map[string]story.Value, len(values))
	for k, v := range values {
		s.values[k] = v
	}
	s.invalidate()
}

// Seed applies a scene's initial flags, bypassing the requires guard.
// Scene authorship is trusted; only model-driven writes are guarded.
func (s *Store) Seed(initial map[string]story.Value) {
	if len(initial) == 0 {
		return
	}
	for k, v := range initial {
		s.values[k] = v
	}
	s.invalidate()
}

// admit applies the requires guard: non-default writes to a guarded flag
// are admitted only while the guard condition holds.
func (s *Store) admit(name string, v story.Value) bool {
	def, declared := s.defs[name]
	if !declared || def.Requires == nil {
		return true
	}
	if v.Equal(def.Default) {
		return true
	}
	// Uncached on purpose: mid-batch guard checks must see writes made
	// earlier in the same batch, before the single cache invalidation.
	if s.evaluate(def.Requires) {
		return true
	}
	if s.logger != nil {
		s.logger.Debug("Flag write rejected, requires condition unsatisfied",
			"flag", name,
			"requires", def.Requires.Describe())
	}
	return false
}

func (s *Store) defaultFor(name string) story.Value {
	if def, ok := s.defs[name]; ok {
		return def.Default
	}
	return story.BoolValue(false)
}

func (s *Store) invalidate() {
	if len(s.cache) > 0 {
		s.cache = make(map[string]bool)
	}
}
