package flags

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indraastra/iffy-sub000/pkg/story"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewStoreSeedsDefaults(t *testing.T) {
	defs := map[string]story.FlagDef{
		"door_open": {Default: story.BoolValue(false)},
		"reputation": {Default: story.NumberValue(10)},
	}
	s := NewStore(defs, testLogger())

	v, ok := s.Get("door_open")
	require.True(t, ok)
	assert.True(t, v.Equal(story.BoolValue(false)))

	v, ok = s.Get("reputation")
	require.True(t, ok)
	assert.True(t, v.Equal(story.NumberValue(10)))

	_, ok = s.Get("undeclared")
	assert.False(t, ok)
}

func TestEvaluate(t *testing.T) {
	s := NewStore(nil, testLogger())
	s.Set("a", story.BoolValue(true))
	s.Set("b", story.BoolValue(false))
	s.Set("name", story.StringValue("true"))
	s.Set("count", story.NumberValue(1))

	tests := []struct {
		name string
		cond *story.Condition
		want bool
	}{
		{"nil condition", nil, true},
		{"empty condition", &story.Condition{}, true},
		{"all_of satisfied", &story.Condition{AllOf: []string{"a"}}, true},
		{"all_of unsatisfied", &story.Condition{AllOf: []string{"a", "b"}}, false},
		{"all_of missing flag", &story.Condition{AllOf: []string{"ghost"}}, false},
		{"any_of satisfied", &story.Condition{AnyOf: []string{"b", "a"}}, true},
		{"any_of unsatisfied", &story.Condition{AnyOf: []string{"b", "ghost"}}, false},
		{"empty any_of is never satisfied", &story.Condition{AnyOf: []string{}}, false},
		{"none_of satisfied", &story.Condition{NoneOf: []string{"b", "ghost"}}, true},
		{"none_of unsatisfied", &story.Condition{NoneOf: []string{"a"}}, false},
		{"negated false flag", &story.Condition{AllOf: []string{"!b"}}, true},
		{"negated true flag", &story.Condition{AllOf: []string{"!a"}}, false},
		{"negated missing flag", &story.Condition{AllOf: []string{"!ghost"}}, true},
		{"string flag is not true", &story.Condition{AllOf: []string{"name"}}, false},
		{"number flag is not true", &story.Condition{AllOf: []string{"count"}}, false},
		{"negated string flag", &story.Condition{AllOf: []string{"!name"}}, true},
		{
			"clauses combine as AND",
			&story.Condition{AllOf: []string{"a"}, AnyOf: []string{"a"}, NoneOf: []string{"b"}},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Evaluate(tt.cond))
		})
	}
}

func TestEvaluateCacheInvalidation(t *testing.T) {
	s := NewStore(nil, testLogger())
	cond := &story.Condition{AllOf: []string{"door_open"}}

	assert.False(t, s.Evaluate(cond))
	// Cached result must not survive a mutation.
	s.Set("door_open", story.BoolValue(true))
	assert.True(t, s.Evaluate(cond))

	s.ApplyBatch(nil, []string{"door_open"})
	assert.False(t, s.Evaluate(cond))

	s.SetLocation("hallway")
	assert.True(t, s.Evaluate(&story.Condition{AllOf: []string{"at_hallway"}}))
}

func TestRequiresGuard(t *testing.T) {
	defs := map[string]story.FlagDef{
		"searched_straw": {Default: story.BoolValue(false)},
		"has_key": {
			Default:  story.BoolValue(false),
			Requires: &story.Condition{AllOf: []string{"searched_straw"}},
		},
	}
	s := NewStore(defs, testLogger())

	// Guarded write is silently dropped while the guard is unsatisfied.
	s.Set("has_key", story.BoolValue(true))
	assert.False(t, s.IsTrue("has_key"))

	s.Set("searched_straw", story.BoolValue(true))
	s.Set("has_key", story.BoolValue(true))
	assert.True(t, s.IsTrue("has_key"))

	// Clearing back to the default is always allowed.
	s.Set("searched_straw", story.BoolValue(false))
	s.Set("has_key", story.BoolValue(false))
	assert.False(t, s.IsTrue("has_key"))
}

func TestApplyBatchGuardSeesEarlierWrites(t *testing.T) {
	defs := map[string]story.FlagDef{
		"searched_straw": {Default: story.BoolValue(false)},
		"has_key": {
			Default:  story.BoolValue(false),
			Requires: &story.Condition{AllOf: []string{"searched_straw"}},
		},
	}
	s := NewStore(defs, testLogger())

	// The prerequisite is set in the same batch, before the guarded flag.
	s.ApplyBatch([]string{"searched_straw", "has_key"}, nil)
	assert.True(t, s.IsTrue("searched_straw"))
	assert.True(t, s.IsTrue("has_key"))
}

func TestApplyBatchClearsToDefault(t *testing.T) {
	defs := map[string]story.FlagDef{
		"mood": {Default: story.StringValue("calm")},
	}
	s := NewStore(defs, testLogger())
	s.Set("mood", story.StringValue("angry"))
	s.Set("improvised", story.BoolValue(true))

	s.ApplyBatch(nil, []string{"mood", "improvised"})

	v, _ := s.Get("mood")
	assert.True(t, v.Equal(story.StringValue("calm")))
	// Undeclared flags clear to boolean false.
	v, _ = s.Get("improvised")
	assert.True(t, v.Equal(story.BoolValue(false)))
}

func TestSetLocationExclusivity(t *testing.T) {
	s := NewStore(nil, testLogger())

	s.SetLocation("cell")
	assert.True(t, s.IsTrue("at_cell"))
	assert.Equal(t, "cell", s.Location())

	s.SetLocation("hallway")
	assert.False(t, s.IsTrue("at_cell"))
	assert.True(t, s.IsTrue("at_hallway"))
	assert.Equal(t, "hallway", s.Location())

	// At most one location flag is ever true.
	trueLocations := 0
	for name, v := range s.Snapshot() {
		if strings.HasPrefix(name, LocationPrefix) && v.IsTrue() {
			trueLocations++
		}
	}
	assert.Equal(t, 1, trueLocations)
}

func TestSeedBypassesGuard(t *testing.T) {
	defs := map[string]story.FlagDef{
		"has_key": {
			Default:  story.BoolValue(false),
			Requires: &story.Condition{AllOf: []string{"searched_straw"}},
		},
	}
	s := NewStore(defs, testLogger())

	s.Seed(map[string]story.Value{"has_key": story.BoolValue(true)})
	assert.True(t, s.IsTrue("has_key"))
}

func TestSnapshotRestore(t *testing.T) {
	s := NewStore(nil, testLogger())
	s.Set("a", story.BoolValue(true))
	s.SetLocation("cell")

	snap := s.Snapshot()

	// Snapshot is a copy, not a view.
	snap["a"] = story.BoolValue(false)
	assert.True(t, s.IsTrue("a"))

	other := NewStore(nil, testLogger())
	other.Set("stale", story.BoolValue(true))
	other.Restore(s.Snapshot())

	assert.True(t, other.IsTrue("a"))
	assert.Equal(t, "cell", other.Location())
	// Restore is wholesale; prior values do not survive.
	_, ok := other.Get("stale")
	assert.False(t, ok)
}
