package story

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validStoryYAML = `
title: "The Locked Cell"
rating: "PG-13"
start: cell
scenes:
  cell:
    sketch: "A stone cell with a heavy door."
    transitions:
      hallway:
        all_of: [door_open, at_hallway]
      oubliette:
        any_of: [fell_through, pushed]
  hallway:
    sketch: "A torch-lit hallway."
    initial_flags:
      torch_lit: true
  oubliette:
    sketch: "Darkness below."
flags:
  door_open:
    default: false
    description: "The cell door has been opened."
  has_key:
    default: false
    requires:
      all_of: [searched_straw]
endings:
  requires:
    all_of: [door_open]
  variations:
    - id: freedom
      sketch: "The player walks out."
      requires:
        none_of: [guard_alerted]
    - id: captured
      sketch: "The guards drag the player back."
      requires:
        all_of: [guard_alerted]
`

func TestLoad(t *testing.T) {
	s, err := Load(strings.NewReader(validStoryYAML))
	require.NoError(t, err)

	assert.Equal(t, "The Locked Cell", s.Title)
	assert.Equal(t, "PG-13", s.Rating)
	assert.Len(t, s.Scenes, 3)
	assert.True(t, s.HasEndings())

	// Scene ids are filled in from the map keys.
	assert.Equal(t, "cell", s.Scenes["cell"].ID)
	assert.Equal(t, "hallway", s.Scenes["hallway"].ID)

	start, err := s.StartScene()
	require.NoError(t, err)
	assert.Equal(t, "cell", start.ID)

	// Transition order follows declaration order, not map iteration.
	transitions := s.Scenes["cell"].Transitions
	require.Len(t, transitions, 2)
	assert.Equal(t, "hallway", transitions[0].Target)
	assert.Equal(t, []string{"door_open", "at_hallway"}, transitions[0].If.AllOf)
	assert.Equal(t, "oubliette", transitions[1].Target)
	assert.Equal(t, []string{"fell_through", "pushed"}, transitions[1].If.AnyOf)

	require.Contains(t, s.Flags, "has_key")
	assert.NotNil(t, s.Flags["has_key"].Requires)
	assert.True(t, s.Flags["door_open"].Default.Equal(BoolValue(false)))

	assert.True(t, s.Scenes["hallway"].InitialFlags["torch_lit"].IsTrue())
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing title",
			yaml:    "scenes:\n  a:\n    sketch: x\n",
			wantErr: "title is required",
		},
		{
			name:    "no scenes",
			yaml:    "title: Empty\n",
			wantErr: "no scenes",
		},
		{
			name:    "unknown field",
			yaml:    "title: T\nauthor: someone\nscenes:\n  a:\n    sketch: x\n",
			wantErr: "field author not found",
		},
		{
			name:    "scene without sketch",
			yaml:    "title: T\nscenes:\n  a: {}\n",
			wantErr: "has no sketch",
		},
		{
			name:    "unknown transition target",
			yaml:    "title: T\nscenes:\n  a:\n    sketch: x\n    transitions:\n      nowhere: ~\n",
			wantErr: `transition to unknown scene "nowhere"`,
		},
		{
			name:    "missing start scene",
			yaml:    "title: T\nstart: b\nscenes:\n  a:\n    sketch: x\n",
			wantErr: `start scene "b" not found`,
		},
		{
			name:    "multiple scenes without start",
			yaml:    "title: T\nscenes:\n  a:\n    sketch: x\n  b:\n    sketch: y\n",
			wantErr: "no start scene declared",
		},
		{
			name:    "transitions as a list",
			yaml:    "title: T\nscenes:\n  a:\n    sketch: x\n    transitions:\n      - a\n",
			wantErr: "transitions must be a mapping",
		},
		{
			name:    "ending without id",
			yaml:    "title: T\nscenes:\n  a:\n    sketch: x\nendings:\n  variations:\n    - sketch: done\n",
			wantErr: "has no id",
		},
		{
			name:    "duplicate ending id",
			yaml:    "title: T\nscenes:\n  a:\n    sketch: x\nendings:\n  variations:\n    - id: e\n      sketch: one\n    - id: e\n      sketch: two\n",
			wantErr: `duplicate ending id "e"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStartSceneSingleSceneFallback(t *testing.T) {
	yaml := "title: T\nscenes:\n  only:\n    sketch: x\n"
	s, err := Load(strings.NewReader(yaml))
	require.NoError(t, err)

	start, err := s.StartScene()
	require.NoError(t, err)
	assert.Equal(t, "only", start.ID)
}

func TestConditionIsEmpty(t *testing.T) {
	var nilCond *Condition
	assert.True(t, nilCond.IsEmpty())
	assert.True(t, (&Condition{}).IsEmpty())
	assert.False(t, (&Condition{AllOf: []string{"a"}}).IsEmpty())
	// An empty any_of is unsatisfiable, which is a constraint.
	assert.False(t, (&Condition{AnyOf: []string{}}).IsEmpty())
}

func TestConditionKey(t *testing.T) {
	a := &Condition{AllOf: []string{"b", "a"}, NoneOf: []string{"c"}}
	b := &Condition{AllOf: []string{"a", "b"}, NoneOf: []string{"c"}}
	assert.Equal(t, a.Key(), b.Key())

	// nil AnyOf and empty AnyOf have different semantics and different keys.
	withNil := &Condition{AllOf: []string{"a"}}
	withEmpty := &Condition{AllOf: []string{"a"}, AnyOf: []string{}}
	assert.NotEqual(t, withNil.Key(), withEmpty.Key())

	var nilCond *Condition
	assert.NotEmpty(t, nilCond.Key())
}

func TestConditionTerms(t *testing.T) {
	c := &Condition{
		AllOf:  []string{"a", "!b"},
		AnyOf:  []string{"c"},
		NoneOf: []string{"!d"},
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, c.Terms())

	var nilCond *Condition
	assert.Nil(t, nilCond.Terms())
}

func TestConditionDescribe(t *testing.T) {
	tests := []struct {
		name string
		cond *Condition
		want string
	}{
		{"nil", nil, "always"},
		{"empty", &Condition{}, "always"},
		{
			"all with negation",
			&Condition{AllOf: []string{"door_open", "!guard_alerted"}},
			"door_open AND NOT guard_alerted",
		},
		{
			"any",
			&Condition{AnyOf: []string{"bribed", "sneaked"}},
			"(bribed OR sneaked)",
		},
		{
			"none",
			&Condition{NoneOf: []string{"alarm"}},
			"NOT alarm",
		},
		{
			"empty any is unsatisfiable",
			&Condition{AnyOf: []string{}},
			"never",
		},
		{
			"mixed",
			&Condition{AllOf: []string{"a"}, AnyOf: []string{"b", "c"}, NoneOf: []string{"d"}},
			"a AND (b OR c) AND NOT d",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cond.Describe())
		})
	}
}

func TestValueJSON(t *testing.T) {
	tests := []struct {
		name string
		json string
		want Value
	}{
		{"bool", `true`, BoolValue(true)},
		{"number", `3.5`, NumberValue(3.5)},
		{"string", `"west"`, StringValue("west")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v Value
			require.NoError(t, v.UnmarshalJSON([]byte(tt.json)))
			assert.True(t, v.Equal(tt.want))

			out, err := v.MarshalJSON()
			require.NoError(t, err)
			assert.JSONEq(t, tt.json, string(out))
		})
	}

	var v Value
	assert.Error(t, v.UnmarshalJSON([]byte(`{"nested": true}`)))
}

func TestValueIsTrue(t *testing.T) {
	assert.True(t, BoolValue(true).IsTrue())
	assert.False(t, BoolValue(false).IsTrue())
	// Non-boolean values never satisfy a condition term.
	assert.False(t, StringValue("true").IsTrue())
	assert.False(t, NumberValue(1).IsTrue())
}

func TestValueString(t *testing.T) {
	assert.Equal(t, "true", BoolValue(true).String())
	assert.Equal(t, "cell", StringValue("cell").String())
	assert.Equal(t, "2.5", NumberValue(2.5).String())
	assert.Equal(t, "3", NumberValue(3).String())
}

func TestStringListAcceptsScalarOrList(t *testing.T) {
	yaml := `
title: T
scenes:
  a:
    sketch: x
endings:
  when: "the player escapes"
  variations:
    - id: out
      sketch: free
      when:
        - "with the key"
        - "through the window"
`
	s, err := Load(strings.NewReader(yaml))
	require.NoError(t, err)
	assert.Equal(t, StringList{"the player escapes"}, s.Endings.When)
	assert.Equal(t, StringList{"with the key", "through the window"}, s.Endings.Variations[0].When)
}
