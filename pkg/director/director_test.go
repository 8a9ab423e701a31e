package director

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indraastra/iffy-sub000/pkg/llm"
	"github.com/indraastra/iffy-sub000/pkg/story"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testStory() *story.Story {
	return &story.Story{
		Title: "The Locked Cell",
		Voice: "Second person, present tense.",
		Scenes: map[string]*story.Scene{
			"cell": {ID: "cell", Sketch: "A stone cell with a heavy door."},
		},
	}
}

func directorContext(mode Mode) Context {
	return Context{
		Mode:         mode,
		Story:        testStory(),
		SceneID:      "cell",
		SceneSketch:  "A stone cell with a heavy door.",
		PlayerAction: "look around",
	}
}

const goodNarration = `{
	"reasoning": "The player surveys the cell.",
	"narrative": ["The cell is cold.", "The door looms."],
	"memories": ["The player examined the cell."],
	"importance": 6
}`

func TestNarrate(t *testing.T) {
	model := llm.NewMockModel()
	model.InvokeFunc = func(ctx context.Context, messages []llm.Message, schema *llm.Schema, opts llm.Options) (*llm.Result, error) {
		return &llm.Result{
			Data:  []byte(goodNarration),
			Usage: llm.Usage{InputTokens: 100, OutputTokens: 40},
		}, nil
	}
	d := New(model, testLogger(), nil)

	resp := d.Narrate(context.Background(), directorContext(ModeAction))

	assert.False(t, resp.Err)
	assert.Equal(t, []string{"The cell is cold.", "The door looms."}, resp.Narrative)
	assert.Equal(t, "The cell is cold.\n\nThe door looms.", resp.Text())
	assert.Equal(t, []string{"The player examined the cell."}, resp.Memories)
	assert.Equal(t, 6, resp.Importance)
	assert.Equal(t, llm.Usage{InputTokens: 100, OutputTokens: 40}, resp.Usage)

	call := model.LastCall()
	require.NotNil(t, call)
	require.NotNil(t, call.Options.Temperature)
	assert.Equal(t, NarrationTemperature, *call.Options.Temperature)
	assert.False(t, call.Options.UseCostModel)
	require.NotNil(t, call.Schema)
	assert.Equal(t, "narration", call.Schema.Name)
}

func TestNarrateNilModel(t *testing.T) {
	d := New(nil, testLogger(), nil)

	resp := d.Narrate(context.Background(), directorContext(ModeAction))

	assert.True(t, resp.Err)
	require.NotEmpty(t, resp.Narrative)
	assert.Contains(t, resp.Narrative[0], "No language model is configured")
}

func TestNarrateRepairsMalformedOutput(t *testing.T) {
	model := llm.NewMockModel()
	model.InvokeFunc = func(ctx context.Context, messages []llm.Message, schema *llm.Schema, opts llm.Options) (*llm.Result, error) {
		if len(model.InvokeCalls) == 1 {
			return &llm.Result{Data: []byte(`You look around the cell.`)}, nil
		}
		return &llm.Result{Data: []byte(goodNarration)}, nil
	}
	d := New(model, testLogger(), nil)

	resp := d.Narrate(context.Background(), directorContext(ModeAction))

	assert.False(t, resp.Err)
	assert.Equal(t, 2, model.CallCount())

	// The repair call runs cooler and carries the malformed output back.
	repair := model.LastCall()
	require.NotNil(t, repair.Options.Temperature)
	assert.Equal(t, RepairTemperature, *repair.Options.Temperature)
	var sawRaw bool
	for _, m := range repair.Messages {
		if m.Role == llm.RoleUser && m.Content == "Previous output:\nYou look around the cell." {
			sawRaw = true
		}
	}
	assert.True(t, sawRaw)
}

func TestNarrateRepairsAfterCallError(t *testing.T) {
	model := llm.NewMockModel()
	model.InvokeFunc = func(ctx context.Context, messages []llm.Message, schema *llm.Schema, opts llm.Options) (*llm.Result, error) {
		if len(model.InvokeCalls) == 1 {
			return nil, errors.New("rate limited")
		}
		return &llm.Result{Data: []byte(goodNarration)}, nil
	}
	d := New(model, testLogger(), nil)

	resp := d.Narrate(context.Background(), directorContext(ModeAction))

	assert.False(t, resp.Err)
	assert.Equal(t, 2, model.CallCount())
}

func TestNarrateFallsBackAfterFailedRepair(t *testing.T) {
	tests := []struct {
		name   string
		invoke func(ctx context.Context, messages []llm.Message, schema *llm.Schema, opts llm.Options) (*llm.Result, error)
	}{
		{
			name: "both calls error",
			invoke: func(ctx context.Context, messages []llm.Message, schema *llm.Schema, opts llm.Options) (*llm.Result, error) {
				return nil, errors.New("unavailable")
			},
		},
		{
			name: "both outputs malformed",
			invoke: func(ctx context.Context, messages []llm.Message, schema *llm.Schema, opts llm.Options) (*llm.Result, error) {
				return &llm.Result{Data: []byte(`not json`)}, nil
			},
		},
		{
			name: "empty narrative",
			invoke: func(ctx context.Context, messages []llm.Message, schema *llm.Schema, opts llm.Options) (*llm.Result, error) {
				return &llm.Result{Data: []byte(`{"narrative": [], "memories": [], "importance": 5}`)}, nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := llm.NewMockModel()
			model.InvokeFunc = tt.invoke
			d := New(model, testLogger(), nil)

			resp := d.Narrate(context.Background(), directorContext(ModeAction))

			assert.True(t, resp.Err)
			assert.Equal(t, []string{"I need a moment to process what you said."}, resp.Narrative)
			assert.Equal(t, 5, resp.Importance)
			// One narration call plus exactly one repair call.
			assert.Equal(t, 2, model.CallCount())
		})
	}
}

func TestNarrateClampsImportance(t *testing.T) {
	tests := []struct {
		name       string
		mode       Mode
		importance string
		want       int
	}{
		{"zero defaults by mode", ModeAction, "0", 5},
		{"too high defaults by mode", ModeEnding, "99", 8},
		{"initial default", ModeInitial, "-1", 7},
		{"transition default", ModeTransition, "0", 6},
		{"post-ending default", ModePostEnding, "0", 4},
		{"in-range kept", ModeAction, "9", 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := llm.NewMockModel()
			model.InvokeFunc = func(ctx context.Context, messages []llm.Message, schema *llm.Schema, opts llm.Options) (*llm.Result, error) {
				data := `{"narrative": ["Something happens."], "memories": [], "importance": ` + tt.importance + `}`
				return &llm.Result{Data: []byte(data)}, nil
			}
			d := New(model, testLogger(), nil)

			resp := d.Narrate(context.Background(), directorContext(tt.mode))
			assert.Equal(t, tt.want, resp.Importance)
		})
	}
}

func TestNarrateFlagChanges(t *testing.T) {
	model := llm.NewMockModel()
	model.InvokeFunc = func(ctx context.Context, messages []llm.Message, schema *llm.Schema, opts llm.Options) (*llm.Result, error) {
		data := `{
			"narrative": ["The lock gives way."],
			"memories": [],
			"importance": 6,
			"flag_changes": {"set": ["door_open"], "clear": ["door_locked"]}
		}`
		return &llm.Result{Data: []byte(data)}, nil
	}
	d := New(model, testLogger(), nil)

	dctx := directorContext(ModeAction)
	dctx.TrackFlags = true
	dctx.FlagState = map[string]story.Value{"door_locked": story.BoolValue(true)}

	resp := d.Narrate(context.Background(), dctx)

	require.NotNil(t, resp.FlagChanges)
	assert.Equal(t, []string{"door_open"}, resp.FlagChanges.Set)
	assert.Equal(t, []string{"door_locked"}, resp.FlagChanges.Clear)

	// Flag tracking shows the model the current state.
	call := model.LastCall()
	require.NotEmpty(t, call.Messages)
	assert.Contains(t, call.Messages[0].Content, "door_locked")
}

func TestNarrativePartsRecovery(t *testing.T) {
	tests := []struct {
		name string
		json string
		want []string
	}{
		{
			"native array",
			`["First.", "Second."]`,
			[]string{"First.", "Second."},
		},
		{
			"array encoded as a string",
			`"[\"First.\", \"Second.\"]"`,
			[]string{"First.", "Second."},
		},
		{
			"malformed bracketed string",
			`"[\"First.\" \"Second.\"]"`,
			[]string{"First.", "Second."},
		},
		{
			"plain string wraps whole",
			`"Just one paragraph."`,
			[]string{"Just one paragraph."},
		},
		{
			"empty brackets wrap whole",
			`"[]"`,
			[]string{"[]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var parts narrativeParts
			require.NoError(t, parts.UnmarshalJSON([]byte(tt.json)))
			assert.Equal(t, narrativeParts(tt.want), parts)
		})
	}

	var parts narrativeParts
	assert.Error(t, parts.UnmarshalJSON([]byte(`{"not": "a narrative"}`)))
}

func TestDefaultImportance(t *testing.T) {
	assert.Equal(t, 7, DefaultImportance(ModeInitial))
	assert.Equal(t, 5, DefaultImportance(ModeAction))
	assert.Equal(t, 6, DefaultImportance(ModeTransition))
	assert.Equal(t, 8, DefaultImportance(ModeEnding))
	assert.Equal(t, 4, DefaultImportance(ModePostEnding))
}
