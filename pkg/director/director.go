// Package director produces prose narration plus structured side effects
// (memories, an importance rating, flag mutations) from a single
// structured-output model call per invocation. Model failures degrade to
// safe responses; the player never sees an error.
package director

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/indraastra/iffy-sub000/pkg/llm"
	"github.com/indraastra/iffy-sub000/pkg/metrics"
	"github.com/indraastra/iffy-sub000/pkg/prompts"
	"github.com/indraastra/iffy-sub000/pkg/story"
)

// Mode selects the kind of narration a director call produces.
type Mode string

const (
	ModeInitial    Mode = "initial"
	ModeAction     Mode = "action"
	ModeTransition Mode = "transition"
	ModeEnding     Mode = "ending"
	ModePostEnding Mode = "post_ending"
)

const (
	// NarrationTemperature is the default sampling temperature.
	NarrationTemperature = 0.7
	// RepairTemperature is used for the single schema-repair call.
	RepairTemperature = 0.2
)

// FlagChanges is the structured flag mutation set the narrator reports.
type FlagChanges struct {
	Set   []string `json:"set,omitempty"`
	Clear []string `json:"clear,omitempty"`
}

// Response is the uniform outcome of one director invocation.
type Response struct {
	Reasoning   string
	Narrative   []string
	Memories    []string
	Importance  int
	FlagChanges *FlagChanges
	Usage       llm.Usage
	// Err signals a degraded response (unconfigured backend or exhausted
	// recovery). The narrative is still safe to show the player.
	Err bool
}

// Text joins the narrative paragraphs for display.
func (r *Response) Text() string {
	out := ""
	for i, p := range r.Narrative {
		if i > 0 {
			out += "\n\n"
		}
		out += p
	}
	return out
}

// Context is everything one director call consumes. The engine assembles
// it; the director only renders and recovers.
type Context struct {
	Mode         Mode
	Story        *story.Story
	SceneID      string
	SceneSketch  string
	TargetID     string // transition/ending modes
	TargetSketch string
	PlayerAction string
	History      []prompts.Exchange
	Memories     []string
	// FlagState enables flag extraction (the flag-centric engine variant).
	FlagState map[string]story.Value
	// TrackFlags controls whether flag instructions are included.
	TrackFlags bool
}

// Director turns a Context into narration via the quality model tier.
type Director struct {
	model    llm.LanguageModel
	logger   *slog.Logger
	recorder metrics.Recorder
}

// New creates a director. A nil model is allowed; narration then degrades
// to an instructional message without any calls.
func New(model llm.LanguageModel, logger *slog.Logger, recorder metrics.Recorder) *Director {
	if recorder == nil {
		recorder = metrics.Noop{}
	}
	return &Director{model: model, logger: logger, recorder: recorder}
}

// rawResponse is the schema-shaped model output. Narrative uses a lenient
// decoder because models sometimes return a JSON-encoded string where an
// array belongs.
type rawResponse struct {
	Reasoning   string          `json:"reasoning"`
	Narrative   narrativeParts  `json:"narrative"`
	Memories    []string        `json:"memories"`
	Importance  int             `json:"importance"`
	FlagChanges *FlagChanges    `json:"flag_changes,omitempty"`
}

// Schema returns the JSON schema for narration output.
func Schema() *llm.Schema {
	return &llm.Schema{
		Name: "narration",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"reasoning": map[string]any{"type": "string"},
				"narrative": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
				"memories": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
				"importance": map[string]any{"type": "integer", "minimum": 1, "maximum": 10},
				"flag_changes": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"set":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						"clear": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					},
				},
			},
			"required": []string{"narrative", "memories", "importance"},
		},
	}
}

// Narrate produces narration for the given context. It never returns an
// error; all failures degrade to a safe Response with Err set.
func (d *Director) Narrate(ctx context.Context, dctx Context) *Response {
	if d.model == nil {
		resp := d.unconfiguredResponse(dctx.Mode)
		return resp
	}

	start := time.Now()
	resp := d.narrate(ctx, dctx)
	d.recorder.RecordTurn(string(dctx.Mode), time.Since(start), resp.Usage)
	return resp
}

func (d *Director) narrate(ctx context.Context, dctx Context) *Response {
	messages, err := d.buildMessages(dctx)
	if err != nil {
		if d.logger != nil {
			d.logger.Error("Failed to build narration prompt", "error", err, "mode", dctx.Mode)
		}
		return d.fallbackResponse(dctx.Mode)
	}

	result, err := d.model.Invoke(ctx, messages, Schema(), llm.Options{
		Temperature: llm.Temp(NarrationTemperature),
	})
	if err != nil {
		if d.logger != nil {
			d.logger.Warn("Narration call failed, attempting repair", "error", err, "mode", dctx.Mode)
		}
		return d.repair(ctx, dctx, fmt.Sprintf("the previous call failed: %v", err), "")
	}

	resp, parseErr := d.parse(result, dctx.Mode)
	if parseErr != nil {
		if d.logger != nil {
			d.logger.Warn("Narration output failed schema parse, attempting repair",
				"error", parseErr, "mode", dctx.Mode)
		}
		return d.repair(ctx, dctx, parseErr.Error(), string(result.Data))
	}
	return resp
}

// repair issues the single recovery call: the malformed raw text plus an
// explicit schema reminder, at a lower temperature. A second failure falls
// back to the minimal safe response.
func (d *Director) repair(ctx context.Context, dctx Context, reason, rawText string) *Response {
	reminder := "Your previous output could not be used (" + reason + "). " +
		"Reply again with ONLY a single JSON object matching the requested schema. " +
		"The \"narrative\" field must be a JSON array of paragraph strings."
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: reminder},
	}
	if rawText != "" {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: "Previous output:\n" + rawText})
	} else {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: "Narrate the player's action: " + dctx.PlayerAction})
	}

	result, err := d.model.Invoke(ctx, messages, Schema(), llm.Options{
		Temperature: llm.Temp(RepairTemperature),
	})
	if err != nil {
		if d.logger != nil {
			d.logger.Error("Repair call failed, falling back to safe response", "error", err, "mode", dctx.Mode)
		}
		return d.fallbackResponse(dctx.Mode)
	}

	resp, parseErr := d.parse(result, dctx.Mode)
	if parseErr != nil {
		if d.logger != nil {
			d.logger.Error("Repair output still malformed, falling back to safe response",
				"error", parseErr, "mode", dctx.Mode)
		}
		return d.fallbackResponse(dctx.Mode)
	}
	return resp
}

func (d *Director) buildMessages(dctx Context) ([]llm.Message, error) {
	b := prompts.New().
		WithStory(dctx.Story).
		WithMode(string(dctx.Mode)).
		WithScene(dctx.SceneID, dctx.SceneSketch).
		WithTarget(dctx.TargetID, dctx.TargetSketch).
		WithAction(dctx.PlayerAction).
		WithHistory(dctx.History).
		WithMemories(dctx.Memories)
	if dctx.TrackFlags {
		b = b.WithFlagState(dctx.FlagState)
	}
	return b.BuildNarration()
}

func (d *Director) parse(result *llm.Result, mode Mode) (*Response, error) {
	var raw rawResponse
	if err := json.Unmarshal(result.Data, &raw); err != nil {
		return nil, fmt.Errorf("output did not match narration schema: %w", err)
	}
	if len(raw.Narrative) == 0 {
		return nil, fmt.Errorf("output contained no narrative")
	}

	importance := raw.Importance
	if importance < 1 || importance > 10 {
		importance = DefaultImportance(mode)
	}

	return &Response{
		Reasoning:   raw.Reasoning,
		Narrative:   raw.Narrative,
		Memories:    raw.Memories,
		Importance:  importance,
		FlagChanges: raw.FlagChanges,
		Usage:       result.Usage,
	}, nil
}

// DefaultImportance is the per-mode importance used when the model omits or
// mangles the rating. An ending is always the weightiest interaction.
func DefaultImportance(mode Mode) int {
	switch mode {
	case ModeInitial:
		return 7
	case ModeTransition:
		return 6
	case ModeEnding:
		return 8
	case ModePostEnding:
		return 4
	default:
		return 5
	}
}

// fallbackResponse is the minimal safe response after exhausted recovery.
func (d *Director) fallbackResponse(mode Mode) *Response {
	return &Response{
		Narrative:  []string{"I need a moment to process what you said."},
		Importance: 5,
		Err:        true,
	}
}

// unconfiguredResponse instructs the user to configure a backend.
func (d *Director) unconfiguredResponse(mode Mode) *Response {
	return &Response{
		Narrative: []string{
			"No language model is configured, so the story cannot continue.",
			"Set LLM_PROVIDER together with ANTHROPIC_API_KEY or OPENAI_API_KEY and restart.",
		},
		Importance: DefaultImportance(mode),
		Err:        true,
	}
}
