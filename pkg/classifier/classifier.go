// Package classifier maps free-text player input onto one of a small set
// of outcomes: continue the current scene, fire a specific transition, or
// trigger an ending. It uses the cheap model tier and never lets a bad
// model reply stall the story.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/indraastra/iffy-sub000/pkg/llm"
	"github.com/indraastra/iffy-sub000/pkg/metrics"
	"github.com/indraastra/iffy-sub000/pkg/prompts"
)

// Mode is the classified outcome kind.
type Mode string

const (
	ModeAction     Mode = "action"
	ModeTransition Mode = "scene_transition"
	ModeEnding     Mode = "ending"
)

// MaxAttempts bounds the validation-retry loop.
const MaxAttempts = 3

// ClassifierTemperature keeps classification near-deterministic.
const ClassifierTemperature = 0.1

// Candidate is one transition or ending the classifier may choose.
// Condition is the natural-language precondition shown to the model.
type Candidate struct {
	TargetID  string
	Condition string
}

// Request carries everything one classification needs.
type Request struct {
	Input       string
	SceneID     string
	SceneSketch string
	Transitions []Candidate // scene transitions, declared order
	Endings     []Candidate // ending variations, declared order
	History     []prompts.Exchange
	Memories    []string
}

// Decision is the classification outcome. TargetID is set for transition
// and ending modes.
type Decision struct {
	Mode       Mode
	TargetID   string
	Reasoning  string
	Confidence float64
}

// Classifier resolves player intent with a cheap model call.
type Classifier struct {
	model    llm.LanguageModel
	logger   *slog.Logger
	recorder metrics.Recorder
}

// New creates a classifier. A nil model is allowed; classification then
// fails open to action mode without any calls.
func New(model llm.LanguageModel, logger *slog.Logger, recorder metrics.Recorder) *Classifier {
	if recorder == nil {
		recorder = metrics.Noop{}
	}
	return &Classifier{model: model, logger: logger, recorder: recorder}
}

// reply is the schema-shaped model output.
type reply struct {
	Choice     string  `json:"choice"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
}

// Schema returns the JSON schema for the classification reply.
func Schema() *llm.Schema {
	return &llm.Schema{
		Name: "classification",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"choice":     map[string]any{"type": "string"},
				"reasoning":  map[string]any{"type": "string"},
				"confidence": map[string]any{"type": "number"},
			},
			"required": []string{"choice", "reasoning", "confidence"},
		},
	}
}

// Classify resolves the player's input to a decision. It makes at most
// MaxAttempts model calls, feeding validation failures back into each
// retry, and fails open to action mode when all attempts are exhausted.
func (c *Classifier) Classify(ctx context.Context, req Request) Decision {
	if c.model == nil {
		return Decision{
			Mode:       ModeAction,
			Confidence: 0.1,
			Reasoning:  "No language model configured",
		}
	}

	candidates := append(append([]Candidate{}, req.Transitions...), req.Endings...)
	if len(candidates) == 0 {
		return Decision{Mode: ModeAction, Confidence: 1, Reasoning: "No transitions or endings available"}
	}

	var issues []string
	attempts := 0
	for attempts < MaxAttempts {
		attempts++

		messages, err := prompts.New().
			WithScene(req.SceneID, req.SceneSketch).
			WithAction(req.Input).
			WithHistory(req.History).
			WithHistoryLimit(3).
			WithMemories(req.Memories).
			WithCandidates(c.candidateLines(req)).
			WithFeedback(issues).
			BuildClassification()
		if err != nil {
			issues = append(issues, fmt.Sprintf("internal prompt error: %v", err))
			break
		}

		result, err := c.model.Invoke(ctx, messages, Schema(), llm.Options{
			Temperature:  llm.Temp(ClassifierTemperature),
			UseCostModel: true,
		})
		if err != nil {
			issues = append(issues, fmt.Sprintf("model call failed: %v", err))
			continue
		}

		var r reply
		if err := json.Unmarshal(result.Data, &r); err != nil {
			issues = append(issues, fmt.Sprintf("reply was not valid JSON: %v", err))
			continue
		}

		decision, issue := c.resolve(r, req, candidates)
		if issue != "" {
			issues = append(issues, issue)
			continue
		}

		c.recorder.RecordClassification(attempts, string(decision.Mode))
		return decision
	}

	if c.logger != nil {
		c.logger.Warn("Classification exhausted retries, failing open to action",
			"attempts", attempts,
			"issues", issues)
	}
	c.recorder.RecordClassification(attempts, string(ModeAction))
	return Decision{
		Mode:       ModeAction,
		Confidence: 0.1,
		Reasoning:  "Fallback: " + strings.Join(issues, "; "),
	}
}

// resolve validates a parsed reply against the candidate set. It returns a
// non-empty issue string when the reply violates a rule.
func (c *Classifier) resolve(r reply, req Request, candidates []Candidate) (Decision, string) {
	choice := strings.TrimSpace(r.Choice)
	if strings.EqualFold(choice, "continue") {
		return Decision{
			Mode:       ModeAction,
			Reasoning:  r.Reasoning,
			Confidence: clampConfidence(r.Confidence),
		}, ""
	}

	rest, ok := strings.CutPrefix(strings.ToUpper(choice), "T")
	if !ok {
		return Decision{}, fmt.Sprintf("choice %q is neither \"continue\" nor a T<n> token", r.Choice)
	}
	k, err := strconv.Atoi(rest)
	if err != nil {
		return Decision{}, fmt.Sprintf("choice %q has a non-numeric index", r.Choice)
	}
	if k < 0 || k >= len(candidates) {
		return Decision{}, fmt.Sprintf("index %d is out of range; valid options are T0 through T%d", k, len(candidates)-1)
	}

	candidate := candidates[k]
	if candidate.TargetID == "" {
		return Decision{}, fmt.Sprintf("option T%d has no resolvable target", k)
	}

	mode := ModeTransition
	if k >= len(req.Transitions) {
		mode = ModeEnding
	}
	return Decision{
		Mode:       mode,
		TargetID:   candidate.TargetID,
		Reasoning:  r.Reasoning,
		Confidence: clampConfidence(r.Confidence),
	}, ""
}

// candidateLines renders the indexed option list, scene transitions first,
// then ending variations, in declared order.
func (c *Classifier) candidateLines(req Request) []string {
	lines := make([]string, 0, len(req.Transitions)+len(req.Endings))
	i := 0
	for _, t := range req.Transitions {
		lines = append(lines, fmt.Sprintf("T%d: move to scene %q — when: %s", i, t.TargetID, t.Condition))
		i++
	}
	for _, e := range req.Endings {
		lines = append(lines, fmt.Sprintf("T%d: ending %q — when: %s", i, e.TargetID, e.Condition))
		i++
	}
	return lines
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
