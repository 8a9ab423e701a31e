// Package engine is the per-turn orchestrator. It owns the authoritative
// session state and keeps the story's state machine consistent despite the
// non-deterministic narrator in the loop: no transition or ending fires
// unless its flag conditions are explicitly satisfied.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/indraastra/iffy-sub000/pkg/classifier"
	"github.com/indraastra/iffy-sub000/pkg/director"
	"github.com/indraastra/iffy-sub000/pkg/flags"
	"github.com/indraastra/iffy-sub000/pkg/llm"
	"github.com/indraastra/iffy-sub000/pkg/memory"
	"github.com/indraastra/iffy-sub000/pkg/metrics"
	"github.com/indraastra/iffy-sub000/pkg/prompts"
	"github.com/indraastra/iffy-sub000/pkg/story"
	"github.com/indraastra/iffy-sub000/pkg/textfilter"
)

// Variant selects the per-turn algorithm. The choice is fixed at
// construction; mixing variants per turn is an error the type prevents.
type Variant int

const (
	// VariantFlags is the single-phase design: one director call narrates
	// and extracts flag mutations, then the engine checks transitions and
	// endings deterministically from flag state. This is the default; it
	// minimizes model calls and keeps state mutation auditable.
	VariantFlags Variant = iota

	// VariantClassifier is the two-phase design: a cheap classification
	// call routes the turn, then exactly one director call matches the
	// classified mode.
	VariantClassifier
)

// memoryWindow is how many ranked memories feed each prompt.
const memoryWindow = 8

// TurnResult is what ProcessAction returns to the caller.
type TurnResult struct {
	Text            string     `json:"text"`
	GameState       *GameState `json:"gameState"`
	EndingTriggered string     `json:"endingTriggered,omitempty"`
	SceneChanged    bool       `json:"sceneChanged,omitempty"`
	Err             bool       `json:"error,omitempty"`
}

// Engine drives one game session. It processes one action at a time to
// completion; the mutex serializes callers, never turns against each
// other.
type Engine struct {
	mu sync.Mutex

	story      *story.Story
	gs         *GameState
	flags      *flags.Store
	memory     *memory.Store
	director   *director.Director
	classifier *classifier.Classifier
	filter     *textfilter.Filter

	model    llm.LanguageModel
	logger   *slog.Logger
	recorder metrics.Recorder
	variant  Variant
}

// Option configures an Engine.
type Option func(*Engine)

// WithVariant selects the per-turn algorithm.
func WithVariant(v Variant) Option {
	return func(e *Engine) { e.variant = v }
}

// WithRecorder injects an observability recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// New creates an engine. A nil model is allowed; every narration then
// degrades to an instructional message instead of failing.
func New(model llm.LanguageModel, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		model:    model,
		logger:   logger,
		recorder: metrics.Noop{},
		filter:   textfilter.New(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.director = director.New(model, logger, e.recorder)
	e.classifier = classifier.New(model, logger, e.recorder)
	return e
}

// LoadStory installs a story and resets all session state: flags are
// reseeded from definitions, memories cleared, the interaction buffer
// emptied. Returns the fresh state snapshot.
func (e *Engine) LoadStory(s *story.Story) (*GameState, error) {
	if s == nil {
		return nil, fmt.Errorf("story is required")
	}
	if s.Title == "" {
		return nil, fmt.Errorf("story has no title")
	}
	if len(s.Scenes) == 0 {
		return nil, fmt.Errorf("story %q has no scenes", s.Title)
	}
	start, err := s.StartScene()
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.story = s
	e.flags = flags.NewStore(s.Flags, e.logger)
	e.flags.Seed(start.InitialFlags)
	if e.memory != nil {
		e.memory.Reset()
	}
	e.memory = memory.NewStore(e.model, e.logger, e.recorder)
	e.gs = NewGameState(s.Title, start.ID)
	e.gs.Flags = e.flags.Snapshot()
	return e.gs.Copy(), nil
}

// State returns a snapshot of the current session state.
func (e *Engine) State() (*GameState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gs == nil {
		return nil, fmt.Errorf("no story loaded")
	}
	return e.gs.Copy(), nil
}

// Opening narrates the initial scene. Call once after LoadStory.
func (e *Engine) Opening(ctx context.Context) (*TurnResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.story == nil || e.gs == nil {
		return nil, fmt.Errorf("no story loaded")
	}
	scene, ok := e.story.Scene(e.gs.CurrentScene)
	if !ok {
		return nil, fmt.Errorf("current scene %q not found", e.gs.CurrentScene)
	}

	resp := e.director.Narrate(ctx, e.directorContext(director.ModeInitial, scene, ""))
	e.applyFlagChanges(resp.FlagChanges)
	e.finishTurn("", resp, director.ModeInitial)
	return e.result(resp, "", false), nil
}

// ProcessAction runs one complete turn. It is the primary entry point.
func (e *Engine) ProcessAction(ctx context.Context, input string) (*TurnResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.story == nil || e.gs == nil {
		return nil, fmt.Errorf("no story loaded")
	}
	if input == "" {
		return nil, fmt.Errorf("action text cannot be empty")
	}
	scene, ok := e.story.Scene(e.gs.CurrentScene)
	if !ok {
		return nil, fmt.Errorf("current scene %q not found in story", e.gs.CurrentScene)
	}

	// Post-ending reflection: narrate without touching flags or
	// transitions. The ending is final.
	if e.gs.IsEnded {
		resp := e.director.Narrate(ctx, e.directorContext(director.ModePostEnding, scene, input))
		e.finishTurn(input, resp, director.ModePostEnding)
		return e.result(resp, "", false), nil
	}

	if e.variant == VariantClassifier {
		return e.processClassified(ctx, scene, input)
	}
	return e.processWithFlags(ctx, scene, input)
}

// processWithFlags is the single-phase turn: narrate the action, apply the
// extracted flag mutations, then let flag state decide whether a
// transition or ending fires. A fired transition's narration replaces the
// action narration for the turn.
func (e *Engine) processWithFlags(ctx context.Context, scene *story.Scene, input string) (*TurnResult, error) {
	resp := e.director.Narrate(ctx, e.directorContext(director.ModeAction, scene, input))
	e.applyFlagChanges(resp.FlagChanges)

	if target, ok := e.satisfiedTransition(scene); ok {
		if transResp := e.performTransition(ctx, scene, target, input); transResp != nil {
			e.finishTurn(input, transResp, director.ModeTransition)
			return e.result(transResp, "", true), nil
		}
		// Unresolvable target: the turn completes as an ordinary action.
	}

	if ending, ok := e.satisfiedEnding(); ok {
		endResp := e.performEnding(ctx, scene, ending, input)
		e.finishTurn(input, endResp, director.ModeEnding)
		return e.result(endResp, ending.ID, false), nil
	}

	e.finishTurn(input, resp, director.ModeAction)
	return e.result(resp, "", false), nil
}

// processClassified is the two-phase turn: route with the cheap model,
// then make exactly one director call in the classified mode. Structured
// conditions still gate the result; a classification that contradicts flag
// state is downgraded to an ordinary action.
func (e *Engine) processClassified(ctx context.Context, scene *story.Scene, input string) (*TurnResult, error) {
	decision := e.classifier.Classify(ctx, classifier.Request{
		Input:       input,
		SceneID:     scene.ID,
		SceneSketch: scene.Sketch,
		Transitions: e.transitionCandidates(scene),
		Endings:     e.endingCandidates(),
		History:     e.gs.RecentExchanges(3),
		Memories:    e.memoryLines(),
	})

	switch decision.Mode {
	case classifier.ModeTransition:
		if target, ok := e.story.Scene(decision.TargetID); ok && e.transitionAllowed(scene, target.ID) {
			if transResp := e.performTransition(ctx, scene, target.ID, input); transResp != nil {
				e.finishTurn(input, transResp, director.ModeTransition)
				return e.result(transResp, "", true), nil
			}
		}
		if e.logger != nil {
			e.logger.Warn("Classified transition rejected by flag state",
				"target", decision.TargetID, "scene", scene.ID)
		}
	case classifier.ModeEnding:
		if ending, ok := e.endingByID(decision.TargetID); ok && e.endingAllowed(ending) {
			endResp := e.performEnding(ctx, scene, ending, input)
			e.finishTurn(input, endResp, director.ModeEnding)
			return e.result(endResp, ending.ID, false), nil
		}
		if e.logger != nil {
			e.logger.Warn("Classified ending rejected by flag state",
				"ending", decision.TargetID, "scene", scene.ID)
		}
	}

	resp := e.director.Narrate(ctx, e.directorContext(director.ModeAction, scene, input))
	e.applyFlagChanges(resp.FlagChanges)
	e.finishTurn(input, resp, director.ModeAction)
	return e.result(resp, "", false), nil
}

// performTransition narrates entry into the target scene and moves the
// session there. Returns nil when the target does not resolve; the caller
// then completes the turn as an ordinary action.
func (e *Engine) performTransition(ctx context.Context, from *story.Scene, targetID, input string) *director.Response {
	target, ok := e.story.Scene(targetID)
	if !ok {
		if e.logger != nil {
			e.logger.Warn("Transition target scene does not exist, staying put",
				"from", from.ID, "target", targetID)
		}
		return nil
	}

	dctx := e.directorContext(director.ModeTransition, from, input)
	dctx.TargetID = target.ID
	dctx.TargetSketch = target.Sketch
	resp := e.director.Narrate(ctx, dctx)

	e.gs.CurrentScene = target.ID
	e.flags.Seed(target.InitialFlags)
	e.applyFlagChanges(resp.FlagChanges)
	return resp
}

// performEnding narrates the conclusion and marks the session ended.
func (e *Engine) performEnding(ctx context.Context, scene *story.Scene, ending *story.Ending, input string) *director.Response {
	dctx := e.directorContext(director.ModeEnding, scene, input)
	dctx.TargetID = ending.ID
	dctx.TargetSketch = ending.Sketch
	resp := e.director.Narrate(ctx, dctx)

	e.gs.IsEnded = true
	e.gs.EndingID = ending.ID
	return resp
}

// satisfiedTransition returns the first declared transition of the scene
// whose condition the flag store now satisfies.
func (e *Engine) satisfiedTransition(scene *story.Scene) (string, bool) {
	for _, t := range scene.Transitions {
		if t.Target == scene.ID {
			continue
		}
		if e.flags.Evaluate(t.If) {
			return t.Target, true
		}
	}
	return "", false
}

// satisfiedEnding returns the first ending variation whose global and
// local conditions are both satisfied.
func (e *Engine) satisfiedEnding() (*story.Ending, bool) {
	if !e.flags.Evaluate(e.story.Endings.Requires) {
		return nil, false
	}
	for i := range e.story.Endings.Variations {
		ending := &e.story.Endings.Variations[i]
		if ending.Requires != nil && e.flags.Evaluate(ending.Requires) {
			return ending, true
		}
	}
	return nil, false
}

// transitionAllowed checks the declared structured condition for a
// classified transition; transitions declared only via leads_to have no
// structured gate.
func (e *Engine) transitionAllowed(scene *story.Scene, targetID string) bool {
	for _, t := range scene.Transitions {
		if t.Target == targetID {
			return e.flags.Evaluate(t.If)
		}
	}
	_, declared := scene.LeadsTo[targetID]
	return declared
}

func (e *Engine) endingAllowed(ending *story.Ending) bool {
	if !e.flags.Evaluate(e.story.Endings.Requires) {
		return false
	}
	if ending.Requires != nil {
		return e.flags.Evaluate(ending.Requires)
	}
	// Legacy natural-language endings have no structured gate beyond the
	// collection requires; the classifier's judgment stands.
	return true
}

func (e *Engine) endingByID(id string) (*story.Ending, bool) {
	for i := range e.story.Endings.Variations {
		if e.story.Endings.Variations[i].ID == id {
			return &e.story.Endings.Variations[i], true
		}
	}
	return nil, false
}

// transitionCandidates renders the scene's outgoing edges for the
// classifier, structured conditions first, then legacy leads_to entries.
func (e *Engine) transitionCandidates(scene *story.Scene) []classifier.Candidate {
	var out []classifier.Candidate
	seen := make(map[string]bool)
	for _, t := range scene.Transitions {
		out = append(out, classifier.Candidate{TargetID: t.Target, Condition: t.If.Describe()})
		seen[t.Target] = true
	}
	for target, condition := range scene.LeadsTo {
		if !seen[target] {
			out = append(out, classifier.Candidate{TargetID: target, Condition: condition})
		}
	}
	return out
}

// endingCandidates renders ending variations with their combined global
// and local conditions.
func (e *Engine) endingCandidates() []classifier.Candidate {
	var out []classifier.Candidate
	global := ""
	if e.story.Endings.Requires != nil {
		global = e.story.Endings.Requires.Describe()
	}
	for _, ending := range e.story.Endings.Variations {
		condition := ""
		if ending.Requires != nil {
			condition = ending.Requires.Describe()
		} else if len(ending.When) > 0 {
			condition = joinLines(ending.When)
		}
		if global != "" {
			if condition != "" {
				condition = global + " AND " + condition
			} else {
				condition = global
			}
		}
		if condition == "" {
			condition = "always"
		}
		out = append(out, classifier.Candidate{TargetID: ending.ID, Condition: condition})
	}
	return out
}

// applyFlagChanges routes the director's flag mutations into the store.
// at_* sets go through SetLocation to keep location flags exclusive.
func (e *Engine) applyFlagChanges(changes *director.FlagChanges) {
	if changes == nil {
		return
	}
	var set []string
	for _, name := range changes.Set {
		if loc, ok := cutLocationFlag(name); ok {
			e.flags.SetLocation(loc)
			continue
		}
		set = append(set, name)
	}
	e.flags.ApplyBatch(set, changes.Clear)
}

// finishTurn records the interaction, persists memories, and refreshes the
// state snapshot. The ring buffer and memory store both receive the final
// narration with the director-assigned importance.
func (e *Engine) finishTurn(input string, resp *director.Response, mode director.Mode) {
	text := e.filter.Apply(resp.Text(), e.story.Rating)

	e.gs.TurnCount++
	e.gs.RecordInteraction(Interaction{
		PlayerInput: input,
		Response:    text,
		Timestamp:   timeNow(),
		SceneID:     e.gs.CurrentScene,
		Importance:  resp.Importance,
	})

	if len(resp.Memories) > 0 {
		for _, m := range resp.Memories {
			e.memory.Add(m, resp.Importance)
		}
	} else if !resp.Err && input != "" {
		e.memory.Add(summarizeTurn(input, text), resp.Importance)
	}

	e.gs.Flags = e.flags.Snapshot()
}

// directorContext assembles the shared narration context for a mode.
func (e *Engine) directorContext(mode director.Mode, scene *story.Scene, input string) director.Context {
	return director.Context{
		Mode:         mode,
		Story:        e.story,
		SceneID:      scene.ID,
		SceneSketch:  scene.Sketch,
		PlayerAction: input,
		History:      e.gs.RecentExchanges(prompts.DefaultHistoryLimit),
		Memories:     e.memoryLines(),
		FlagState:    e.flags.Snapshot(),
		TrackFlags:   e.variant == VariantFlags && mode != director.ModePostEnding,
	}
}

func (e *Engine) memoryLines() []string {
	entries := e.memory.Memories(memoryWindow)
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		lines = append(lines, entry.Content)
	}
	return lines
}

func (e *Engine) result(resp *director.Response, endingID string, sceneChanged bool) *TurnResult {
	return &TurnResult{
		Text:            e.filter.Apply(resp.Text(), e.story.Rating),
		GameState:       e.gs.Copy(),
		EndingTriggered: endingID,
		SceneChanged:    sceneChanged,
		Err:             resp.Err,
	}
}
