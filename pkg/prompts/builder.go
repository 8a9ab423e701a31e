// Package prompts renders game state into model messages. It owns all
// prompt text so the classifier and director stay free of string assembly.
package prompts

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/indraastra/iffy-sub000/pkg/llm"
	"github.com/indraastra/iffy-sub000/pkg/story"
)

// Exchange is one past player/narrator round, used for history windows.
type Exchange struct {
	Player   string `json:"player"`
	Response string `json:"response"`
}

// DefaultHistoryLimit is how many recent exchanges a narration prompt
// carries. The classifier uses a smaller window.
const DefaultHistoryLimit = 5

// Builder constructs model messages using a fluent interface. It separates
// prompt assembly from game logic.
type Builder struct {
	story        *story.Story
	mode         string
	sceneID      string
	sceneSketch  string
	targetID     string
	targetSketch string
	action       string
	history      []Exchange
	historyLimit int
	memories     []string
	flagState    map[string]story.Value
	withFlags    bool
	candidates   []string
	feedback     []string
}

// New creates a prompt builder with default settings.
func New() *Builder {
	return &Builder{
		historyLimit: DefaultHistoryLimit,
	}
}

// WithStory sets the loaded story (guidance, voice, flag definitions).
func (b *Builder) WithStory(s *story.Story) *Builder {
	b.story = s
	return b
}

// WithMode sets the narration mode ("initial", "action", "transition",
// "ending", "post_ending").
func (b *Builder) WithMode(mode string) *Builder {
	b.mode = mode
	return b
}

// WithScene sets the current scene.
func (b *Builder) WithScene(id, sketch string) *Builder {
	b.sceneID = id
	b.sceneSketch = sketch
	return b
}

// WithTarget sets the transition/ending target for those modes.
func (b *Builder) WithTarget(id, sketch string) *Builder {
	b.targetID = id
	b.targetSketch = sketch
	return b
}

// WithAction sets the player's input for this turn.
func (b *Builder) WithAction(input string) *Builder {
	b.action = input
	return b
}

// WithHistory sets the recent exchange window.
func (b *Builder) WithHistory(history []Exchange) *Builder {
	b.history = history
	return b
}

// WithHistoryLimit overrides the history window size.
func (b *Builder) WithHistoryLimit(limit int) *Builder {
	b.historyLimit = limit
	return b
}

// WithMemories sets the relevant memory lines.
func (b *Builder) WithMemories(memories []string) *Builder {
	b.memories = memories
	return b
}

// WithFlagState includes current flag values and the flag mutation
// instructions in the prompt. The flag-centric engine variant uses this.
func (b *Builder) WithFlagState(state map[string]story.Value) *Builder {
	b.flagState = state
	b.withFlags = true
	return b
}

// WithCandidates sets the indexed T0.. option lines for classification.
func (b *Builder) WithCandidates(lines []string) *Builder {
	b.candidates = lines
	return b
}

// WithFeedback appends validation feedback from failed classification
// attempts to the next prompt.
func (b *Builder) WithFeedback(issues []string) *Builder {
	b.feedback = issues
	return b
}

// BuildNarration assembles the message list for a director call.
func (b *Builder) BuildNarration() ([]llm.Message, error) {
	if b.story == nil {
		return nil, fmt.Errorf("story is required")
	}
	if b.mode == "" {
		return nil, fmt.Errorf("mode is required")
	}
	instruction, ok := modeInstructions[b.mode]
	if !ok {
		return nil, fmt.Errorf("unknown narration mode %q", b.mode)
	}

	var sb strings.Builder
	sb.WriteString(BaseNarratorPrompt)

	if b.story.Voice != "" {
		sb.WriteString("\n\nNarrative voice: " + b.story.Voice)
	}
	if b.story.Guidance != "" {
		sb.WriteString("\n\nStory guidance: " + b.story.Guidance)
	}
	if b.story.Rating != "" {
		sb.WriteString("\n\nContent rating: " + b.story.Rating)
	}

	if b.sceneSketch != "" {
		sb.WriteString("\n\nCurrent scene (" + b.sceneID + "):\n" + b.sceneSketch)
	}
	if b.targetSketch != "" {
		switch b.mode {
		case "transition":
			sb.WriteString("\n\nTarget scene (" + b.targetID + "):\n" + b.targetSketch)
		case "ending":
			sb.WriteString("\n\nEnding (" + b.targetID + "):\n" + b.targetSketch)
		}
	}

	if b.withFlags {
		sb.WriteString("\n\n" + FlagInstructions + "\n")
		sb.WriteString(b.flagGuidance())
		statePrompt, err := b.statePrompt()
		if err != nil {
			return nil, fmt.Errorf("error rendering flag state: %w", err)
		}
		sb.WriteString("\n\nCurrent flag state:\n" + statePrompt)
	}

	if len(b.memories) > 0 {
		sb.WriteString("\n\nEstablished facts from earlier in the story:\n")
		for _, m := range b.memories {
			sb.WriteString("- " + m + "\n")
		}
	}

	sb.WriteString("\n\n" + instruction)

	messages := []llm.Message{{Role: llm.RoleSystem, Content: sb.String()}}
	messages = append(messages, b.historyMessages(b.historyLimit)...)

	userText := b.action
	if userText == "" && b.mode == "initial" {
		userText = "Begin the story."
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: userText})
	return messages, nil
}

// BuildClassification assembles the message list for a classifier call.
func (b *Builder) BuildClassification() ([]llm.Message, error) {
	if b.action == "" {
		return nil, fmt.Errorf("player action is required")
	}

	var sb strings.Builder
	sb.WriteString(ClassifierPrompt)

	if b.sceneSketch != "" {
		sb.WriteString("\n\nCurrent scene (" + b.sceneID + "):\n" + b.sceneSketch)
	}

	sb.WriteString("\n\nOptions:\n")
	for _, line := range b.candidates {
		sb.WriteString(line + "\n")
	}

	if len(b.memories) > 0 {
		sb.WriteString("\nEstablished facts:\n")
		for _, m := range b.memories {
			sb.WriteString("- " + m + "\n")
		}
	}

	if len(b.feedback) > 0 {
		sb.WriteString("\nYour previous reply was invalid:\n")
		for _, issue := range b.feedback {
			sb.WriteString("- " + issue + "\n")
		}
		sb.WriteString("Choose again, following the rules above.\n")
	}

	messages := []llm.Message{{Role: llm.RoleSystem, Content: sb.String()}}
	messages = append(messages, b.historyMessages(b.historyLimit)...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: b.action})
	return messages, nil
}

// historyMessages renders the windowed exchange history as alternating
// user/assistant messages.
func (b *Builder) historyMessages(limit int) []llm.Message {
	history := b.history
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	messages := make([]llm.Message, 0, len(history)*2)
	for _, ex := range history {
		messages = append(messages,
			llm.Message{Role: llm.RoleUser, Content: ex.Player},
			llm.Message{Role: llm.RoleAssistant, Content: ex.Response},
		)
	}
	return messages
}

// flagGuidance lists the declared flags with their descriptions, sorted for
// stable prompt output.
func (b *Builder) flagGuidance() string {
	if len(b.story.Flags) == 0 {
		return "- (none declared; set flags as the story requires)"
	}
	names := make([]string, 0, len(b.story.Flags))
	for name := range b.story.Flags {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		def := b.story.Flags[name]
		sb.WriteString("- " + name)
		if def.Description != "" {
			sb.WriteString(": " + def.Description)
		}
		if def.Requires != nil {
			sb.WriteString(" (only after " + def.Requires.Describe() + ")")
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// statePrompt renders current flag values as a JSON block.
func (b *Builder) statePrompt() (string, error) {
	if len(b.flagState) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(b.flagState)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
