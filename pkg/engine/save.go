package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/indraastra/iffy-sub000/pkg/memory"
)

// timeNow is swapped out in tests.
var timeNow = time.Now

// saveDocument is the persisted session layout. Timestamps marshal as
// RFC 3339 strings.
type saveDocument struct {
	GameState  *GameState    `json:"gameState"`
	Memory     *memory.Saved `json:"memoryManagerState"`
	StoryTitle string        `json:"storyTitle"`
	SavedAt    time.Time     `json:"saveTimestamp"`
}

// SaveGame serializes the session: game state, memory store, story title
// and a save timestamp, as one JSON document.
func (e *Engine) SaveGame() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.story == nil || e.gs == nil {
		return nil, fmt.Errorf("no story loaded")
	}

	e.gs.Flags = e.flags.Snapshot()
	doc := saveDocument{
		GameState:  e.gs,
		Memory:     e.memory.Export(),
		StoryTitle: e.story.Title,
		SavedAt:    timeNow(),
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize save: %w", err)
	}
	return data, nil
}

// LoadGame restores a session from a save document. The save must belong
// to the currently loaded story; on any validation failure the in-memory
// session is left unchanged. A corrupt save is never partially applied.
func (e *Engine) LoadGame(data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.story == nil {
		return fmt.Errorf("no story loaded")
	}

	var doc saveDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("save is not valid JSON: %w", err)
	}
	if doc.StoryTitle == "" || doc.GameState == nil || doc.GameState.CurrentScene == "" {
		return fmt.Errorf("save is missing required fields")
	}
	if doc.StoryTitle != e.story.Title {
		return fmt.Errorf("save belongs to story %q, but %q is loaded", doc.StoryTitle, e.story.Title)
	}
	if _, ok := e.story.Scene(doc.GameState.CurrentScene); !ok {
		return fmt.Errorf("save references unknown scene %q", doc.GameState.CurrentScene)
	}

	// Validation passed; apply everything.
	if doc.GameState.Interactions == nil {
		doc.GameState.Interactions = make([]Interaction, 0, InteractionLimit)
	}
	e.gs = doc.GameState
	e.flags.Restore(doc.GameState.Flags)
	e.memory.Restore(doc.Memory)
	return nil
}

// summarizeTurn builds a fallback memory line when the director produced
// none for the turn. Truncation counts runes so multi-byte text is never
// split mid-character.
func summarizeTurn(input, response string) string {
	const maxLen = 160
	line := "Player: " + input + " — " + response
	runes := []rune(line)
	if len(runes) > maxLen {
		line = string(runes[:maxLen]) + "…"
	}
	return line
}

// cutLocationFlag splits an at_<location> flag name.
func cutLocationFlag(name string) (string, bool) {
	return strings.CutPrefix(name, "at_")
}

func joinLines(lines []string) string {
	return strings.Join(lines, "; ")
}
