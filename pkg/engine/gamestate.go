package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/indraastra/iffy-sub000/pkg/prompts"
	"github.com/indraastra/iffy-sub000/pkg/story"
)

// InteractionLimit bounds the interaction ring buffer.
const InteractionLimit = 20

// Interaction is one completed player turn.
type Interaction struct {
	PlayerInput string    `json:"playerInput"`
	Response    string    `json:"narrativeResponse"`
	Timestamp   time.Time `json:"timestamp"`
	SceneID     string    `json:"sceneId"`
	Importance  int       `json:"importance"`
}

// GameState is the authoritative session state the engine mutates after
// every turn. Snapshots of it are returned to callers and embedded in
// save files.
type GameState struct {
	ID           uuid.UUID              `json:"id"`
	StoryTitle   string                 `json:"storyTitle"`
	CurrentScene string                 `json:"currentScene"`
	IsEnded      bool                   `json:"isEnded"`
	EndingID     string                 `json:"endingId,omitempty"`
	TurnCount    int                    `json:"turnCount"`
	Interactions []Interaction          `json:"interactions"`
	Flags        map[string]story.Value `json:"flags,omitempty"`
}

// NewGameState creates the session state for a freshly loaded story.
func NewGameState(title, startScene string) *GameState {
	return &GameState{
		ID:           uuid.New(),
		StoryTitle:   title,
		CurrentScene: startScene,
		Interactions: make([]Interaction, 0, InteractionLimit),
	}
}

// RecordInteraction appends a turn to the ring buffer, evicting the oldest
// entry once the buffer is full.
func (gs *GameState) RecordInteraction(in Interaction) {
	gs.Interactions = append(gs.Interactions, in)
	if len(gs.Interactions) > InteractionLimit {
		gs.Interactions = gs.Interactions[len(gs.Interactions)-InteractionLimit:]
	}
}

// RecentExchanges renders the most recent interactions as prompt history.
func (gs *GameState) RecentExchanges(limit int) []prompts.Exchange {
	interactions := gs.Interactions
	if limit > 0 && len(interactions) > limit {
		interactions = interactions[len(interactions)-limit:]
	}
	exchanges := make([]prompts.Exchange, 0, len(interactions))
	for _, in := range interactions {
		exchanges = append(exchanges, prompts.Exchange{
			Player:   in.PlayerInput,
			Response: in.Response,
		})
	}
	return exchanges
}

// Copy returns a snapshot safe to hand to callers.
func (gs *GameState) Copy() *GameState {
	out := *gs
	out.Interactions = make([]Interaction, len(gs.Interactions))
	copy(out.Interactions, gs.Interactions)
	if gs.Flags != nil {
		out.Flags = make(map[string]story.Value, len(gs.Flags))
		for k, v := range gs.Flags {
			out.Flags[k] = v
		}
	}
	return &out
}
