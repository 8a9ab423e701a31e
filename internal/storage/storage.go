package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/indraastra/iffy-sub000/pkg/story"
)

// SessionTTL is how long an idle session survives in Redis. Every save
// refreshes the clock.
const SessionTTL = time.Hour

// Session is the persisted form of a play session: the story it runs and
// the engine's save document.
type Session struct {
	ID        uuid.UUID       `json:"id"`
	StoryFile string          `json:"storyFile"`
	Variant   string          `json:"variant,omitempty"`
	Save      json.RawMessage `json:"save"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Storage combines session persistence (Redis) with story loading
// (filesystem).
type Storage interface {
	// Health and lifecycle
	Ping(ctx context.Context) error
	Close() error

	// Session operations (Redis-backed)
	SaveSession(ctx context.Context, id uuid.UUID, s *Session) error
	// LoadSession returns (nil, nil) when the session does not exist.
	LoadSession(ctx context.Context, id uuid.UUID) (*Session, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error

	// Story operations (filesystem-backed)
	// ListStories maps story titles to their filenames.
	ListStories(ctx context.Context) (map[string]string, error)
	GetStory(ctx context.Context, filename string) (*story.Story, error)
}
