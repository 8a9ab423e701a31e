package storage

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testStoryYAML = `title: The Locked Room
voice: Terse second person.
start: cell
scenes:
  cell:
    sketch: A stone cell with a heavy door.
    transitions:
      hallway:
        all_of: [door_open]
  hallway:
    sketch: A torchlit hallway.
flags:
  door_open:
    default: false
    description: The cell door is open.
`

func newTestStorage(t *testing.T) (*RedisStorage, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	dataDir := t.TempDir()
	storiesDir := filepath.Join(dataDir, "stories")
	require.NoError(t, os.MkdirAll(storiesDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(storiesDir, "locked_room.yaml"), []byte(testStoryYAML), 0o644))

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))

	s := NewRedisStorage(mr.Addr(), dataDir, logger)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStorage_Ping(t *testing.T) {
	s, _ := newTestStorage(t)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestRedisStorage_SessionRoundTrip(t *testing.T) {
	s, mr := newTestStorage(t)
	ctx := context.Background()

	id := uuid.New()
	session := &Session{
		StoryFile: "locked_room.yaml",
		Save:      json.RawMessage(`{"storyTitle": "The Locked Room"}`),
	}
	require.NoError(t, s.SaveSession(ctx, id, session))

	loaded, err := s.LoadSession(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, id, loaded.ID)
	assert.Equal(t, "locked_room.yaml", loaded.StoryFile)
	assert.JSONEq(t, `{"storyTitle": "The Locked Room"}`, string(loaded.Save))
	assert.False(t, loaded.UpdatedAt.IsZero())

	// Sessions carry a TTL.
	ttl := mr.TTL(sessionKey(id))
	assert.Equal(t, SessionTTL, ttl)

	require.NoError(t, s.DeleteSession(ctx, id))
	gone, err := s.LoadSession(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestRedisStorage_LoadSessionMissing(t *testing.T) {
	s, _ := newTestStorage(t)

	loaded, err := s.LoadSession(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestRedisStorage_SessionExpiry(t *testing.T) {
	s, mr := newTestStorage(t)
	ctx := context.Background()

	id := uuid.New()
	require.NoError(t, s.SaveSession(ctx, id, &Session{StoryFile: "locked_room.yaml"}))

	mr.FastForward(SessionTTL + 1)

	loaded, err := s.LoadSession(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestRedisStorage_ListStories(t *testing.T) {
	s, _ := newTestStorage(t)

	stories, err := s.ListStories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"The Locked Room": "locked_room.yaml"}, stories)
}

func TestRedisStorage_GetStory(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	loaded, err := s.GetStory(ctx, "locked_room.yaml")
	require.NoError(t, err)
	assert.Equal(t, "The Locked Room", loaded.Title)
	assert.Contains(t, loaded.Scenes, "cell")

	_, err = s.GetStory(ctx, "missing.yaml")
	assert.Error(t, err)

	// Path traversal is rejected before touching the filesystem.
	_, err = s.GetStory(ctx, "../secrets.yaml")
	assert.Error(t, err)
}

func TestMockStorage(t *testing.T) {
	m := NewMockStorage()
	ctx := context.Background()

	assert.NoError(t, m.Ping(ctx))

	id := uuid.New()
	require.NoError(t, m.SaveSession(ctx, id, &Session{StoryFile: "x.yaml"}))
	loaded, err := m.LoadSession(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "x.yaml", loaded.StoryFile)

	require.NoError(t, m.DeleteSession(ctx, id))
	gone, err := m.LoadSession(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, gone)

	assert.Error(t, m.SaveSession(ctx, id, nil))
}
