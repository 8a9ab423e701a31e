package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indraastra/iffy-sub000/internal/storage"
	"github.com/indraastra/iffy-sub000/pkg/story"
)

func TestStoryHandler(t *testing.T) {
	store := storage.NewMockStorage()
	s, err := story.Load(strings.NewReader(handlerStoryYAML))
	require.NoError(t, err)
	store.AddStory("locked_room.yaml", s)

	h := NewStoryHandler(store, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/v1/stories", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var listings []StoryListing
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listings))
	require.Len(t, listings, 1)
	assert.Equal(t, "The Locked Room", listings[0].Title)
	assert.Equal(t, "locked_room.yaml", listings[0].File)
}

func TestStoryHandler_MethodNotAllowed(t *testing.T) {
	h := NewStoryHandler(storage.NewMockStorage(), testLogger())

	req := httptest.NewRequest(http.MethodPost, "/v1/stories", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
