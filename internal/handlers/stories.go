package handlers

import (
	"log/slog"
	"net/http"
	"sort"

	"github.com/indraastra/iffy-sub000/internal/storage"
)

// StoryHandler serves the story catalog.
type StoryHandler struct {
	storage storage.Storage
	logger  *slog.Logger
}

func NewStoryHandler(storage storage.Storage, logger *slog.Logger) *StoryHandler {
	return &StoryHandler{
		storage: storage,
		logger:  logger,
	}
}

type StoryListing struct {
	Title string `json:"title"`
	File  string `json:"file"`
}

// ServeHTTP handles GET /v1/stories.
func (h *StoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, h.logger, http.StatusMethodNotAllowed, "Method not allowed. Only GET is supported.")
		return
	}

	stories, err := h.storage.ListStories(r.Context())
	if err != nil {
		h.logger.Error("Failed to list stories", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to list stories")
		return
	}

	listings := make([]StoryListing, 0, len(stories))
	for title, file := range stories {
		listings = append(listings, StoryListing{Title: title, File: file})
	}
	sort.Slice(listings, func(i, j int) bool { return listings[i].Title < listings[j].Title })

	writeJSON(w, h.logger, http.StatusOK, listings)
}
