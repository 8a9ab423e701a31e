package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/indraastra/iffy-sub000/internal/storage"
	"github.com/indraastra/iffy-sub000/pkg/engine"
	"github.com/indraastra/iffy-sub000/pkg/llm"
	"github.com/indraastra/iffy-sub000/pkg/metrics"
)

// turnTimeout bounds a full turn including classification, narration and
// one repair call.
const turnTimeout = 120 * time.Second

// SessionHandler manages play sessions. Sessions are stateless on the
// server: each request rebuilds the engine from the stored save document
// and persists the result.
type SessionHandler struct {
	storage  storage.Storage
	model    llm.LanguageModel
	logger   *slog.Logger
	recorder metrics.Recorder
}

func NewSessionHandler(storage storage.Storage, model llm.LanguageModel, logger *slog.Logger, recorder metrics.Recorder) *SessionHandler {
	if recorder == nil {
		recorder = metrics.Noop{}
	}
	return &SessionHandler{
		storage:  storage,
		model:    model,
		logger:   logger,
		recorder: recorder,
	}
}

type CreateSessionRequest struct {
	Story   string `json:"story"`
	Variant string `json:"variant,omitempty"`
}

type SessionResponse struct {
	ID        uuid.UUID         `json:"id"`
	StoryFile string            `json:"storyFile"`
	Variant   string            `json:"variant,omitempty"`
	Text      string            `json:"text,omitempty"`
	GameState *engine.GameState `json:"gameState"`
}

type ActionRequest struct {
	Input string `json:"input"`
}

type ActionResponse struct {
	Text            string            `json:"text"`
	SceneChanged    bool              `json:"sceneChanged"`
	EndingTriggered string            `json:"endingTriggered,omitempty"`
	Degraded        bool              `json:"degraded,omitempty"`
	GameState       *engine.GameState `json:"gameState"`
}

// ServeHTTP routes session requests.
// Routes:
//
//	POST /v1/sessions              - Create a session from a story
//	GET /v1/sessions/{id}          - Read session state
//	DELETE /v1/sessions/{id}       - Delete a session
//	POST /v1/sessions/{id}/action  - Process a player action
//	POST /v1/sessions/{id}/save    - Export the save document
//	POST /v1/sessions/{id}/load    - Import a save document
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/sessions"), "/")

	if path == "" {
		if r.Method != http.MethodPost {
			writeError(w, h.logger, http.StatusMethodNotAllowed, "Method not allowed. Only POST is supported.")
			return
		}
		h.handleCreate(w, r)
		return
	}

	idStr, action, _ := strings.Cut(path, "/")
	id, err := uuid.Parse(idStr)
	if err != nil {
		h.logger.Warn("Invalid session ID", "id", idStr, "error", err)
		writeError(w, h.logger, http.StatusBadRequest, "Invalid session ID format")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		h.handleRead(w, r, id)
	case action == "" && r.Method == http.MethodDelete:
		h.handleDelete(w, r, id)
	case action == "action" && r.Method == http.MethodPost:
		h.handleAction(w, r, id)
	case action == "save" && r.Method == http.MethodPost:
		h.handleSave(w, r, id)
	case action == "load" && r.Method == http.MethodPost:
		h.handleLoad(w, r, id)
	default:
		writeError(w, h.logger, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// rebuild reconstructs the engine for a stored session.
func (h *SessionHandler) rebuild(ctx context.Context, sess *storage.Session) (*engine.Engine, error) {
	s, err := h.storage.GetStory(ctx, sess.StoryFile)
	if err != nil {
		return nil, err
	}

	opts := []engine.Option{engine.WithRecorder(h.recorder)}
	if sess.Variant == "classifier" {
		opts = append(opts, engine.WithVariant(engine.VariantClassifier))
	}

	eng := engine.New(h.model, h.logger, opts...)
	if _, err := eng.LoadStory(s); err != nil {
		return nil, err
	}
	if len(sess.Save) > 0 {
		if err := eng.LoadGame(sess.Save); err != nil {
			return nil, err
		}
	}
	return eng, nil
}

// persist writes the engine's save document back to storage.
func (h *SessionHandler) persist(ctx context.Context, id uuid.UUID, sess *storage.Session, eng *engine.Engine) error {
	save, err := eng.SaveGame()
	if err != nil {
		return err
	}
	sess.Save = save
	return h.storage.SaveSession(ctx, id, sess)
}

func (h *SessionHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Invalid JSON in request body", "error", err)
		writeError(w, h.logger, http.StatusBadRequest, "Invalid JSON in request body")
		return
	}

	if req.Story == "" {
		writeError(w, h.logger, http.StatusBadRequest, "story field is required")
		return
	}
	if req.Variant != "" && req.Variant != "flags" && req.Variant != "classifier" {
		writeError(w, h.logger, http.StatusBadRequest, "variant must be \"flags\" or \"classifier\"")
		return
	}

	sess := &storage.Session{
		StoryFile: req.Story,
		Variant:   req.Variant,
	}

	ctx, cancel := context.WithTimeout(r.Context(), turnTimeout)
	defer cancel()

	eng, err := h.rebuild(ctx, sess)
	if err != nil {
		h.logger.Warn("Failed to load story for new session", "story", req.Story, "error", err)
		writeError(w, h.logger, http.StatusBadRequest, "Failed to load story: "+err.Error())
		return
	}

	opening, err := eng.Opening(ctx)
	if err != nil {
		h.logger.Error("Failed to generate opening", "story", req.Story, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to start session")
		return
	}

	id := opening.GameState.ID
	if err := h.persist(ctx, id, sess, eng); err != nil {
		h.logger.Error("Failed to save new session", "error", err, "id", id.String())
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to create session")
		return
	}

	h.logger.Debug("Session created", "id", id.String(), "story", req.Story)
	writeJSON(w, h.logger, http.StatusCreated, SessionResponse{
		ID:        id,
		StoryFile: sess.StoryFile,
		Variant:   sess.Variant,
		Text:      opening.Text,
		GameState: opening.GameState,
	})
}

func (h *SessionHandler) handleRead(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	sess, eng, ok := h.loadSession(w, r, id)
	if !ok {
		return
	}

	gs, err := eng.State()
	if err != nil {
		h.logger.Error("Failed to read session state", "error", err, "id", id.String())
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to read session")
		return
	}

	writeJSON(w, h.logger, http.StatusOK, SessionResponse{
		ID:        id,
		StoryFile: sess.StoryFile,
		Variant:   sess.Variant,
		GameState: gs,
	})
}

func (h *SessionHandler) handleDelete(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if err := h.storage.DeleteSession(r.Context(), id); err != nil {
		h.logger.Error("Failed to delete session", "error", err, "id", id.String())
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to delete session")
		return
	}
	h.logger.Debug("Session deleted", "id", id.String())
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) handleAction(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Invalid JSON in request body", "error", err)
		writeError(w, h.logger, http.StatusBadRequest, "Invalid JSON in request body")
		return
	}
	if strings.TrimSpace(req.Input) == "" {
		writeError(w, h.logger, http.StatusBadRequest, "input cannot be empty")
		return
	}

	sess, eng, ok := h.loadSession(w, r, id)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), turnTimeout)
	defer cancel()

	result, err := eng.ProcessAction(ctx, req.Input)
	if err != nil {
		h.logger.Error("Failed to process action", "error", err, "id", id.String())
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to process action")
		return
	}

	if err := h.persist(ctx, id, sess, eng); err != nil {
		h.logger.Error("Failed to save session after action", "error", err, "id", id.String())
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to save session")
		return
	}

	writeJSON(w, h.logger, http.StatusOK, ActionResponse{
		Text:            result.Text,
		SceneChanged:    result.SceneChanged,
		EndingTriggered: result.EndingTriggered,
		Degraded:        result.Err,
		GameState:       result.GameState,
	})
}

func (h *SessionHandler) handleSave(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	sess, _, ok := h.loadSession(w, r, id)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(sess.Save); err != nil {
		h.logger.Error("Failed to write save document", "error", err, "id", id.String())
	}
}

func (h *SessionHandler) handleLoad(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Failed to read request body")
		return
	}

	sess, eng, ok := h.loadSession(w, r, id)
	if !ok {
		return
	}

	// LoadGame validates before applying. On failure the session is
	// left exactly as it was.
	if err := eng.LoadGame(data); err != nil {
		h.logger.Warn("Rejected save document", "error", err, "id", id.String())
		writeError(w, h.logger, http.StatusBadRequest, "Invalid save document: "+err.Error())
		return
	}

	if err := h.persist(r.Context(), id, sess, eng); err != nil {
		h.logger.Error("Failed to persist loaded save", "error", err, "id", id.String())
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to save session")
		return
	}

	gs, err := eng.State()
	if err != nil {
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to read session")
		return
	}

	writeJSON(w, h.logger, http.StatusOK, SessionResponse{
		ID:        id,
		StoryFile: sess.StoryFile,
		Variant:   sess.Variant,
		GameState: gs,
	})
}

// loadSession fetches the stored session and rebuilds its engine, writing
// the error response itself when that fails.
func (h *SessionHandler) loadSession(w http.ResponseWriter, r *http.Request, id uuid.UUID) (*storage.Session, *engine.Engine, bool) {
	sess, err := h.storage.LoadSession(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to load session", "error", err, "id", id.String())
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to load session")
		return nil, nil, false
	}
	if sess == nil {
		writeError(w, h.logger, http.StatusNotFound, "Session not found")
		return nil, nil, false
	}

	eng, err := h.rebuild(r.Context(), sess)
	if err != nil {
		h.logger.Error("Failed to rebuild session engine", "error", err, "id", id.String())
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to load session")
		return nil, nil, false
	}
	return sess, eng, true
}
