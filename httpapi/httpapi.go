// Package httpapi provides the HTTP API handler for counsel.
// It delegates all business logic to the engine.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/holdhq/counsel/engine"
	"github.com/holdhq/counsel/llm"
	"github.com/holdhq/counsel/model"
	"github.com/holdhq/counsel/store"
)

// maxTextLen bounds topics, interventions and project context.
const maxTextLen = 10000

// Handler provides the HTTP API for counsel.
type Handler struct {
	engine *engine.Engine
	router chi.Router
	// turnTimeout bounds routes that call the model.
	turnTimeout time.Duration
}

// New creates a new HTTP API handler.
func New(eng *engine.Engine) *Handler {
	h := &Handler{engine: eng, turnTimeout: 5 * time.Minute}
	h.router = h.buildRouter()
	return h
}

// Router returns the HTTP router.
func (h *Handler) Router() chi.Router {
	return h.router
}

func (h *Handler) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Post("/sessions", h.handleCreateSession)
			r.Get("/sessions", h.handleListSessions)
			r.Get("/sessions/{id}", h.handleGetSession)
			r.Get("/sessions/{id}/messages", h.handleGetMessages)
			r.Post("/sessions/{id}/interventions", h.handleIntervention)
			r.Post("/sessions/{id}/pause", h.handlePause)
			r.Post("/sessions/{id}/resume", h.handleResume)
			r.Post("/sessions/{id}/phase", h.handleAdvancePhase)
			r.Get("/sessions/{id}/summary", h.handleGetSummary)
			r.Get("/personas", h.handleListPersonas)
		})
		// These call the model and may run well past the default timeout.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(h.turnTimeout))
			r.Post("/sessions/{id}/turns", h.handleAdvanceTurn)
			r.Post("/sessions/{id}/debate", h.handleDebate)
			r.Post("/sessions/{id}/end", h.handleEnd)
			r.Post("/sessions/{id}/summary", h.handleRegenerateSummary)
			r.Post("/sessions/{id}/revisions", h.handleRevise)
		})
		r.Get("/sessions/{id}/events", h.handleSessionEvents)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	return r
}

// --- Request/Response types ---

type createSessionRequest struct {
	Mode           string   `json:"mode"`
	Participants   []string `json:"participants"`
	Topic          string   `json:"topic"`
	Model          string   `json:"model,omitempty"`
	ProjectContext string   `json:"project_context,omitempty"`
	MaxRounds      int      `json:"max_rounds,omitempty"`
}

type interventionRequest struct {
	Text string `json:"text"`
}

type debateRequest struct {
	MaxTurns int `json:"max_turns"`
}

type debateResponse struct {
	SessionID string           `json:"session_id"`
	Messages  []*model.Message `json:"messages"`
	// Error is set when the debate stopped on a failed turn; Messages still
	// holds the turns committed before it.
	Error string `json:"error,omitempty"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

// --- Handlers ---

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Topic = strings.TrimSpace(req.Topic)
	if req.Mode == "" {
		if len(req.Participants) == 1 {
			req.Mode = string(model.ModeSolo)
		} else {
			req.Mode = string(model.ModeMesa)
		}
	}
	if len(req.Participants) == 0 {
		writeError(w, http.StatusBadRequest, "participants are required")
		return
	}
	if len([]rune(req.Topic)) > maxTextLen || len([]rune(req.ProjectContext)) > maxTextLen {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("topic and project_context must not exceed %d characters", maxTextLen))
		return
	}

	sess, err := h.engine.StartSession(r.Context(), engine.StartOptions{
		Mode:           model.Mode(req.Mode),
		Participants:   req.Participants,
		Topic:          req.Topic,
		Model:          req.Model,
		ProjectContext: req.ProjectContext,
		MaxRounds:      req.MaxRounds,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.engine.ListSessions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		log.Printf("Error listing sessions: %v", err)
		return
	}
	if sessions == nil {
		sessions = []*model.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.engine.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.engine.Messages(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) handleAdvanceTurn(w http.ResponseWriter, r *http.Request) {
	msg, err := h.engine.AdvanceTurn(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *Handler) handleDebate(w http.ResponseWriter, r *http.Request) {
	var req debateRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	if req.MaxTurns < 0 {
		writeError(w, http.StatusBadRequest, "max_turns must not be negative")
		return
	}
	id := chi.URLParam(r, "id")
	msgs, err := h.engine.RunDebate(r.Context(), id, req.MaxTurns)
	if err != nil && len(msgs) == 0 {
		writeEngineError(w, err)
		return
	}
	resp := debateResponse{SessionID: id, Messages: msgs}
	if resp.Messages == nil {
		resp.Messages = []*model.Message{}
	}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleIntervention(w http.ResponseWriter, r *http.Request) {
	var req interventionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if len([]rune(req.Text)) > maxTextLen {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("text exceeds %d characters", maxTextLen))
		return
	}
	msg, err := h.engine.InjectIntervention(r.Context(), chi.URLParam(r, "id"), req.Text)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, msg)
}

func (h *Handler) handlePause(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.Pause)
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.Resume)
}

func (h *Handler) handleAdvancePhase(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.AdvancePhase)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, string) (*model.Session, error)) {
	sess, err := op(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) handleEnd(w http.ResponseWriter, r *http.Request) {
	sum, err := h.engine.EndSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *Handler) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.engine.Summary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *Handler) handleRegenerateSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.engine.RegenerateSummary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *Handler) handleRevise(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	sess, err := h.engine.ReviseSession(r.Context(), chi.URLParam(r, "id"), engine.StartOptions{
		Participants:   req.Participants,
		Topic:          strings.TrimSpace(req.Topic),
		Model:          req.Model,
		ProjectContext: req.ProjectContext,
		MaxRounds:      req.MaxRounds,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *Handler) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	personas, err := h.engine.Personas().ListPersonas(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list personas")
		log.Printf("Error listing personas: %v", err)
		return
	}
	if personas == nil {
		personas = []*model.Persona{}
	}
	writeJSON(w, http.StatusOK, personas)
}

func (h *Handler) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := h.engine.GetSession(r.Context(), id); err != nil {
		writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before replaying so nothing published in between is missed.
	ch := h.engine.Bus().Subscribe(id)
	defer h.engine.Bus().Unsubscribe(id, ch)

	events, err := h.engine.Store().GetEvents(r.Context(), id, 0)
	if err != nil {
		log.Printf("failed to load events for session %s: %v", id, err)
		events = nil
	}
	var lastID int64
	for _, e := range events {
		writeSSE(w, e)
		lastID = e.ID
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if event.ID != 0 && event.ID <= lastID {
				continue
			}
			writeSSE(w, event)
			flusher.Flush()
		}
	}
}

// --- Helpers ---

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeEngineError maps engine and gateway errors to HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	var transport *llm.TransportError
	var malformed *llm.MalformedResponseError
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, engine.ErrInvalidTransition), errors.Is(err, engine.ErrTurnInFlight):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &transport):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error(), Retryable: true})
	case errors.As(err, &malformed), errors.Is(err, llm.ErrEmptyContent):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
	default:
		log.Printf("Error handling request: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("writeJSON encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeSSE(w http.ResponseWriter, event *model.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("writeSSE marshal error: %v", err)
		return
	}
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.ID, event.Type, string(data)); err != nil {
		log.Printf("writeSSE write error: %v", err)
	}
}
