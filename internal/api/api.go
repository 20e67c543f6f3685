// Package api exposes the HTTP surface: an OpenAI-compatible streaming
// chat-completions endpoint that drives the research loop, plus session
// listing, inspection, resume, history, rollback, and deletion.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/deepresearch/internal/message"
	"github.com/hyperifyio/deepresearch/internal/session"
	"github.com/hyperifyio/deepresearch/internal/store"
)

const modelID = "deep_researcher"

const (
	defaultMaxIterations  = 15
	defaultMaxSearchItems = 4
	requestLimitMin       = 1
	requestLimitMax       = 50
)

// SessionStore is the persistence surface the handlers use.
type SessionStore interface {
	Save(ctx context.Context, sess *session.Session) error
	Load(ctx context.Context, id string) (*session.Session, bool, error)
	List(ctx context.Context, userID string) ([]session.Summary, error)
	Delete(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) (*session.Session, error)
	History(ctx context.Context, id string) ([]session.HistoryEntry, error)
	Rollback(ctx context.Context, id string, iteration int) (*session.Session, error)
}

// Runner executes the research loop and streams content chunks until the
// run reaches a terminal state.
type Runner interface {
	Run(ctx context.Context, sess *session.Session, msgs message.List) <-chan string
}

// Server holds the handler dependencies.
type Server struct {
	Store  SessionStore
	Runner Runner

	now func() time.Time
}

func NewServer(st SessionStore, runner Runner) *Server {
	return &Server{Store: st, Runner: runner, now: time.Now}
}

// Router builds the chi route table.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/", s.handleHealth)
	r.Get("/health", s.handleHealth)
	r.Get("/healthcheck", s.handleHealth)
	r.Get("/models", s.handleModels)
	r.Get("/v1/models", s.handleModels)
	r.Post("/v1/chat/completions", s.handleChatCompletions)
	r.Get("/sessions", s.handleListSessions)
	r.Get("/sessions/{id}", s.handleGetSession)
	r.Delete("/sessions/{id}", s.handleDeleteSession)
	r.Post("/sessions/{id}/resume", s.handleResumeSession)
	r.Get("/sessions/{id}/history", s.handleSessionHistory)
	r.Post("/sessions/{id}/rollback/{iteration}", s.handleRollbackSession)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("response encoding failed")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data": []map[string]any{{
			"id":       modelID,
			"object":   "model",
			"created":  s.now().Unix(),
			"owned_by": modelID,
		}},
	})
}

// chatCompletionRequest is the wire request. Messages accepts a list of
// message objects or a single object; any other shape is a 422.
type chatCompletionRequest struct {
	Messages          json.RawMessage `json:"messages"`
	SystemInstruction string          `json:"system_instruction"`
	MaxIterations     int             `json:"max_iterations"`
	MaxSearchItems    int             `json:"max_search_items"`
	DefaultModel      string          `json:"default_model"`
	ReasonModel       string          `json:"reason_model"`
	InitialPlan       string          `json:"initial_plan"`
	Stream            *bool           `json:"stream"`
	UserID            string          `json:"user_id"`
}

func clampLimit(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	if v < requestLimitMin {
		return requestLimitMin
	}
	if v > requestLimitMax {
		return requestLimitMax
	}
	return v
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	msgs, err := message.ParseWire(req.Messages)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	if req.SystemInstruction != "" {
		msgs = append(message.List{{Role: message.RoleSystem, Content: req.SystemInstruction}}, msgs...)
	}

	stream := req.Stream == nil || *req.Stream
	userQuery := msgs.FirstUserContent()
	if userQuery == "" {
		// No session row: the request failed before a run existed.
		if stream {
			sse := newSSEWriter(w)
			sse.chunk("Error: User query is missing or empty.")
			sse.done()
		} else {
			writeJSON(w, http.StatusUnprocessableEntity,
				map[string]string{"error": "User query is missing or empty."})
		}
		return
	}

	settings := session.Settings{
		MaxIterations:  clampLimit(req.MaxIterations, defaultMaxIterations),
		MaxSearchItems: clampLimit(req.MaxSearchItems, defaultMaxSearchItems),
		DefaultModel:   req.DefaultModel,
		ReasonModel:    req.ReasonModel,
		InitialPlan:    req.InitialPlan,
		Stream:         stream,
	}
	sess := session.New(userQuery, req.SystemInstruction, settings, s.now().UTC())
	sess.UserID = req.UserID
	sess.Status = session.StatusRunning
	sess.AggregatedData.LastPlan = req.InitialPlan

	if err := s.Store.Save(r.Context(), sess); err != nil {
		log.Error().Err(err).Msg("session creation failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not create session"})
		return
	}

	if stream {
		s.streamRun(w, r, sess, msgs)
		return
	}
	s.blockingRun(w, r, sess, msgs)
}

func (s *Server) streamRun(w http.ResponseWriter, r *http.Request, sess *session.Session, msgs message.List) {
	sse := newSSEWriter(w)
	defer sse.done()

	sse.raw(fmt.Sprintf("SESSION_ID:%s", sess.SessionID))
	for chunk := range s.Runner.Run(r.Context(), sess, msgs) {
		sse.chunk(chunk)
	}
}

// blockingRun drains the research loop and answers with one completion
// object carrying the final report.
func (s *Server) blockingRun(w http.ResponseWriter, r *http.Request, sess *session.Session, msgs message.List) {
	for range s.Runner.Run(r.Context(), sess, msgs) {
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      "chatcmpl-" + uuid.NewString(),
		"object":  "chat.completion",
		"created": s.now().Unix(),
		"model":   modelID,
		"choices": []map[string]any{{
			"index": 0,
			"message": map[string]any{
				"role":    "assistant",
				"content": sess.AggregatedData.FinalReportContent,
			},
			"finish_reason": "stop",
		}},
	})
}

type summaryList struct {
	Sessions  []session.Summary `json:"sessions"`
	StartTime string            `json:"start_time"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.Store.List(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		log.Warn().Err(err).Msg("session listing failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not list sessions"})
		return
	}
	var earliest time.Time
	for _, sum := range summaries {
		if earliest.IsZero() || sum.StartTime.Before(earliest) {
			earliest = sum.StartTime
		}
	}
	start := ""
	if !earliest.IsZero() {
		start = earliest.Format(time.RFC3339)
	}
	if summaries == nil {
		summaries = []session.Summary{}
	}
	writeJSON(w, http.StatusOK, summaryList{Sessions: summaries, StartTime: start})
}

type sessionResponse struct {
	*session.Session
	IntegrityFailed bool `json:"integrity_failed,omitempty"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, ok, err := s.Store.Load(r.Context(), id)
	if err != nil {
		s.notFoundOr500(w, err, id)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: sess, IntegrityFailed: !ok})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Store.Delete(r.Context(), id); err != nil {
		s.notFoundOr500(w, err, id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResumeSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.Store.Resume(r.Context(), id)
	if err != nil {
		s.notFoundOr500(w, err, id)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	history, err := s.Store.History(r.Context(), id)
	if err != nil {
		s.notFoundOr500(w, err, id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (s *Server) handleRollbackSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	iteration, err := strconv.Atoi(chi.URLParam(r, "iteration"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "iteration must be an integer"})
		return
	}
	if _, err := s.Store.Rollback(r.Context(), id, iteration); err != nil {
		switch {
		case errors.Is(err, store.ErrIterationNotFound):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, store.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		default:
			log.Warn().Err(err).Str("session_id", id).Msg("rollback failed")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "rollback failed"})
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "rolled back", "iteration": iteration})
}

func (s *Server) notFoundOr500(w http.ResponseWriter, err error, id string) {
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Session not found"})
		return
	}
	log.Warn().Err(err).Str("session_id", id).Msg("session operation failed")
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
