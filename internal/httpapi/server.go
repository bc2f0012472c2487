// Package httpapi wires HTTP handlers to the list service. The transport is
// deliberately thin: handlers decode JSON, resolve the session, call the
// service and map abort errors onto statuses.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"yearlist/internal/abort"
	"yearlist/internal/store"
)

// Sessions resolves bearer tokens to user ids.
type Sessions interface {
	UserIDByToken(ctx context.Context, token string) (int64, error)
}

// ListService captures the list operations needed by the HTTP handlers.
type ListService interface {
	Create(ctx context.Context, userID int64, p store.CreateListParams) (*store.CreateListResult, error)
	UpdateMetadata(ctx context.Context, userID int64, listID string, p store.UpdateListParams) error
	ReplaceItems(ctx context.Context, userID int64, listID string, albums []store.AlbumInput) (int, error)
	IncrementalUpdate(ctx context.Context, userID int64, listID string, p store.IncrementalUpdateParams) (*store.IncrementalUpdateResult, error)
	Reorder(ctx context.Context, userID int64, listID string, order []store.ItemRef) (int64, error)
	UpdateComment(ctx context.Context, userID int64, listID string, identifier int64, comment string) error
	SetMain(ctx context.Context, userID int64, listID string, isMain bool) (*store.MainStatusResult, error)
	Delete(ctx context.Context, userID int64, listID string) error
	SetupStatus(ctx context.Context, userID int64, dismissedUntil *time.Time) (*store.SetupStatus, error)
	BulkUpdate(ctx context.Context, userID int64, entries []store.BulkUpdateEntry) (*store.BulkUpdateResult, error)
	List(ctx context.Context, userID int64) ([]store.ListSummary, error)
	Get(ctx context.Context, userID int64, listID string) (*store.ListWithItems, error)
}

// Server wires HTTP handlers to the underlying services.
type Server struct {
	sessions Sessions
	lists    ListService
}

// New configures a Server with the given collaborators.
func New(sessions Sessions, lists ListService) *Server {
	return &Server{sessions: sessions, lists: lists}
}

// Routes exposes the HTTP handlers for list and ranking management.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("GET /api/v1/lists", s.withUser(s.handleListLists))
	mux.HandleFunc("POST /api/v1/lists", s.withUser(s.handleCreateList))
	mux.HandleFunc("POST /api/v1/lists/bulk", s.withUser(s.handleBulkUpdate))
	mux.HandleFunc("GET /api/v1/lists/{id}", s.withUser(s.handleGetList))
	mux.HandleFunc("PATCH /api/v1/lists/{id}", s.withUser(s.handleUpdateList))
	mux.HandleFunc("DELETE /api/v1/lists/{id}", s.withUser(s.handleDeleteList))
	mux.HandleFunc("PUT /api/v1/lists/{id}/items", s.withUser(s.handleReplaceItems))
	mux.HandleFunc("PATCH /api/v1/lists/{id}/items", s.withUser(s.handleIncrementalUpdate))
	mux.HandleFunc("PUT /api/v1/lists/{id}/order", s.withUser(s.handleReorder))
	mux.HandleFunc("PUT /api/v1/lists/{id}/items/{itemId}/comment", s.withUser(s.handleUpdateComment))
	mux.HandleFunc("PUT /api/v1/lists/{id}/main", s.withUser(s.handleSetMain))
	mux.HandleFunc("GET /api/v1/setup/status", s.withUser(s.handleSetupStatus))

	return mux
}

type errorResponse struct {
	Error  string         `json:"error"`
	Fields map[string]any `json:"details,omitempty"`
}

type userHandler func(w http.ResponseWriter, r *http.Request, userID int64)

// withUser resolves the bearer token before the handler runs.
func (s *Server) withUser(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := parseBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing bearer token"})
			return
		}
		userID, err := s.sessions.UserIDByToken(r.Context(), token)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		next(w, r, userID)
	}
}

func (s *Server) handleListLists(w http.ResponseWriter, r *http.Request, userID int64) {
	summaries, err := s.lists.List(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Lists []store.ListSummary `json:"lists"`
	}{Lists: summaries})
}

func (s *Server) handleCreateList(w http.ResponseWriter, r *http.Request, userID int64) {
	var p store.CreateListParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON payload"})
		return
	}
	result, err := s.lists.Create(r.Context(), userID, p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleGetList(w http.ResponseWriter, r *http.Request, userID int64) {
	list, err := s.lists.Get(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleUpdateList(w http.ResponseWriter, r *http.Request, userID int64) {
	var p store.UpdateListParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON payload"})
		return
	}
	if err := s.lists.UpdateMetadata(r.Context(), userID, r.PathValue("id"), p); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteList(w http.ResponseWriter, r *http.Request, userID int64) {
	if err := s.lists.Delete(r.Context(), userID, r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReplaceItems(w http.ResponseWriter, r *http.Request, userID int64) {
	var body struct {
		Albums []store.AlbumInput `json:"albums"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON payload"})
		return
	}
	count, err := s.lists.ReplaceItems(r.Context(), userID, r.PathValue("id"), body.Albums)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		ItemCount int `json:"itemCount"`
	}{ItemCount: count})
}

func (s *Server) handleIncrementalUpdate(w http.ResponseWriter, r *http.Request, userID int64) {
	var p store.IncrementalUpdateParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON payload"})
		return
	}
	result, err := s.lists.IncrementalUpdate(r.Context(), userID, r.PathValue("id"), p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleReorder(w http.ResponseWriter, r *http.Request, userID int64) {
	var body struct {
		Order []store.ItemRef `json:"order"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON payload"})
		return
	}
	changed, err := s.lists.Reorder(r.Context(), userID, r.PathValue("id"), body.Order)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Changed int64 `json:"changed"`
	}{Changed: changed})
}

func (s *Server) handleUpdateComment(w http.ResponseWriter, r *http.Request, userID int64) {
	identifier, err := strconv.ParseInt(r.PathValue("itemId"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid item identifier"})
		return
	}
	var body struct {
		Comment string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON payload"})
		return
	}
	if err := s.lists.UpdateComment(r.Context(), userID, r.PathValue("id"), identifier, body.Comment); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetMain(w http.ResponseWriter, r *http.Request, userID int64) {
	var body struct {
		IsMain bool `json:"isMain"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON payload"})
		return
	}
	result, err := s.lists.SetMain(r.Context(), userID, r.PathValue("id"), body.IsMain)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSetupStatus(w http.ResponseWriter, r *http.Request, userID int64) {
	var dismissedUntil *time.Time
	if raw := r.URL.Query().Get("dismissedUntil"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid dismissedUntil timestamp"})
			return
		}
		dismissedUntil = &parsed
	}
	status, err := s.lists.SetupStatus(r.Context(), userID, dismissedUntil)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleBulkUpdate(w http.ResponseWriter, r *http.Request, userID int64) {
	var body struct {
		Updates []store.BulkUpdateEntry `json:"updates"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON payload"})
		return
	}
	result, err := s.lists.BulkUpdate(r.Context(), userID, body.Updates)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// writeError maps aborts onto their status and payload; everything else is
// an opaque 500 that gets logged.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if ab, ok := abort.From(err); ok {
		writeJSON(w, ab.Status, errorResponse{Error: ab.Message, Fields: ab.Fields})
		return
	}
	if errors.Is(err, store.ErrUnauthorized) {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "request cancelled"})
		return
	}
	log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

func parseBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}
