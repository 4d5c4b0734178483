package handler

import (
	"errors"
	"net/http"

	"github.com/mbellot/loup-garou/internal/auth"
	"github.com/mbellot/loup-garou/internal/service"
)

// MatchHandler handles match lifecycle endpoints.
type MatchHandler struct {
	engine *service.Engine
}

// NewMatchHandler creates a MatchHandler.
func NewMatchHandler(engine *service.Engine) *MatchHandler {
	return &MatchHandler{engine: engine}
}

// matchErrorStatus maps engine rejections to HTTP status codes.
func matchErrorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrMatchNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNotAMember),
		errors.Is(err, service.ErrNotAlive),
		errors.Is(err, service.ErrNotAWolf):
		return http.StatusForbidden
	case errors.Is(err, service.ErrAlreadyStarted),
		errors.Is(err, service.ErrMatchFull),
		errors.Is(err, service.ErrAlreadyJoined),
		errors.Is(err, service.ErrNotEnoughPlayers),
		errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrWrongPhase),
		errors.Is(err, service.ErrWrongRound),
		errors.Is(err, service.ErrSelfTarget),
		errors.Is(err, service.ErrTargetNotAlive):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrCommitContention):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeMatchError renders an engine error.
func writeMatchError(w http.ResponseWriter, err error) {
	writeError(w, matchErrorStatus(err), err.Error())
}

// CreateMatch handles POST /api/v1/matches
func (h *MatchHandler) CreateMatch(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	var req struct {
		DisplayName string `json:"display_name"`
		Bots        int    `json:"bots,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DisplayName == "" {
		writeError(w, http.StatusBadRequest, "display_name is required")
		return
	}
	if req.Bots < 0 {
		writeError(w, http.StatusBadRequest, "bots must not be negative")
		return
	}

	m, err := h.engine.CreateMatch(r.Context(), userID, req.DisplayName, req.Bots)
	if err != nil {
		writeMatchError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, service.Project(m, userID))
}

// ListMatches handles GET /api/v1/matches
func (h *MatchHandler) ListMatches(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	filter := r.URL.Query().Get("filter")
	matches, err := h.engine.ListMatches(r.Context(), userID, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if matches == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

// GetMatch handles GET /api/v1/matches/{id}
func (h *MatchHandler) GetMatch(w http.ResponseWriter, r *http.Request) {
	matchID := r.PathValue("id")
	userID := auth.UserIDFromContext(r.Context())

	snapshot, err := h.engine.Snapshot(r.Context(), matchID, userID)
	if err != nil {
		writeMatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// JoinMatch handles POST /api/v1/matches/{id}/join
func (h *MatchHandler) JoinMatch(w http.ResponseWriter, r *http.Request) {
	matchID := r.PathValue("id")
	userID := auth.UserIDFromContext(r.Context())

	var req struct {
		DisplayName string `json:"display_name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DisplayName == "" {
		writeError(w, http.StatusBadRequest, "display_name is required")
		return
	}

	m, err := h.engine.CreateOrJoin(r.Context(), matchID, userID, req.DisplayName)
	if err != nil {
		writeMatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, service.Project(m, userID))
}

// StartMatch handles POST /api/v1/matches/{id}/start
func (h *MatchHandler) StartMatch(w http.ResponseWriter, r *http.Request) {
	matchID := r.PathValue("id")
	userID := auth.UserIDFromContext(r.Context())

	m, err := h.engine.Start(r.Context(), matchID, userID)
	if err != nil {
		writeMatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, service.Project(m, userID))
}

// CastVote handles POST /api/v1/matches/{id}/vote
func (h *MatchHandler) CastVote(w http.ResponseWriter, r *http.Request) {
	matchID := r.PathValue("id")
	userID := auth.UserIDFromContext(r.Context())

	var req struct {
		TargetID string `json:"target_id"`
		Round    int    `json:"round"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TargetID == "" {
		writeError(w, http.StatusBadRequest, "target_id is required")
		return
	}

	m, err := h.engine.CastVote(r.Context(), matchID, userID, req.TargetID, req.Round)
	if err != nil {
		writeMatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, service.Project(m, userID))
}

// NightAction handles POST /api/v1/matches/{id}/night-action
func (h *MatchHandler) NightAction(w http.ResponseWriter, r *http.Request) {
	matchID := r.PathValue("id")
	userID := auth.UserIDFromContext(r.Context())

	var req struct {
		TargetID string `json:"target_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TargetID == "" {
		writeError(w, http.StatusBadRequest, "target_id is required")
		return
	}

	m, err := h.engine.NightAction(r.Context(), matchID, userID, req.TargetID)
	if err != nil {
		writeMatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, service.Project(m, userID))
}

// LeaveMatch handles POST /api/v1/matches/{id}/leave
func (h *MatchHandler) LeaveMatch(w http.ResponseWriter, r *http.Request) {
	matchID := r.PathValue("id")
	userID := auth.UserIDFromContext(r.Context())

	if _, err := h.engine.Leave(r.Context(), matchID, userID); err != nil {
		writeMatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
}
