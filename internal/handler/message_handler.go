package handler

import (
	"net/http"

	"github.com/mbellot/loup-garou/internal/auth"
	"github.com/mbellot/loup-garou/internal/repository"
	"github.com/mbellot/loup-garou/internal/service"
)

// MessageHandler handles in-match chat endpoints. The engine writes its own
// system lines into the same feed, so clients render game notices and
// player chatter as one stream.
type MessageHandler struct {
	messageRepo repository.MessageRepository
	engine      *service.Engine
	hub         *Hub
}

// NewMessageHandler creates a MessageHandler.
func NewMessageHandler(messageRepo repository.MessageRepository, engine *service.Engine, hub *Hub) *MessageHandler {
	return &MessageHandler{messageRepo: messageRepo, engine: engine, hub: hub}
}

// ListMessages handles GET /api/v1/matches/{id}/messages
func (h *MessageHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	matchID := r.PathValue("id")
	userID := auth.UserIDFromContext(r.Context())
	messages, err := h.messageRepo.ListByMatch(r.Context(), matchID, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if messages == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// SendMessage handles POST /api/v1/matches/{id}/messages
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	matchID := r.PathValue("id")
	userID := auth.UserIDFromContext(r.Context())

	var req struct {
		RecipientID string `json:"recipient_id,omitempty"`
		Content     string `json:"content"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	snapshot, err := h.engine.Snapshot(r.Context(), matchID, userID)
	if err != nil {
		writeMatchError(w, err)
		return
	}
	member := false
	for _, p := range snapshot.Players {
		if p.ID == userID {
			member = true
			break
		}
	}
	if !member {
		writeError(w, http.StatusForbidden, "you are not in this match")
		return
	}

	msg, err := h.messageRepo.Create(r.Context(), matchID, userID, req.RecipientID, req.Content)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Private messages go to recipient and sender only, public to the match.
	event := WSEvent{Type: EventMessage, MatchID: matchID, Data: msg}
	if req.RecipientID != "" {
		h.hub.BroadcastToUser(req.RecipientID, event)
		h.hub.BroadcastToUser(userID, event)
	} else {
		h.hub.BroadcastToMatch(matchID, event)
	}

	writeJSON(w, http.StatusCreated, msg)
}
