package handler

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mbellot/loup-garou/internal/auth"
	"github.com/mbellot/loup-garou/internal/repository"
)

// AuthHandler handles Telegram login and token refresh.
type AuthHandler struct {
	telegram *auth.TelegramVerifier
	jwtMgr   *auth.JWTManager
	userRepo repository.UserRepository
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(telegram *auth.TelegramVerifier, jwtMgr *auth.JWTManager, userRepo repository.UserRepository) *AuthHandler {
	return &AuthHandler{telegram: telegram, jwtMgr: jwtMgr, userRepo: userRepo}
}

// TelegramLogin handles POST /auth/telegram. The body is the payload the
// Telegram login widget hands to the page; its HMAC proves it came from
// Telegram for our bot.
func (h *AuthHandler) TelegramLogin(w http.ResponseWriter, r *http.Request) {
	var login auth.TelegramLogin
	if err := decodeJSON(r, &login); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.telegram.Verify(&login, time.Now()); err != nil {
		if errors.Is(err, auth.ErrStaleLogin) {
			writeError(w, http.StatusUnauthorized, "login data expired, please log in again")
			return
		}
		writeError(w, http.StatusUnauthorized, "telegram signature verification failed")
		return
	}

	user, err := h.userRepo.Upsert(r.Context(), "telegram", strconv.FormatInt(login.ID, 10), login.DisplayName(), login.PhotoURL)
	if err != nil {
		log.Error().Err(err).Int64("telegramId", login.ID).Msg("Failed to upsert Telegram user")
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	tokens, err := h.jwtMgr.GenerateTokenPair(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate tokens")
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

// RefreshToken exchanges a refresh token for a new token pair.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	claims, err := h.jwtMgr.ValidateToken(req.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	tokens, err := h.jwtMgr.GenerateTokenPair(claims.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate tokens")
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

// DevLogin creates or upserts a test user and returns a JWT token pair.
// Only available when DEV_MODE=true.
func (h *AuthHandler) DevLogin(w http.ResponseWriter, r *http.Request) {
	if os.Getenv("DEV_MODE") != "true" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing name parameter")
		return
	}

	providerID := fmt.Sprintf("dev-%s", name)
	user, err := h.userRepo.Upsert(r.Context(), "dev", providerID, name, "")
	if err != nil {
		log.Error().Err(err).Str("name", name).Msg("Failed to upsert dev user")
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	tokens, err := h.jwtMgr.GenerateTokenPair(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate tokens")
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}
