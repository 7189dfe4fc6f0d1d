package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"relayr/internal/api/middleware"
	"relayr/internal/pkg/errors"
	"relayr/internal/platform/auth"
	"relayr/internal/platform/repositories"
)

// AuthHandler exchanges an API key for a short-lived JWT so machine callers
// can avoid sending the raw key on every request.
type AuthHandler struct {
	keyRepo  *repositories.APIKeyRepository
	tokenSvc *auth.TokenService
}

func NewAuthHandler(keyRepo *repositories.APIKeyRepository, tokenSvc *auth.TokenService) *AuthHandler {
	return &AuthHandler{keyRepo: keyRepo, tokenSvc: tokenSvc}
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	rawKey := r.Header.Get("X-API-Key")
	if rawKey == "" {
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Missing X-API-Key header", nil)
		return
	}

	prefix := middleware.KeyPrefix(rawKey)
	if prefix == "" {
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Malformed API key", nil)
		return
	}

	candidates, err := h.keyRepo.GetByPrefix(prefix)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}

	now := time.Now().Unix()
	for _, key := range candidates {
		if key.IsExpired(now) {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(rawKey)) != nil {
			continue
		}
		h.keyRepo.UpdateLastUsed(key.ID)

		token, err := h.tokenSvc.GenerateAccessToken(key.ID, key.BrandID, "service", key.Name+"@service.relayr")
		if err != nil {
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to generate token", nil)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(TokenResponse{AccessToken: token, TokenType: "Bearer"})
		return
	}

	errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid API key", nil)
}
