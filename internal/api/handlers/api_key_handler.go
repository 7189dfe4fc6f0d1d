package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"golang.org/x/crypto/bcrypt"

	apiContext "relayr/internal/api/context"
	"relayr/internal/pkg/errors"
	"relayr/internal/platform/auth"
	"relayr/internal/platform/models"
	"relayr/internal/platform/repositories"
)

type APIKeyHandler struct {
	repo *repositories.APIKeyRepository
}

func NewAPIKeyHandler(repo *repositories.APIKeyRepository) *APIKeyHandler {
	return &APIKeyHandler{repo: repo}
}

// Create mints a key of the form rk_<prefix>_<secret>. Only the bcrypt hash
// is persisted; the raw key appears in the response exactly once.
func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	var req struct {
		Name          string   `json:"name"`
		Scopes        []string `json:"scopes"`
		ExpiresInDays int      `json:"expires_in_days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Name == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeValidationFailed, "Validation failed", map[string]string{"name": "name is required"})
		return
	}

	prefix, err := randomHex(4)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to generate key", nil)
		return
	}
	secret, err := randomHex(24)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to generate key", nil)
		return
	}
	rawKey := "rk_" + prefix + "_" + secret

	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to hash key", nil)
		return
	}

	apiKey := &models.APIKey{
		BrandID:   claims.BrandID,
		Name:      req.Name,
		KeyHash:   string(hash),
		KeyPrefix: prefix,
		Scopes:    req.Scopes,
	}
	if req.ExpiresInDays > 0 {
		exp := time.Now().Add(time.Duration(req.ExpiresInDays) * 24 * time.Hour).Unix()
		apiKey.ExpiresAt = &exp
	}

	if err := h.repo.Create(apiKey); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to create API key", nil)
		return
	}

	response := struct {
		ID        string   `json:"id"`
		Key       string   `json:"key"`
		Name      string   `json:"name"`
		Scopes    []string `json:"scopes"`
		ExpiresAt *int64   `json:"expires_at,omitempty"`
		CreatedAt int64    `json:"created_at"`
	}{
		ID:        apiKey.ID,
		Key:       rawKey,
		Name:      apiKey.Name,
		Scopes:    apiKey.Scopes,
		ExpiresAt: apiKey.ExpiresAt,
		CreatedAt: apiKey.CreatedAt,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(response)
}

func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	keys, err := h.repo.ListByBrand(claims.BrandID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	if keys == nil {
		keys = []*models.APIKey{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(keys)
}

func (h *APIKeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	keyID := params.ByName("key_id")

	keys, err := h.repo.ListByBrand(claims.BrandID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}

	for _, key := range keys {
		if key.ID != keyID {
			continue
		}
		if err := h.repo.Revoke(keyID); err != nil {
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to revoke key", nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "API key not found", nil)
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
