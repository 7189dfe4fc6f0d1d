package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	apiContext "relayr/internal/api/context"
	"relayr/internal/pkg/errors"
	"relayr/internal/platform/auth"
	"relayr/internal/platform/repositories"
)

type AuthMiddleware struct {
	tokenSvc *auth.TokenService
	keyRepo  *repositories.APIKeyRepository
}

func NewAuthMiddleware(tokenSvc *auth.TokenService, keyRepo *repositories.APIKeyRepository) *AuthMiddleware {
	return &AuthMiddleware{tokenSvc: tokenSvc, keyRepo: keyRepo}
}

// Handle accepts either a Bearer JWT (dashboard callers) or an X-API-Key
// header (machine callers). Both resolve to brand-scoped claims in context.
func (m *AuthMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
			claims, ok := m.validateAPIKey(apiKey)
			if !ok {
				errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid API key", nil)
				return
			}
			ctx := context.WithValue(r.Context(), apiContext.Claims, claims)
			next(w, r.WithContext(ctx))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Missing authorization header", nil)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid authorization header format", nil)
			return
		}

		claims, err := m.tokenSvc.ValidateToken(parts[1])
		if err != nil {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid or expired token", nil)
			return
		}

		ctx := context.WithValue(r.Context(), apiContext.Claims, claims)
		next(w, r.WithContext(ctx))
	}
}

// Keys look like rk_<prefix>_<secret>; the prefix narrows the candidate set
// and bcrypt confirms the full key. Expired keys never authenticate.
func (m *AuthMiddleware) validateAPIKey(rawKey string) (*auth.Claims, bool) {
	prefix := KeyPrefix(rawKey)
	if prefix == "" {
		return nil, false
	}

	candidates, err := m.keyRepo.GetByPrefix(prefix)
	if err != nil {
		return nil, false
	}

	now := time.Now().Unix()
	for _, key := range candidates {
		if key.IsExpired(now) {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(rawKey)) == nil {
			m.keyRepo.UpdateLastUsed(key.ID)
			return &auth.Claims{
				ActorID: key.ID,
				BrandID: key.BrandID,
				Role:    "service",
				Email:   key.Name + "@service.relayr",
				Scopes:  key.Scopes,
			}, true
		}
	}
	return nil, false
}

// KeyPrefix extracts the lookup prefix from a raw API key.
func KeyPrefix(rawKey string) string {
	parts := strings.SplitN(rawKey, "_", 3)
	if len(parts) != 3 || parts[0] != "rk" {
		return ""
	}
	return parts[1]
}
