package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	apiContext "relayr/internal/api/context"
	"relayr/internal/engine/audit"
	"relayr/internal/engine/webhooks"
	"relayr/internal/pkg/errors"
	"relayr/internal/platform/auth"
	"relayr/internal/platform/models"
	"relayr/internal/platform/repositories"
)

type WebhookHandler struct {
	dispatcher *webhooks.Dispatcher
	repo       *repositories.WebhookRepository
	auditor    *audit.Logger
	secrets    map[string]string
}

func NewWebhookHandler(dispatcher *webhooks.Dispatcher, repo *repositories.WebhookRepository, auditor *audit.Logger, secrets map[string]string) *WebhookHandler {
	return &WebhookHandler{dispatcher: dispatcher, repo: repo, auditor: auditor, secrets: secrets}
}

// Submit registers an outbound event. Resubmitting the same idempotency key
// returns the existing event with 200 instead of 201.
func (h *WebhookHandler) Submit(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	var req webhooks.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	req.BrandID = claims.BrandID

	event, created, err := h.dispatcher.Submit(req)
	if err != nil {
		switch err {
		case webhooks.ErrUnknownProvider:
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeValidationFailed, "Unknown provider", map[string]string{"provider": "must be one of the supported providers"})
		case webhooks.ErrMissingTarget:
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeValidationFailed, "Missing target URL", map[string]string{"target_url": "target_url is required"})
		case webhooks.ErrEmptyPayload:
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeValidationFailed, "Missing payload", map[string]string{"payload": "payload is required"})
		default:
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to submit event", nil)
		}
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(event)
}

func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	limit, offset := pagination(r)
	events, err := h.repo.ListByBrand(claims.BrandID, r.URL.Query().Get("status"), limit, offset)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to list events", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

func (h *WebhookHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	id := params.ByName("event_id")

	event, err := h.repo.GetByID(id)
	if err != nil || event.BrandID != claims.BrandID {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Event not found", nil)
		return
	}

	attempts, err := h.repo.ListAttempts(id)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load attempts", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"event":    event,
		"attempts": attempts,
	})
}

// Replay re-queues a dead-lettered event. Operator-only.
func (h *WebhookHandler) Replay(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	id := params.ByName("event_id")

	event, err := h.repo.GetByID(id)
	if err != nil || event.BrandID != claims.BrandID {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Event not found", nil)
		return
	}

	replayed, err := h.dispatcher.Replay(id, audit.Entry{
		ActorID:    claims.ActorID,
		ActorEmail: claims.Email,
		IPAddress:  r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	})
	if err != nil {
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "Event is not dead-lettered", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(replayed)
}

// Inbound accepts a provider callback after verifying its signature against
// the provider's scheme. A bad or missing signature is rejected and audited
// as a security-relevant event, never retried.
func (h *WebhookHandler) Inbound(w http.ResponseWriter, r *http.Request) {
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	provider := params.ByName("provider")

	header, ok := webhooks.SignatureHeader(provider)
	if !ok {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Unknown provider", nil)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Unreadable body", nil)
		return
	}

	supplied := r.Header.Get(header)
	if !webhooks.Verify(provider, body, supplied, h.secrets[provider]) {
		// Forged callbacks rarely identify a brand; attribute those to the
		// system brand so the rejection is never lost from the trail.
		brandID := r.URL.Query().Get("brand_id")
		if brandID == "" {
			brandID = "system"
		}
		log.Warn().Str("provider", provider).Str("remote_addr", r.RemoteAddr).Msg("inbound signature rejected")
		if _, auditErr := h.auditor.Record(audit.Entry{
			BrandID:    brandID,
			ActorID:    "external",
			ActorEmail: provider + "@external",
			Action:     models.ActionSignatureRejected,
			IPAddress:  r.RemoteAddr,
			UserAgent:  r.UserAgent(),
			Metadata:   map[string]interface{}{"provider": provider},
		}); auditErr != nil {
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Audit write failed", nil)
			return
		}
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Signature verification failed", nil)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func pagination(r *http.Request) (limit, offset int) {
	limit = 50
	offset = 0
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}
