package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"
	apiContext "relayr/internal/api/context"
	"relayr/internal/engine/audit"
	"relayr/internal/engine/escalations"
	"relayr/internal/pkg/errors"
	"relayr/internal/platform/auth"
	"relayr/internal/platform/models"
)

type EscalationHandler struct {
	service *escalations.Service
}

func NewEscalationHandler(service *escalations.Service) *EscalationHandler {
	return &EscalationHandler{service: service}
}

func actorEntry(r *http.Request, claims *auth.Claims) audit.Entry {
	return audit.Entry{
		ActorID:    claims.ActorID,
		ActorEmail: claims.Email,
		IPAddress:  r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	}
}

func (h *EscalationHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	var rule models.EscalationRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	rule.BrandID = claims.BrandID

	created, err := h.service.CreateRule(&rule, actorEntry(r, claims))
	if err != nil {
		if verr, ok := err.(*escalations.ValidationError); ok {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeValidationFailed, "Invalid escalation rule", verr.Fields)
			return
		}
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to create rule", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(created)
}

func (h *EscalationHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)
	params := r.Context().Value(apiContext.Params).(httprouter.Params)

	var rule models.EscalationRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	rule.ID = params.ByName("rule_id")
	rule.BrandID = claims.BrandID

	updated, err := h.service.UpdateRule(&rule, actorEntry(r, claims))
	if err != nil {
		if verr, ok := err.(*escalations.ValidationError); ok {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeValidationFailed, "Invalid escalation rule", verr.Fields)
			return
		}
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to update rule", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(updated)
}

func (h *EscalationHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	rules, err := h.service.ListRules(claims.BrandID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to list rules", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rules)
}

func (h *EscalationHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	limit, offset := pagination(r)
	events, err := h.service.ListEvents(claims.BrandID, r.URL.Query().Get("status"), limit, offset)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to list events", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

func (h *EscalationHandler) CancelEvent(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	id := params.ByName("escalation_id")

	event, err := h.service.GetEvent(id)
	if err != nil || event.BrandID != claims.BrandID {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Escalation event not found", nil)
		return
	}

	cancelled, err := h.service.CancelEvent(id)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to cancel event", nil)
		return
	}
	if !cancelled {
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "Event is no longer pending", nil)
		return
	}

	w.WriteHeader(http.StatusOK)
}
