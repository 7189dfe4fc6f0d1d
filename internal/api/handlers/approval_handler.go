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
	"relayr/internal/platform/repositories"
)

// ApprovalHandler is the boundary to the content-approval layer: submitting
// an approval schedules its escalations, resolving it cancels them. The
// approval business fields themselves live upstream.
type ApprovalHandler struct {
	repo        *repositories.ApprovalRepository
	escalations *escalations.Service
	auditor     *audit.Logger
}

func NewApprovalHandler(repo *repositories.ApprovalRepository, escalationSvc *escalations.Service, auditor *audit.Logger) *ApprovalHandler {
	return &ApprovalHandler{repo: repo, escalations: escalationSvc, auditor: auditor}
}

func (h *ApprovalHandler) Submit(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	var req struct {
		PostID string `json:"post_id"`
		Title  string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.PostID == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeValidationFailed, "Missing post id", map[string]string{"post_id": "post_id is required"})
		return
	}

	approval := &models.PostApproval{
		BrandID:     claims.BrandID,
		PostID:      req.PostID,
		Title:       req.Title,
		RequestedBy: claims.ActorID,
	}
	if err := h.repo.Create(approval); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to create approval", nil)
		return
	}

	// The audit write is part of the action: if it fails, the caller must
	// treat the submission as suspect.
	if _, err := h.auditor.Record(audit.Entry{
		BrandID:    claims.BrandID,
		PostID:     req.PostID,
		ActorID:    claims.ActorID,
		ActorEmail: claims.Email,
		Action:     models.ActionSubmitted,
		IPAddress:  r.RemoteAddr,
		UserAgent:  r.UserAgent(),
		Metadata:   map[string]interface{}{"approval_id": approval.ID},
	}); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Audit write failed", nil)
		return
	}

	if _, err := h.escalations.ScheduleForApproval(approval); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to schedule escalations", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(approval)
}

func (h *ApprovalHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	id := params.ByName("approval_id")

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Status != models.ApprovalStatusApproved && req.Status != models.ApprovalStatusRejected {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeValidationFailed, "Invalid status", map[string]string{"status": "must be approved or rejected"})
		return
	}

	approval, err := h.repo.GetByID(id)
	if err != nil || approval.BrandID != claims.BrandID {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Approval not found", nil)
		return
	}

	resolved, err := h.repo.Resolve(id, req.Status, claims.ActorID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to resolve approval", nil)
		return
	}
	if !resolved {
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "Approval already resolved", nil)
		return
	}

	action := models.ActionApproved
	if req.Status == models.ApprovalStatusRejected {
		action = models.ActionRejected
	}
	if _, err := h.auditor.Record(audit.Entry{
		BrandID:    claims.BrandID,
		PostID:     approval.PostID,
		ActorID:    claims.ActorID,
		ActorEmail: claims.Email,
		Action:     action,
		IPAddress:  r.RemoteAddr,
		UserAgent:  r.UserAgent(),
		Metadata:   map[string]interface{}{"approval_id": approval.ID},
	}); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Audit write failed", nil)
		return
	}

	if _, err := h.escalations.CancelForApproval(id, claims.BrandID, actorEntry(r, claims)); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to cancel escalations", nil)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *ApprovalHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	limit, offset := pagination(r)
	approvals, err := h.repo.ListByBrand(claims.BrandID, r.URL.Query().Get("status"), limit, offset)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to list approvals", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(approvals)
}
