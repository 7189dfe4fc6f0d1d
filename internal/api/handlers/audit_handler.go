package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	apiContext "relayr/internal/api/context"
	"relayr/internal/engine/audit"
	"relayr/internal/pkg/errors"
	"relayr/internal/platform/auth"
	"relayr/internal/platform/repositories"
)

type AuditHandler struct {
	auditor *audit.Logger
}

func NewAuditHandler(auditor *audit.Logger) *AuditHandler {
	return &AuditHandler{auditor: auditor}
}

// filterFromRequest builds a brand-scoped filter. The brand always comes
// from the caller's claims, never from the query string, so one tenant can
// never read another's trail.
func filterFromRequest(r *http.Request) repositories.AuditFilter {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)
	q := r.URL.Query()

	filter := repositories.AuditFilter{
		BrandID:    claims.BrandID,
		PostID:     q.Get("post_id"),
		ActorID:    q.Get("actor_id"),
		ActorEmail: q.Get("actor_email"),
		Action:     q.Get("action"),
	}
	if v, err := strconv.ParseInt(q.Get("from"), 10, 64); err == nil {
		filter.From = v
	}
	if v, err := strconv.ParseInt(q.Get("to"), 10, 64); err == nil {
		filter.To = v
	}
	filter.Limit, filter.Offset = pagination(r)
	return filter
}

func (h *AuditHandler) Query(w http.ResponseWriter, r *http.Request) {
	result, err := h.auditor.Query(filterFromRequest(r))
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Audit query failed", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (h *AuditHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	filter := filterFromRequest(r)

	stats, err := h.auditor.Statistics(filter.BrandID, filter.From, filter.To)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Statistics query failed", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// Export streams the brand's trail as CSV for compliance hand-off.
func (h *AuditHandler) Export(w http.ResponseWriter, r *http.Request) {
	filter := filterFromRequest(r)

	filename := fmt.Sprintf("audit_%s_%s.csv", filter.BrandID, time.Now().UTC().Format("20060102_150405"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))

	if err := h.auditor.Export(w, filter.BrandID, filter.From, filter.To); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Export failed", nil)
		return
	}
}

// Purge is the only deletion path for audit rows; it requires an explicit
// retention window and is itself audited.
func (h *AuditHandler) Purge(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	var req struct {
		OlderThanDays int `json:"older_than_days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.OlderThanDays <= 0 {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeValidationFailed, "Invalid retention window", map[string]string{"older_than_days": "must be positive"})
		return
	}

	count, err := h.auditor.Purge(req.OlderThanDays, audit.Entry{
		BrandID:    claims.BrandID,
		ActorID:    claims.ActorID,
		ActorEmail: claims.Email,
		IPAddress:  r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	})
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Purge failed", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int64{"removed": count})
}
