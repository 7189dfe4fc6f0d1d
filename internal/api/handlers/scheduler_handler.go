package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"
	apiContext "relayr/internal/api/context"
	"relayr/internal/engine/webhooks"
	"relayr/internal/pkg/errors"
)

// Lifecycle is what both schedulers expose to the control API.
type Lifecycle interface {
	Start()
	Stop()
	Status() webhooks.SchedulerStatus
}

// SchedulerHandler exposes start/stop/status controls for the background
// loops. Start and stop are idempotent; a redundant call logs a warning in
// the scheduler and changes nothing.
type SchedulerHandler struct {
	schedulers map[string]Lifecycle
}

func NewSchedulerHandler(retry Lifecycle, escalation Lifecycle) *SchedulerHandler {
	return &SchedulerHandler{schedulers: map[string]Lifecycle{
		"webhooks":    retry,
		"escalations": escalation,
	}}
}

func (h *SchedulerHandler) lookup(w http.ResponseWriter, r *http.Request) (Lifecycle, bool) {
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	scheduler, ok := h.schedulers[params.ByName("scheduler")]
	if !ok {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Unknown scheduler", nil)
		return nil, false
	}
	return scheduler, true
}

func (h *SchedulerHandler) Status(w http.ResponseWriter, r *http.Request) {
	scheduler, ok := h.lookup(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(scheduler.Status())
}

func (h *SchedulerHandler) Start(w http.ResponseWriter, r *http.Request) {
	scheduler, ok := h.lookup(w, r)
	if !ok {
		return
	}

	scheduler.Start()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(scheduler.Status())
}

func (h *SchedulerHandler) Stop(w http.ResponseWriter, r *http.Request) {
	scheduler, ok := h.lookup(w, r)
	if !ok {
		return
	}

	scheduler.Stop()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(scheduler.Status())
}
