package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"time"
)

type HealthHandler struct {
	db         *sql.DB
	schedulers map[string]Lifecycle
}

func NewHealthHandler(db *sql.DB, retry Lifecycle, escalation Lifecycle) *HealthHandler {
	return &HealthHandler{db: db, schedulers: map[string]Lifecycle{
		"webhooks":    retry,
		"escalations": escalation,
	}}
}

func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	if err := h.db.Ping(); err != nil {
		checks["database"] = "unhealthy: " + err.Error()
	} else {
		checks["database"] = "healthy"
	}

	for name, scheduler := range h.schedulers {
		if scheduler == nil {
			continue
		}
		if scheduler.Status().Running {
			checks["scheduler_"+name] = "running"
		} else {
			checks["scheduler_"+name] = "stopped"
		}
	}

	status := "healthy"
	if len(checks["database"]) >= 9 && checks["database"][:9] == "unhealthy" {
		status = "degraded"
	}

	response := struct {
		Status    string            `json:"status"`
		Timestamp int64             `json:"timestamp"`
		Checks    map[string]string `json:"checks"`
	}{
		Status:    status,
		Timestamp: time.Now().Unix(),
		Checks:    checks,
	}

	statusCode := http.StatusOK
	if status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}
