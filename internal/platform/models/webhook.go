package models

import "encoding/json"

type WebhookEvent struct {
	ID             string          `json:"id"`
	Provider       string          `json:"provider"`
	BrandID        string          `json:"brand_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"` // raw JSON in DB; signed byte-for-byte
	IdempotencyKey string          `json:"idempotency_key"`
	TargetURL      string          `json:"target_url"`
	Status         string          `json:"status"` // pending, delivered, failed, dead_letter
	AttemptCount   int             `json:"attempt_count"`
	MaxAttempts    int             `json:"max_attempts"`
	NextAttemptAt  *int64          `json:"next_attempt_at,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
	CreatedAt      int64           `json:"created_at"`
	UpdatedAt      int64           `json:"updated_at"`
}

const (
	WebhookStatusPending    = "pending"
	WebhookStatusDelivered  = "delivered"
	WebhookStatusFailed     = "failed"
	WebhookStatusDeadLetter = "dead_letter"
)

// Terminal reports whether the event may never be attempted again.
func (e *WebhookEvent) Terminal() bool {
	return e.Status == WebhookStatusDelivered || e.Status == WebhookStatusDeadLetter
}

// WebhookAttempt is written once per delivery try and never mutated.
type WebhookAttempt struct {
	ID            string `json:"id"`
	EventID       string `json:"event_id"`
	AttemptNumber int    `json:"attempt_number"`
	StatusCode    int    `json:"status_code,omitempty"`
	Error         string `json:"error,omitempty"`
	DurationMs    int64  `json:"duration_ms"`
	CreatedAt     int64  `json:"created_at"`
}
