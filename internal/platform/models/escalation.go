package models

// EscalationRule is brand-scoped configuration: when (threshold) and how
// (channels) a stalled approval gets flagged.
type EscalationRule struct {
	ID             string   `json:"id"`
	BrandID        string   `json:"brand_id"`
	Level          string   `json:"level"`
	ThresholdHours int      `json:"threshold_hours"`
	NotifyChannels []string `json:"notify_channels"` // JSON array in DB
	Enabled        bool     `json:"enabled"`
	CreatedAt      int64    `json:"created_at"`
	UpdatedAt      int64    `json:"updated_at"`
}

const (
	LevelReminder24h   = "reminder_24h"
	LevelReminder48h   = "reminder_48h"
	LevelEscalation48h = "escalation_48h"
	LevelEscalation96h = "escalation_96h"
	LevelCustom        = "custom"
)

// EscalationEvent is one scheduled instance of a rule applied to a pending
// approval. At most one triggered_at write ever happens per event.
type EscalationEvent struct {
	ID          string `json:"id"`
	ApprovalID  string `json:"approval_id"`
	BrandID     string `json:"brand_id"`
	Level       string `json:"level"`
	ScheduledAt int64  `json:"scheduled_at"`
	TriggeredAt *int64 `json:"triggered_at,omitempty"`
	Status      string `json:"status"` // pending, triggered, cancelled
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

const (
	EscalationStatusPending   = "pending"
	EscalationStatusTriggered = "triggered"
	EscalationStatusCancelled = "cancelled"
)
