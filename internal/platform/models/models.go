package models

// PostApproval is owned by the content-approval layer. The escalation
// scheduler reads its creation time and resolution state; it never touches
// business fields beyond status.
type PostApproval struct {
	ID          string `json:"id"`
	BrandID     string `json:"brand_id"`
	PostID      string `json:"post_id"`
	Title       string `json:"title,omitempty"`
	Status      string `json:"status"` // pending, approved, rejected
	RequestedBy string `json:"requested_by"`
	ResolvedBy  string `json:"resolved_by,omitempty"`
	ResolvedAt  *int64 `json:"resolved_at,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

const (
	ApprovalStatusPending  = "pending"
	ApprovalStatusApproved = "approved"
	ApprovalStatusRejected = "rejected"
)

// Resolved reports whether the approval no longer needs escalation.
func (a *PostApproval) Resolved() bool {
	return a.Status != ApprovalStatusPending
}

type AuditLog struct {
	ID         string                 `json:"id"`
	BrandID    string                 `json:"brand_id"`
	PostID     string                 `json:"post_id,omitempty"`
	ActorID    string                 `json:"actor_id"`
	ActorEmail string                 `json:"actor_email"`
	Action     string                 `json:"action"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	IPAddress  string                 `json:"ip_address,omitempty"`
	UserAgent  string                 `json:"user_agent,omitempty"`
	CreatedAt  int64                  `json:"created_at"`
}

// Audit action taxonomy. Every audit row carries exactly one of these.
const (
	ActionSubmitted           = "SUBMITTED"
	ActionApproved            = "APPROVED"
	ActionRejected            = "REJECTED"
	ActionBulkApproved        = "BULK_APPROVED"
	ActionSettingsUpdated     = "SETTINGS_UPDATED"
	ActionEmailSent           = "EMAIL_SENT"
	ActionReminderSent        = "REMINDER_SENT"
	ActionEscalationTriggered = "ESCALATION_TRIGGERED"
	ActionEscalationCancelled = "ESCALATION_CANCELLED"
	ActionWebhookDelivered    = "WEBHOOK_DELIVERED"
	ActionWebhookDeadLettered = "WEBHOOK_DEAD_LETTERED"
	ActionWebhookReplayed     = "WEBHOOK_REPLAYED"
	ActionSignatureRejected   = "SIGNATURE_REJECTED"
	ActionAuditPurged         = "AUDIT_PURGED"
)
