package repositories

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"relayr/internal/platform/models"
)

type EscalationRepository struct {
	db *sql.DB
}

func NewEscalationRepository(db *sql.DB) *EscalationRepository {
	return &EscalationRepository{db: db}
}

func (r *EscalationRepository) CreateRule(rule *models.EscalationRule) error {
	if rule.ID == "" {
		rule.ID = "rule_" + uuid.New().String()
	}
	now := time.Now().Unix()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	channelsJSON, err := json.Marshal(rule.NotifyChannels)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(`
		INSERT INTO escalation_rules (id, brand_id, level, threshold_hours, notify_channels, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rule.ID, rule.BrandID, rule.Level, rule.ThresholdHours, string(channelsJSON),
		rule.Enabled, rule.CreatedAt, rule.UpdatedAt)
	return err
}

func (r *EscalationRepository) UpdateRule(rule *models.EscalationRule) error {
	rule.UpdatedAt = time.Now().Unix()

	channelsJSON, err := json.Marshal(rule.NotifyChannels)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(`
		UPDATE escalation_rules
		SET level = ?, threshold_hours = ?, notify_channels = ?, enabled = ?, updated_at = ?
		WHERE id = ? AND brand_id = ?
	`, rule.Level, rule.ThresholdHours, string(channelsJSON), rule.Enabled,
		rule.UpdatedAt, rule.ID, rule.BrandID)
	return err
}

func (r *EscalationRepository) GetRule(id string) (*models.EscalationRule, error) {
	row := r.db.QueryRow(`
		SELECT id, brand_id, level, threshold_hours, notify_channels, enabled, created_at, updated_at
		FROM escalation_rules WHERE id = ?
	`, id)
	return scanEscalationRule(row)
}

func (r *EscalationRepository) ListRulesByBrand(brandID string, onlyEnabled bool) ([]*models.EscalationRule, error) {
	query := `
		SELECT id, brand_id, level, threshold_hours, notify_channels, enabled, created_at, updated_at
		FROM escalation_rules WHERE brand_id = ?`
	if onlyEnabled {
		query += ` AND enabled = 1`
	}
	query += ` ORDER BY threshold_hours ASC`

	rows, err := r.db.Query(query, brandID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*models.EscalationRule
	for rows.Next() {
		rule, err := scanEscalationRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func scanEscalationRule(row interface{ Scan(...interface{}) error }) (*models.EscalationRule, error) {
	var rule models.EscalationRule
	var channelsStr string
	err := row.Scan(&rule.ID, &rule.BrandID, &rule.Level, &rule.ThresholdHours,
		&channelsStr, &rule.Enabled, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(channelsStr), &rule.NotifyChannels)
	return &rule, nil
}

func (r *EscalationRepository) CreateEvent(event *models.EscalationEvent) error {
	if event.ID == "" {
		event.ID = "esc_" + uuid.New().String()
	}
	now := time.Now().Unix()
	event.CreatedAt = now
	event.UpdatedAt = now
	if event.Status == "" {
		event.Status = models.EscalationStatusPending
	}

	_, err := r.db.Exec(`
		INSERT INTO escalation_events (id, approval_id, brand_id, level, scheduled_at, triggered_at, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, event.ID, event.ApprovalID, event.BrandID, event.Level, event.ScheduledAt,
		event.TriggeredAt, event.Status, event.CreatedAt, event.UpdatedAt)
	return err
}

const escalationEventColumns = `id, approval_id, brand_id, level, scheduled_at, triggered_at, status, created_at, updated_at`

func scanEscalationEvent(row interface{ Scan(...interface{}) error }) (*models.EscalationEvent, error) {
	var e models.EscalationEvent
	var triggeredAt sql.NullInt64
	err := row.Scan(&e.ID, &e.ApprovalID, &e.BrandID, &e.Level, &e.ScheduledAt,
		&triggeredAt, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if triggeredAt.Valid {
		e.TriggeredAt = &triggeredAt.Int64
	}
	return &e, nil
}

func (r *EscalationRepository) GetEvent(id string) (*models.EscalationEvent, error) {
	row := r.db.QueryRow(`SELECT `+escalationEventColumns+` FROM escalation_events WHERE id = ?`, id)
	return scanEscalationEvent(row)
}

func (r *EscalationRepository) ListEventsByBrand(brandID, status string, limit, offset int) ([]*models.EscalationEvent, error) {
	query := `SELECT ` + escalationEventColumns + ` FROM escalation_events WHERE brand_id = ?`
	args := []interface{}{brandID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY scheduled_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.EscalationEvent
	for rows.Next() {
		e, err := scanEscalationEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetDue returns pending events scheduled between horizonStart and now.
// Events older than the horizon are left alone as a stale safety valve.
func (r *EscalationRepository) GetDue(now, horizonStart int64, limit int) ([]*models.EscalationEvent, error) {
	rows, err := r.db.Query(`
		SELECT `+escalationEventColumns+` FROM escalation_events
		WHERE status = ? AND scheduled_at <= ? AND scheduled_at >= ?
		ORDER BY scheduled_at ASC LIMIT ?
	`, models.EscalationStatusPending, now, horizonStart, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.EscalationEvent
	for rows.Next() {
		e, err := scanEscalationEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// MarkTriggered is the sole gate for notification dispatch. The conditional
// update only succeeds while the event is still pending, so a second run
// against the same event reports false and dispatches nothing.
func (r *EscalationRepository) MarkTriggered(id string, now int64) (bool, error) {
	res, err := r.db.Exec(`
		UPDATE escalation_events
		SET status = ?, triggered_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, models.EscalationStatusTriggered, now, now, id, models.EscalationStatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *EscalationRepository) MarkCancelled(id string) (bool, error) {
	res, err := r.db.Exec(`
		UPDATE escalation_events
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, models.EscalationStatusCancelled, time.Now().Unix(), id, models.EscalationStatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CancelPendingByApproval cancels every pending event tied to an approval,
// used when the approval resolves before its escalations come due.
func (r *EscalationRepository) CancelPendingByApproval(approvalID string) (int64, error) {
	res, err := r.db.Exec(`
		UPDATE escalation_events
		SET status = ?, updated_at = ?
		WHERE approval_id = ? AND status = ?
	`, models.EscalationStatusCancelled, time.Now().Unix(), approvalID, models.EscalationStatusPending)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
