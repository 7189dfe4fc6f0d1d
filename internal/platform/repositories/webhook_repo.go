package repositories

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"relayr/internal/platform/models"
)

type WebhookRepository struct {
	db *sql.DB
}

func NewWebhookRepository(db *sql.DB) *WebhookRepository {
	return &WebhookRepository{db: db}
}

const webhookEventColumns = `id, provider, brand_id, event_type, payload, idempotency_key, target_url, status, attempt_count, max_attempts, next_attempt_at, last_error, created_at, updated_at`

func (r *WebhookRepository) Create(event *models.WebhookEvent) error {
	if event.ID == "" {
		event.ID = "evt_" + uuid.New().String()
	}
	now := time.Now().Unix()
	event.CreatedAt = now
	event.UpdatedAt = now
	if event.Status == "" {
		event.Status = models.WebhookStatusPending
	}

	query := `
		INSERT INTO webhook_events (` + webhookEventColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query, event.ID, event.Provider, event.BrandID, event.EventType,
		string(event.Payload), event.IdempotencyKey, event.TargetURL, event.Status,
		event.AttemptCount, event.MaxAttempts, event.NextAttemptAt, event.LastError,
		event.CreatedAt, event.UpdatedAt)
	return err
}

func scanWebhookEvent(row interface{ Scan(...interface{}) error }) (*models.WebhookEvent, error) {
	var e models.WebhookEvent
	var payload string
	var nextAttemptAt sql.NullInt64
	var lastError sql.NullString

	err := row.Scan(&e.ID, &e.Provider, &e.BrandID, &e.EventType, &payload,
		&e.IdempotencyKey, &e.TargetURL, &e.Status, &e.AttemptCount, &e.MaxAttempts,
		&nextAttemptAt, &lastError, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}

	e.Payload = []byte(payload)
	if nextAttemptAt.Valid {
		e.NextAttemptAt = &nextAttemptAt.Int64
	}
	if lastError.Valid {
		e.LastError = lastError.String
	}
	return &e, nil
}

func (r *WebhookRepository) GetByID(id string) (*models.WebhookEvent, error) {
	row := r.db.QueryRow(`SELECT `+webhookEventColumns+` FROM webhook_events WHERE id = ?`, id)
	return scanWebhookEvent(row)
}

// FindByIdempotencyKey resolves a duplicate submission to its existing event.
func (r *WebhookRepository) FindByIdempotencyKey(provider, brandID, key string) (*models.WebhookEvent, error) {
	row := r.db.QueryRow(`
		SELECT `+webhookEventColumns+` FROM webhook_events
		WHERE provider = ? AND brand_id = ? AND idempotency_key = ?
	`, provider, brandID, key)

	event, err := scanWebhookEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return event, err
}

func (r *WebhookRepository) ListByBrand(brandID, status string, limit, offset int) ([]*models.WebhookEvent, error) {
	query := `SELECT ` + webhookEventColumns + ` FROM webhook_events WHERE brand_id = ?`
	args := []interface{}{brandID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.WebhookEvent
	for rows.Next() {
		e, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetDue returns non-terminal events whose next attempt time has passed.
func (r *WebhookRepository) GetDue(now int64, limit int) ([]*models.WebhookEvent, error) {
	rows, err := r.db.Query(`
		SELECT `+webhookEventColumns+` FROM webhook_events
		WHERE status NOT IN (?, ?) AND next_attempt_at IS NOT NULL AND next_attempt_at <= ?
		ORDER BY next_attempt_at ASC LIMIT ?
	`, models.WebhookStatusDelivered, models.WebhookStatusDeadLetter, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.WebhookEvent
	for rows.Next() {
		e, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// MarkDelivered is a no-op for events already in a terminal state.
func (r *WebhookRepository) MarkDelivered(id string) error {
	_, err := r.db.Exec(`
		UPDATE webhook_events
		SET status = ?, next_attempt_at = NULL, last_error = NULL, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?)
	`, models.WebhookStatusDelivered, time.Now().Unix(), id,
		models.WebhookStatusDelivered, models.WebhookStatusDeadLetter)
	return err
}

// RecordFailure persists the outcome of a failed attempt in one write:
// the incremented attempt count, the next attempt time (nil when the event
// is dead-lettered) and the resulting status.
func (r *WebhookRepository) RecordFailure(id string, attemptCount int, nextAttemptAt *int64, status, lastError string) error {
	_, err := r.db.Exec(`
		UPDATE webhook_events
		SET attempt_count = ?, next_attempt_at = ?, status = ?, last_error = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?)
	`, attemptCount, nextAttemptAt, status, lastError, time.Now().Unix(), id,
		models.WebhookStatusDelivered, models.WebhookStatusDeadLetter)
	return err
}

// ResetForReplay re-queues a dead-lettered event with a fresh attempt budget.
// Returns false if the event was not in dead_letter state.
func (r *WebhookRepository) ResetForReplay(id string, now int64) (bool, error) {
	res, err := r.db.Exec(`
		UPDATE webhook_events
		SET status = ?, attempt_count = 0, next_attempt_at = ?, last_error = NULL, updated_at = ?
		WHERE id = ? AND status = ?
	`, models.WebhookStatusPending, now, now, id, models.WebhookStatusDeadLetter)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *WebhookRepository) AppendAttempt(attempt *models.WebhookAttempt) error {
	if attempt.ID == "" {
		attempt.ID = "att_" + uuid.New().String()
	}
	attempt.CreatedAt = time.Now().Unix()

	_, err := r.db.Exec(`
		INSERT INTO webhook_attempts (id, event_id, attempt_number, status_code, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, attempt.ID, attempt.EventID, attempt.AttemptNumber, attempt.StatusCode,
		attempt.Error, attempt.DurationMs, attempt.CreatedAt)
	return err
}

func (r *WebhookRepository) ListAttempts(eventID string) ([]*models.WebhookAttempt, error) {
	rows, err := r.db.Query(`
		SELECT id, event_id, attempt_number, status_code, error, duration_ms, created_at
		FROM webhook_attempts WHERE event_id = ? ORDER BY attempt_number ASC
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []*models.WebhookAttempt
	for rows.Next() {
		var a models.WebhookAttempt
		var statusCode sql.NullInt64
		var attemptErr sql.NullString
		if err := rows.Scan(&a.ID, &a.EventID, &a.AttemptNumber, &statusCode, &attemptErr, &a.DurationMs, &a.CreatedAt); err != nil {
			return nil, err
		}
		if statusCode.Valid {
			a.StatusCode = int(statusCode.Int64)
		}
		if attemptErr.Valid {
			a.Error = attemptErr.String
		}
		attempts = append(attempts, &a)
	}
	return attempts, rows.Err()
}
