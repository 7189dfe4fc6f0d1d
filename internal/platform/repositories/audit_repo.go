package repositories

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"relayr/internal/platform/models"
)

type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// AuditFilter scopes queries. BrandID is mandatory; everything else narrows.
type AuditFilter struct {
	BrandID    string
	PostID     string
	ActorID    string
	ActorEmail string
	Action     string
	From       int64
	To         int64
	Limit      int
	Offset     int
}

// Append writes one immutable row. Errors propagate so the triggering
// action can be treated as suspect upstream.
func (r *AuditRepository) Append(entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = "audit_" + uuid.New().String()
	}
	if entry.CreatedAt == 0 {
		entry.CreatedAt = time.Now().Unix()
	}

	metaJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(`
		INSERT INTO audit_logs (id, brand_id, post_id, actor_id, actor_email, action, metadata, ip_address, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.BrandID, entry.PostID, entry.ActorID, entry.ActorEmail,
		entry.Action, string(metaJSON), entry.IPAddress, entry.UserAgent, entry.CreatedAt)
	return err
}

func (f AuditFilter) where() (string, []interface{}) {
	clause := ` WHERE brand_id = ?`
	args := []interface{}{f.BrandID}
	if f.PostID != "" {
		clause += ` AND post_id = ?`
		args = append(args, f.PostID)
	}
	if f.ActorID != "" {
		clause += ` AND actor_id = ?`
		args = append(args, f.ActorID)
	}
	if f.ActorEmail != "" {
		clause += ` AND actor_email = ?`
		args = append(args, f.ActorEmail)
	}
	if f.Action != "" {
		clause += ` AND action = ?`
		args = append(args, f.Action)
	}
	if f.From > 0 {
		clause += ` AND created_at >= ?`
		args = append(args, f.From)
	}
	if f.To > 0 {
		clause += ` AND created_at <= ?`
		args = append(args, f.To)
	}
	return clause, args
}

func (r *AuditRepository) Query(filter AuditFilter) ([]*models.AuditLog, error) {
	clause, args := filter.where()
	query := `SELECT id, brand_id, post_id, actor_id, actor_email, action, metadata, ip_address, user_agent, created_at FROM audit_logs` + clause + ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*models.AuditLog
	for rows.Next() {
		var l models.AuditLog
		var postID, metaStr, ip, ua sql.NullString
		if err := rows.Scan(&l.ID, &l.BrandID, &postID, &l.ActorID, &l.ActorEmail,
			&l.Action, &metaStr, &ip, &ua, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.PostID = postID.String
		l.IPAddress = ip.String
		l.UserAgent = ua.String
		if metaStr.Valid && metaStr.String != "" {
			json.Unmarshal([]byte(metaStr.String), &l.Metadata)
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

func (r *AuditRepository) Count(filter AuditFilter) (int, error) {
	clause, args := filter.where()
	var total int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM audit_logs`+clause, args...).Scan(&total)
	return total, err
}

func (r *AuditRepository) CountByAction(filter AuditFilter) (map[string]int, error) {
	clause, args := filter.where()
	rows, err := r.db.Query(`SELECT action, COUNT(*) FROM audit_logs`+clause+` GROUP BY action`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var action string
		var n int
		if err := rows.Scan(&action, &n); err != nil {
			return nil, err
		}
		counts[action] = n
	}
	return counts, rows.Err()
}

type ActorCount struct {
	ActorEmail string `json:"actor_email"`
	Count      int    `json:"count"`
}

func (r *AuditRepository) TopActors(filter AuditFilter, limit int) ([]ActorCount, error) {
	clause, args := filter.where()
	args = append(args, limit)
	rows, err := r.db.Query(`
		SELECT actor_email, COUNT(*) AS n FROM audit_logs`+clause+`
		GROUP BY actor_email ORDER BY n DESC LIMIT ?
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actors []ActorCount
	for rows.Next() {
		var a ActorCount
		if err := rows.Scan(&a.ActorEmail, &a.Count); err != nil {
			return nil, err
		}
		actors = append(actors, a)
	}
	return actors, rows.Err()
}

// ApprovalDurations returns seconds between a post's SUBMITTED row and its
// eventual APPROVED row, for every post resolved in the window. Computed
// from the rows themselves rather than a mutable aggregate, so the numbers
// cannot drift from the source of truth.
func (r *AuditRepository) ApprovalDurations(filter AuditFilter) ([]int64, error) {
	query := `
		SELECT a.created_at - s.created_at
		FROM audit_logs a
		JOIN audit_logs s ON s.post_id = a.post_id AND s.brand_id = a.brand_id AND s.action = ?
		WHERE a.brand_id = ? AND a.action = ?`
	args := []interface{}{models.ActionSubmitted, filter.BrandID, models.ActionApproved}
	if filter.From > 0 {
		query += ` AND a.created_at >= ?`
		args = append(args, filter.From)
	}
	if filter.To > 0 {
		query += ` AND a.created_at <= ?`
		args = append(args, filter.To)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var durations []int64
	for rows.Next() {
		var d int64
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		durations = append(durations, d)
	}
	return durations, rows.Err()
}

// Purge is the only deletion path for audit rows. Returns the exact count
// removed so the purge itself can be audited.
func (r *AuditRepository) Purge(cutoff int64) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM audit_logs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
