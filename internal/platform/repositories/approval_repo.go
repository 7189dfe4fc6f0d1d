package repositories

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"relayr/internal/platform/models"
)

// ApprovalRepository is the boundary to the content-approval layer. The
// escalation scheduler only reads resolution state; the write paths here
// exist so approvals can enter and leave the escalation lifecycle.
type ApprovalRepository struct {
	db *sql.DB
}

func NewApprovalRepository(db *sql.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

const approvalColumns = `id, brand_id, post_id, title, status, requested_by, resolved_by, resolved_at, created_at, updated_at`

func (r *ApprovalRepository) Create(approval *models.PostApproval) error {
	if approval.ID == "" {
		approval.ID = "apr_" + uuid.New().String()
	}
	now := time.Now().Unix()
	if approval.CreatedAt == 0 {
		approval.CreatedAt = now
	}
	approval.UpdatedAt = now
	if approval.Status == "" {
		approval.Status = models.ApprovalStatusPending
	}

	_, err := r.db.Exec(`
		INSERT INTO post_approvals (`+approvalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, approval.ID, approval.BrandID, approval.PostID, approval.Title, approval.Status,
		approval.RequestedBy, approval.ResolvedBy, approval.ResolvedAt,
		approval.CreatedAt, approval.UpdatedAt)
	return err
}

func scanApproval(row interface{ Scan(...interface{}) error }) (*models.PostApproval, error) {
	var a models.PostApproval
	var title, resolvedBy sql.NullString
	var resolvedAt sql.NullInt64
	err := row.Scan(&a.ID, &a.BrandID, &a.PostID, &title, &a.Status, &a.RequestedBy,
		&resolvedBy, &resolvedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Title = title.String
	a.ResolvedBy = resolvedBy.String
	if resolvedAt.Valid {
		a.ResolvedAt = &resolvedAt.Int64
	}
	return &a, nil
}

func (r *ApprovalRepository) GetByID(id string) (*models.PostApproval, error) {
	row := r.db.QueryRow(`SELECT `+approvalColumns+` FROM post_approvals WHERE id = ?`, id)
	return scanApproval(row)
}

func (r *ApprovalRepository) ListByBrand(brandID, status string, limit, offset int) ([]*models.PostApproval, error) {
	query := `SELECT ` + approvalColumns + ` FROM post_approvals WHERE brand_id = ?`
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

	var approvals []*models.PostApproval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}

// Resolve flips a pending approval to approved/rejected. Returns false when
// the approval was already resolved.
func (r *ApprovalRepository) Resolve(id, status, resolvedBy string) (bool, error) {
	now := time.Now().Unix()
	res, err := r.db.Exec(`
		UPDATE post_approvals
		SET status = ?, resolved_by = ?, resolved_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, status, resolvedBy, now, now, id, models.ApprovalStatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
