package audit

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"time"

	"relayr/internal/platform/models"
	"relayr/internal/platform/repositories"
)

var (
	ErrBrandRequired  = errors.New("audit: brand id is required")
	ErrActionRequired = errors.New("audit: action is required")
)

// Logger is the append-only write path plus the compliance read paths.
// Writes are synchronous: if the audit row cannot be persisted the caller
// hears about it, because a silently missing audit record is a correctness
// defect, not a degraded mode.
type Logger struct {
	repo *repositories.AuditRepository
	now  func() time.Time
}

func NewLogger(repo *repositories.AuditRepository) *Logger {
	return &Logger{repo: repo, now: time.Now}
}

type Entry struct {
	BrandID    string
	PostID     string
	ActorID    string
	ActorEmail string
	Action     string
	Metadata   map[string]interface{}
	IPAddress  string
	UserAgent  string
}

func (l *Logger) Record(entry Entry) (*models.AuditLog, error) {
	if entry.BrandID == "" {
		return nil, ErrBrandRequired
	}
	if entry.Action == "" {
		return nil, ErrActionRequired
	}

	row := &models.AuditLog{
		BrandID:    entry.BrandID,
		PostID:     entry.PostID,
		ActorID:    entry.ActorID,
		ActorEmail: entry.ActorEmail,
		Action:     entry.Action,
		Metadata:   entry.Metadata,
		IPAddress:  entry.IPAddress,
		UserAgent:  entry.UserAgent,
		CreatedAt:  l.now().Unix(),
	}
	if err := l.repo.Append(row); err != nil {
		return nil, err
	}
	return row, nil
}

type QueryResult struct {
	Logs    []*models.AuditLog `json:"logs"`
	Total   int                `json:"total"`
	HasMore bool               `json:"has_more"`
}

func (l *Logger) Query(filter repositories.AuditFilter) (*QueryResult, error) {
	if filter.BrandID == "" {
		return nil, ErrBrandRequired
	}
	if filter.Limit <= 0 {
		filter.Limit = 50
	}

	logs, err := l.repo.Query(filter)
	if err != nil {
		return nil, err
	}
	total, err := l.repo.Count(filter)
	if err != nil {
		return nil, err
	}

	return &QueryResult{
		Logs:    logs,
		Total:   total,
		HasMore: filter.Offset+len(logs) < total,
	}, nil
}

type Statistics struct {
	TotalActions          int                       `json:"total_actions"`
	ByAction              map[string]int            `json:"by_action"`
	AverageApprovalTimeMs int64                     `json:"average_approval_time_ms"`
	RejectionRate         float64                   `json:"rejection_rate"`
	BulkApprovals         int                       `json:"bulk_approvals"`
	EmailsSent            int                       `json:"emails_sent"`
	TopActors             []repositories.ActorCount `json:"top_actors"`
}

// Statistics is derived entirely from the stored rows on each call. There
// is no cached counter to drift from the source of truth.
func (l *Logger) Statistics(brandID string, from, to int64) (*Statistics, error) {
	if brandID == "" {
		return nil, ErrBrandRequired
	}
	filter := repositories.AuditFilter{BrandID: brandID, From: from, To: to}

	byAction, err := l.repo.CountByAction(filter)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, n := range byAction {
		total += n
	}

	stats := &Statistics{
		TotalActions:  total,
		ByAction:      byAction,
		BulkApprovals: byAction[models.ActionBulkApproved],
		EmailsSent:    byAction[models.ActionEmailSent],
	}

	approved := byAction[models.ActionApproved]
	rejected := byAction[models.ActionRejected]
	if approved+rejected > 0 {
		stats.RejectionRate = float64(rejected) / float64(approved+rejected)
	}

	durations, err := l.repo.ApprovalDurations(filter)
	if err != nil {
		return nil, err
	}
	if len(durations) > 0 {
		var sum int64
		for _, d := range durations {
			sum += d
		}
		stats.AverageApprovalTimeMs = sum * 1000 / int64(len(durations))
	}

	stats.TopActors, err = l.repo.TopActors(filter, 5)
	if err != nil {
		return nil, err
	}

	return stats, nil
}

// Export writes the brand's audit trail for a date range as CSV for
// compliance hand-off.
func (l *Logger) Export(w io.Writer, brandID string, from, to int64) error {
	if brandID == "" {
		return ErrBrandRequired
	}

	logs, err := l.repo.Query(repositories.AuditFilter{BrandID: brandID, From: from, To: to})
	if err != nil {
		return err
	}

	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write([]string{
		"id", "brand_id", "post_id", "actor_id", "actor_email",
		"action", "metadata", "ip_address", "user_agent", "created_at",
	}); err != nil {
		return err
	}

	for _, entry := range logs {
		meta := ""
		if entry.Metadata != nil {
			b, _ := json.Marshal(entry.Metadata)
			meta = string(b)
		}
		if err := writer.Write([]string{
			entry.ID, entry.BrandID, entry.PostID, entry.ActorID, entry.ActorEmail,
			entry.Action, meta, entry.IPAddress, entry.UserAgent,
			time.Unix(entry.CreatedAt, 0).UTC().Format(time.RFC3339),
		}); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// Purge deletes rows older than the cutoff. It is the only deletion path
// and is itself audited.
func (l *Logger) Purge(olderThanDays int, actor Entry) (int64, error) {
	if olderThanDays <= 0 {
		return 0, errors.New("audit: retention window must be positive")
	}

	cutoff := l.now().AddDate(0, 0, -olderThanDays).Unix()
	count, err := l.repo.Purge(cutoff)
	if err != nil {
		return 0, err
	}

	actor.Action = models.ActionAuditPurged
	actor.Metadata = map[string]interface{}{
		"older_than_days": strconv.Itoa(olderThanDays),
		"rows_removed":    count,
	}
	if _, err := l.Record(actor); err != nil {
		return count, err
	}
	return count, nil
}
