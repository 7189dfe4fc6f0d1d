package audit

import (
	"bytes"
	"database/sql"
	"encoding/csv"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"relayr/internal/platform/database"
	"relayr/internal/platform/models"
	"relayr/internal/platform/repositories"
)

func newTestLogger(t *testing.T) (*Logger, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewLogger(repositories.NewAuditRepository(db)), db
}

func record(t *testing.T, l *Logger, entry Entry) *models.AuditLog {
	t.Helper()
	row, err := l.Record(entry)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	return row
}

func TestRecordValidation(t *testing.T) {
	l, _ := newTestLogger(t)

	if _, err := l.Record(Entry{Action: models.ActionApproved}); err != ErrBrandRequired {
		t.Errorf("missing brand: got %v", err)
	}
	if _, err := l.Record(Entry{BrandID: "brd_1"}); err != ErrActionRequired {
		t.Errorf("missing action: got %v", err)
	}

	row := record(t, l, Entry{
		BrandID:    "brd_1",
		PostID:     "post_1",
		ActorID:    "usr_1",
		ActorEmail: "reviewer@example.com",
		Action:     models.ActionApproved,
		Metadata:   map[string]interface{}{"note": "looks good"},
	})
	if row.ID == "" || row.CreatedAt == 0 {
		t.Errorf("row not fully populated: %+v", row)
	}
}

func TestQueryScopedToBrand(t *testing.T) {
	l, _ := newTestLogger(t)

	record(t, l, Entry{BrandID: "brd_1", ActorID: "usr_1", ActorEmail: "a@example.com", Action: models.ActionSubmitted})
	record(t, l, Entry{BrandID: "brd_1", ActorID: "usr_2", ActorEmail: "b@example.com", Action: models.ActionApproved})
	record(t, l, Entry{BrandID: "brd_2", ActorID: "usr_3", ActorEmail: "c@example.com", Action: models.ActionApproved})

	result, err := l.Query(repositories.AuditFilter{BrandID: "brd_1"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Total != 2 || len(result.Logs) != 2 {
		t.Errorf("brd_1 rows = %d (total %d), want 2", len(result.Logs), result.Total)
	}
	for _, row := range result.Logs {
		if row.BrandID != "brd_1" {
			t.Errorf("foreign brand row leaked: %+v", row)
		}
	}

	// Action narrowing.
	result, err = l.Query(repositories.AuditFilter{BrandID: "brd_1", Action: models.ActionApproved})
	if err != nil {
		t.Fatal(err)
	}
	if result.Total != 1 {
		t.Errorf("approved rows = %d, want 1", result.Total)
	}

	if _, err := l.Query(repositories.AuditFilter{}); err != ErrBrandRequired {
		t.Errorf("unscoped query: got %v", err)
	}
}

func TestQueryPagination(t *testing.T) {
	l, _ := newTestLogger(t)

	for i := 0; i < 5; i++ {
		record(t, l, Entry{BrandID: "brd_1", ActorID: "usr_1", ActorEmail: "a@example.com", Action: models.ActionSubmitted})
	}

	result, err := l.Query(repositories.AuditFilter{BrandID: "brd_1", Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Logs) != 2 || result.Total != 5 || !result.HasMore {
		t.Errorf("page 1: logs=%d total=%d hasMore=%v", len(result.Logs), result.Total, result.HasMore)
	}

	result, err = l.Query(repositories.AuditFilter{BrandID: "brd_1", Limit: 2, Offset: 4})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Logs) != 1 || result.HasMore {
		t.Errorf("last page: logs=%d hasMore=%v", len(result.Logs), result.HasMore)
	}
}

func TestStatistics(t *testing.T) {
	l, _ := newTestLogger(t)
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	// Two approvals resolved 1h and 3h after submission, one rejection.
	for _, step := range []struct {
		post   string
		action string
		at     time.Time
	}{
		{"post_1", models.ActionSubmitted, base},
		{"post_1", models.ActionApproved, base.Add(time.Hour)},
		{"post_2", models.ActionSubmitted, base},
		{"post_2", models.ActionApproved, base.Add(3 * time.Hour)},
		{"post_3", models.ActionSubmitted, base},
		{"post_3", models.ActionRejected, base.Add(30 * time.Minute)},
	} {
		l.now = func() time.Time { return step.at }
		record(t, l, Entry{
			BrandID:    "brd_1",
			PostID:     step.post,
			ActorID:    "usr_1",
			ActorEmail: "reviewer@example.com",
			Action:     step.action,
		})
	}
	record(t, l, Entry{BrandID: "brd_1", ActorID: "usr_2", ActorEmail: "system@relayr", Action: models.ActionEmailSent})

	stats, err := l.Statistics("brd_1", 0, 0)
	if err != nil {
		t.Fatal(err)
	}

	if stats.TotalActions != 7 {
		t.Errorf("total actions = %d, want 7", stats.TotalActions)
	}
	if stats.ByAction[models.ActionApproved] != 2 {
		t.Errorf("approved = %d, want 2", stats.ByAction[models.ActionApproved])
	}
	// 1 rejected of 3 resolved.
	if stats.RejectionRate < 0.33 || stats.RejectionRate > 0.34 {
		t.Errorf("rejection rate = %f, want 1/3", stats.RejectionRate)
	}
	// Mean of 1h and 3h.
	if stats.AverageApprovalTimeMs != (2 * time.Hour).Milliseconds() {
		t.Errorf("average approval time = %dms, want 2h", stats.AverageApprovalTimeMs)
	}
	if stats.EmailsSent != 1 {
		t.Errorf("emails sent = %d, want 1", stats.EmailsSent)
	}
	if len(stats.TopActors) == 0 || stats.TopActors[0].ActorEmail != "reviewer@example.com" {
		t.Errorf("top actors = %+v", stats.TopActors)
	}
}

func TestExportCSV(t *testing.T) {
	l, _ := newTestLogger(t)

	record(t, l, Entry{
		BrandID:    "brd_1",
		PostID:     "post_1",
		ActorID:    "usr_1",
		ActorEmail: "reviewer@example.com",
		Action:     models.ActionApproved,
		Metadata:   map[string]interface{}{"note": "ok"},
	})
	record(t, l, Entry{BrandID: "brd_2", ActorID: "usr_2", ActorEmail: "other@example.com", Action: models.ActionApproved})

	var buf bytes.Buffer
	if err := l.Export(&buf, "brd_1", 0, 0); err != nil {
		t.Fatal(err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("csv rows = %d, want header + 1", len(rows))
	}
	if rows[0][0] != "id" || rows[0][5] != "action" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][1] != "brd_1" || rows[1][5] != models.ActionApproved {
		t.Errorf("data row = %v", rows[1])
	}
	if _, err := time.Parse(time.RFC3339, rows[1][9]); err != nil {
		t.Errorf("created_at %q is not RFC3339: %v", rows[1][9], err)
	}
}

func TestPurge(t *testing.T) {
	l, db := newTestLogger(t)

	old := time.Now().AddDate(0, 0, -400)
	l.now = func() time.Time { return old }
	record(t, l, Entry{BrandID: "brd_1", ActorID: "usr_1", ActorEmail: "a@example.com", Action: models.ActionSubmitted})
	record(t, l, Entry{BrandID: "brd_1", ActorID: "usr_1", ActorEmail: "a@example.com", Action: models.ActionApproved})

	l.now = time.Now
	record(t, l, Entry{BrandID: "brd_1", ActorID: "usr_1", ActorEmail: "a@example.com", Action: models.ActionSubmitted})

	removed, err := l.Purge(365, Entry{BrandID: "brd_1", ActorID: "usr_ops", ActorEmail: "ops@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM audit_logs WHERE action = ?`, models.ActionAuditPurged).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Error("purge itself was not audited")
	}

	if _, err := l.Purge(0, Entry{BrandID: "brd_1"}); err == nil {
		t.Error("non-positive retention accepted")
	}
}
