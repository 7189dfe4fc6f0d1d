package escalations

import (
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"relayr/internal/engine/audit"
	"relayr/internal/engine/webhooks"
	"relayr/internal/platform/database"
	"relayr/internal/platform/models"
	"relayr/internal/platform/repositories"
)

func newTestDB(t *testing.T) *sql.DB {
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
	return db
}

type fakeSubmitter struct {
	mu   sync.Mutex
	reqs []webhooks.SubmitRequest
}

func (f *fakeSubmitter) Submit(req webhooks.SubmitRequest) (*models.WebhookEvent, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return &models.WebhookEvent{ID: "evt_fake"}, true, nil
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

type fakeMailer struct {
	mu        sync.Mutex
	recipient []string
}

func (f *fakeMailer) SendEscalation(to string, approval *models.PostApproval, level string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recipient = append(f.recipient, to)
	return nil
}

type fakePrefs struct {
	prefs *BrandPrefs
	err   error
}

func (f *fakePrefs) Get(brandID string) (*BrandPrefs, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.prefs, nil
}

type schedulerFixture struct {
	db        *sql.DB
	repo      *repositories.EscalationRepository
	approvals *repositories.ApprovalRepository
	submitter *fakeSubmitter
	mailer    *fakeMailer
	scheduler *Scheduler
}

func newFixture(t *testing.T, prefs PreferenceSource) *schedulerFixture {
	t.Helper()
	db := newTestDB(t)
	repo := repositories.NewEscalationRepository(db)
	approvals := repositories.NewApprovalRepository(db)
	auditor := audit.NewLogger(repositories.NewAuditRepository(db))
	submitter := &fakeSubmitter{}
	mailer := &fakeMailer{}

	scheduler := NewScheduler(repo, approvals, submitter, mailer, prefs, auditor, Config{
		Enabled:       true,
		PollInterval:  time.Hour,
		MaxAge:        7 * 24 * time.Hour,
		MaxConcurrent: 2,
		BatchSize:     50,
	})

	return &schedulerFixture{
		db:        db,
		repo:      repo,
		approvals: approvals,
		submitter: submitter,
		mailer:    mailer,
		scheduler: scheduler,
	}
}

func (f *schedulerFixture) pendingApproval(t *testing.T) *models.PostApproval {
	t.Helper()
	approval := &models.PostApproval{
		BrandID:     "brd_1",
		PostID:      "post_1",
		Title:       "Spring campaign",
		RequestedBy: "usr_1",
		CreatedAt:   time.Now().Add(-48 * time.Hour).Unix(),
	}
	if err := f.approvals.Create(approval); err != nil {
		t.Fatal(err)
	}
	return approval
}

func (f *schedulerFixture) dueEvent(t *testing.T, approvalID, level string) *models.EscalationEvent {
	t.Helper()
	event := &models.EscalationEvent{
		ApprovalID:  approvalID,
		BrandID:     "brd_1",
		Level:       level,
		ScheduledAt: time.Now().Add(-time.Minute).Unix(),
		Status:      models.EscalationStatusPending,
	}
	if err := f.repo.CreateEvent(event); err != nil {
		t.Fatal(err)
	}
	return event
}

func auditCount(t *testing.T, db *sql.DB, action string) int {
	t.Helper()
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM audit_logs WHERE action = ?`, action).Scan(&count); err != nil {
		t.Fatal(err)
	}
	return count
}

func TestRunPassFiresExactlyOnce(t *testing.T) {
	prefs := &fakePrefs{prefs: &BrandPrefs{
		NotifyEmail: "approvals@example.com",
		WebhookURL:  "https://hooks.example.com/x",
		Provider:    webhooks.ProviderZapier,
	}}
	f := newFixture(t, prefs)

	approval := f.pendingApproval(t)
	event := f.dueEvent(t, approval.ID, models.LevelEscalation48h)

	f.scheduler.RunPass()
	f.scheduler.RunPass()

	if got := f.submitter.count(); got != 1 {
		t.Errorf("webhook submissions = %d, want exactly 1", got)
	}
	if len(f.mailer.recipient) != 1 {
		t.Errorf("emails = %d, want exactly 1", len(f.mailer.recipient))
	}

	stored, err := f.repo.GetEvent(event.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != models.EscalationStatusTriggered {
		t.Errorf("status = %s, want triggered", stored.Status)
	}
	if stored.TriggeredAt == nil {
		t.Error("triggered event has no trigger timestamp")
	}

	if got := auditCount(t, f.db, models.ActionEscalationTriggered); got != 1 {
		t.Errorf("escalation audit rows = %d, want 1", got)
	}

	// The webhook rides the idempotent submit path keyed by the event.
	if key := f.submitter.reqs[0].IdempotencyKey; key != "escalation:"+event.ID {
		t.Errorf("idempotency key = %q", key)
	}
	if f.submitter.reqs[0].EventType != "approval.escalated" {
		t.Errorf("event type = %q", f.submitter.reqs[0].EventType)
	}
}

func TestRunPassReminderUsesReminderAction(t *testing.T) {
	prefs := &fakePrefs{prefs: &BrandPrefs{WebhookURL: "https://hooks.example.com/x"}}
	f := newFixture(t, prefs)

	approval := f.pendingApproval(t)
	f.dueEvent(t, approval.ID, models.LevelReminder24h)

	f.scheduler.RunPass()

	if got := auditCount(t, f.db, models.ActionReminderSent); got != 1 {
		t.Errorf("reminder audit rows = %d, want 1", got)
	}
	if f.submitter.reqs[0].EventType != "approval.reminder" {
		t.Errorf("event type = %q, want approval.reminder", f.submitter.reqs[0].EventType)
	}
}

func TestRunPassCancelsResolvedApproval(t *testing.T) {
	prefs := &fakePrefs{prefs: &BrandPrefs{WebhookURL: "https://hooks.example.com/x"}}
	f := newFixture(t, prefs)

	approval := f.pendingApproval(t)
	event := f.dueEvent(t, approval.ID, models.LevelEscalation48h)

	if _, err := f.approvals.Resolve(approval.ID, models.ApprovalStatusApproved, "usr_2"); err != nil {
		t.Fatal(err)
	}

	f.scheduler.RunPass()

	if f.submitter.count() != 0 {
		t.Error("escalation fired for a resolved approval")
	}

	stored, _ := f.repo.GetEvent(event.ID)
	if stored.Status != models.EscalationStatusCancelled {
		t.Errorf("status = %s, want cancelled", stored.Status)
	}
	if got := auditCount(t, f.db, models.ActionEscalationCancelled); got != 1 {
		t.Errorf("cancellation audit rows = %d, want 1", got)
	}
}

func TestRunPassCancelsOrphanedEvent(t *testing.T) {
	prefs := &fakePrefs{prefs: &BrandPrefs{WebhookURL: "https://hooks.example.com/x"}}
	f := newFixture(t, prefs)

	event := f.dueEvent(t, "apr_missing", models.LevelEscalation48h)

	f.scheduler.RunPass()

	if f.submitter.count() != 0 {
		t.Error("escalation fired without an approval")
	}
	stored, _ := f.repo.GetEvent(event.ID)
	if stored.Status != models.EscalationStatusCancelled {
		t.Errorf("status = %s, want cancelled", stored.Status)
	}
}

func TestRunPassPrefsLookupFailureStillTriggers(t *testing.T) {
	f := newFixture(t, &fakePrefs{err: errors.New("settings store unavailable")})

	approval := f.pendingApproval(t)
	event := f.dueEvent(t, approval.ID, models.LevelEscalation48h)

	f.scheduler.RunPass()

	// A failed preference read never suppresses the escalation itself:
	// the event triggers and the audit row lands even when no delivery
	// destination is known.
	stored, _ := f.repo.GetEvent(event.ID)
	if stored.Status != models.EscalationStatusTriggered {
		t.Errorf("status = %s, want triggered despite preference failure", stored.Status)
	}
	if got := auditCount(t, f.db, models.ActionEscalationTriggered); got != 1 {
		t.Errorf("escalation audit rows = %d, want 1", got)
	}
}

func TestRunPassMutedBrandSuppressesNotifications(t *testing.T) {
	prefs := &fakePrefs{prefs: &BrandPrefs{
		WebhookURL: "https://hooks.example.com/x",
		Muted:      true,
	}}
	f := newFixture(t, prefs)

	approval := f.pendingApproval(t)
	event := f.dueEvent(t, approval.ID, models.LevelEscalation48h)

	f.scheduler.RunPass()

	if f.submitter.count() != 0 {
		t.Error("muted brand still received a webhook")
	}
	if len(f.mailer.recipient) != 0 {
		t.Error("muted brand still received an email")
	}

	// The claim still happens so the event is not re-evaluated forever.
	stored, _ := f.repo.GetEvent(event.ID)
	if stored.Status != models.EscalationStatusTriggered {
		t.Errorf("status = %s, want triggered", stored.Status)
	}
}

func TestRunPassRespectsHorizon(t *testing.T) {
	prefs := &fakePrefs{prefs: &BrandPrefs{WebhookURL: "https://hooks.example.com/x"}}
	f := newFixture(t, prefs)

	approval := f.pendingApproval(t)
	stale := &models.EscalationEvent{
		ApprovalID:  approval.ID,
		BrandID:     "brd_1",
		Level:       models.LevelEscalation48h,
		ScheduledAt: time.Now().Add(-30 * 24 * time.Hour).Unix(),
		Status:      models.EscalationStatusPending,
	}
	if err := f.repo.CreateEvent(stale); err != nil {
		t.Fatal(err)
	}

	f.scheduler.RunPass()

	if f.submitter.count() != 0 {
		t.Error("an event past the scan horizon was dispatched")
	}
	stored, _ := f.repo.GetEvent(stale.ID)
	if stored.Status != models.EscalationStatusPending {
		t.Errorf("stale event status = %s, want untouched pending", stored.Status)
	}
}

func TestRunPassChannelsFollowMatchingRule(t *testing.T) {
	prefs := &fakePrefs{prefs: &BrandPrefs{
		NotifyEmail: "approvals@example.com",
		WebhookURL:  "https://hooks.example.com/x",
	}}
	f := newFixture(t, prefs)

	rule := &models.EscalationRule{
		BrandID:        "brd_1",
		Level:          models.LevelEscalation48h,
		NotifyChannels: []string{"email"},
		Enabled:        true,
	}
	if err := f.repo.CreateRule(rule); err != nil {
		t.Fatal(err)
	}

	approval := f.pendingApproval(t)
	f.dueEvent(t, approval.ID, models.LevelEscalation48h)

	f.scheduler.RunPass()

	if f.submitter.count() != 0 {
		t.Error("rule limits channels to email but a webhook went out")
	}
	if len(f.mailer.recipient) != 1 || f.mailer.recipient[0] != "approvals@example.com" {
		t.Errorf("email recipients = %v", f.mailer.recipient)
	}
}
