package escalations

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"relayr/internal/engine/audit"
	"relayr/internal/engine/webhooks"
	"relayr/internal/platform/models"
	"relayr/internal/platform/repositories"
)

// WebhookSubmitter is the slice of the webhook dispatcher the scheduler
// needs: escalation notifications enter the same delivery pipeline as every
// other outbound event.
type WebhookSubmitter interface {
	Submit(req webhooks.SubmitRequest) (*models.WebhookEvent, bool, error)
}

type Mailer interface {
	SendEscalation(to string, approval *models.PostApproval, level string) error
}

type Config struct {
	Enabled       bool
	PollInterval  time.Duration
	MaxAge        time.Duration
	MaxConcurrent int
	BatchSize     int
}

// Scheduler is the background loop that fires due escalation events. The
// pending → triggered transition in the store is the sole gate for
// dispatch, which is what makes firing effectively exactly-once even when
// a run is interrupted and resumed.
type Scheduler struct {
	repo      *repositories.EscalationRepository
	approvals *repositories.ApprovalRepository
	submitter WebhookSubmitter
	mailer    Mailer
	prefs     PreferenceSource
	auditor   *audit.Logger
	cfg       Config
	now       func() time.Time

	mu               sync.Mutex
	running          bool
	cancel           context.CancelFunc
	done             chan struct{}
	lastPassAt       time.Time
	lastPassDuration time.Duration
	lastPassFired    int
}

func NewScheduler(repo *repositories.EscalationRepository, approvals *repositories.ApprovalRepository, submitter WebhookSubmitter, mailer Mailer, prefs PreferenceSource, auditor *audit.Logger, cfg Config) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 7 * 24 * time.Hour
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Scheduler{
		repo:      repo,
		approvals: approvals,
		submitter: submitter,
		mailer:    mailer,
		prefs:     prefs,
		auditor:   auditor,
		cfg:       cfg,
		now:       time.Now,
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled {
		log.Info().Msg("escalation scheduler disabled by configuration")
		return
	}
	if s.running {
		log.Warn().Msg("escalation scheduler already running")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.loop(ctx)
	log.Info().Dur("interval", s.cfg.PollInterval).Msg("escalation scheduler started")
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		log.Warn().Msg("escalation scheduler not running")
		return
	}
	cancel := s.cancel
	done := s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	<-done
	log.Info().Msg("escalation scheduler stopped")
}

func (s *Scheduler) Status() webhooks.SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := webhooks.SchedulerStatus{
		Running:            s.running,
		LastPassDuration:   s.lastPassDuration / time.Millisecond,
		LastPassDispatched: s.lastPassFired,
	}
	if !s.lastPassAt.IsZero() {
		at := s.lastPassAt
		status.LastPassAt = &at
	}
	return status
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.RunPass()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunPass()
		}
	}
}

// RunPass evaluates every due pending event once. Per-event failures are
// isolated; one bad escalation never aborts the batch.
func (s *Scheduler) RunPass() {
	start := s.now()
	horizonStart := start.Add(-s.cfg.MaxAge).Unix()

	events, err := s.repo.GetDue(start.Unix(), horizonStart, s.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("escalation due-event scan failed")
		return
	}

	sem := make(chan struct{}, s.cfg.MaxConcurrent)
	var wg sync.WaitGroup
	fired := 0
	var firedMu sync.Mutex

	for _, event := range events {
		wg.Add(1)
		sem <- struct{}{}
		go func(event *models.EscalationEvent) {
			defer wg.Done()
			defer func() { <-sem }()
			if s.evaluate(event) {
				firedMu.Lock()
				fired++
				firedMu.Unlock()
			}
		}(event)
	}

	wg.Wait()

	s.mu.Lock()
	s.lastPassAt = start
	s.lastPassDuration = time.Since(start)
	s.lastPassFired = fired
	s.mu.Unlock()
}

// evaluate decides one due event: cancel if its approval already resolved,
// otherwise claim the pending → triggered transition and notify. Returns
// true when a notification was dispatched.
func (s *Scheduler) evaluate(event *models.EscalationEvent) bool {
	approval, err := s.approvals.GetByID(event.ApprovalID)
	if err == sql.ErrNoRows {
		// Orphaned event; nothing to escalate.
		if _, err := s.repo.MarkCancelled(event.ID); err != nil {
			log.Error().Err(err).Str("escalation_id", event.ID).Msg("failed to cancel orphaned escalation")
		}
		return false
	}
	if err != nil {
		log.Error().Err(err).Str("escalation_id", event.ID).Msg("approval lookup failed")
		return false
	}

	if approval.Resolved() {
		cancelled, err := s.repo.MarkCancelled(event.ID)
		if err != nil {
			log.Error().Err(err).Str("escalation_id", event.ID).Msg("failed to cancel escalation")
			return false
		}
		if cancelled {
			if _, err := s.auditor.Record(audit.Entry{
				BrandID:    event.BrandID,
				PostID:     approval.PostID,
				ActorID:    "system",
				ActorEmail: "system@relayr",
				Action:     models.ActionEscalationCancelled,
				Metadata: map[string]interface{}{
					"escalation_id": event.ID,
					"approval_id":   approval.ID,
					"level":         event.Level,
					"resolution":    approval.Status,
				},
			}); err != nil {
				log.Error().Err(err).Str("escalation_id", event.ID).Msg("audit write failed for cancellation")
			}
		}
		return false
	}

	triggered, err := s.repo.MarkTriggered(event.ID, s.now().Unix())
	if err != nil {
		log.Error().Err(err).Str("escalation_id", event.ID).Msg("failed to mark escalation triggered")
		return false
	}
	if !triggered {
		// Another pass already claimed this event.
		return false
	}

	s.notify(event, approval)
	return true
}

func (s *Scheduler) notify(event *models.EscalationEvent, approval *models.PostApproval) {
	prefs, err := s.prefs.Get(event.BrandID)
	if err != nil {
		// A missing settings record must never suppress a legitimately
		// due escalation: default to send.
		log.Warn().Err(err).Str("brand_id", event.BrandID).Msg("notification preference lookup failed, defaulting to send")
		prefs = &BrandPrefs{}
	}
	if prefs.Muted {
		log.Info().Str("brand_id", event.BrandID).Str("escalation_id", event.ID).Msg("brand muted, skipping notification")
		return
	}

	channels := s.channelsFor(event)

	for _, channel := range channels {
		switch channel {
		case "webhook":
			s.notifyWebhook(event, approval, prefs)
		case "email":
			s.notifyEmail(event, approval, prefs)
		}
	}

	action := models.ActionEscalationTriggered
	if IsReminder(event.Level) {
		action = models.ActionReminderSent
	}
	if _, err := s.auditor.Record(audit.Entry{
		BrandID:    event.BrandID,
		PostID:     approval.PostID,
		ActorID:    "system",
		ActorEmail: "system@relayr",
		Action:     action,
		Metadata: map[string]interface{}{
			"escalation_id": event.ID,
			"approval_id":   approval.ID,
			"level":         event.Level,
			"channels":      channels,
		},
	}); err != nil {
		log.Error().Err(err).Str("escalation_id", event.ID).Msg("audit write failed for escalation")
	}
}

// channelsFor reads the notify channels from the brand rule matching the
// event's level, defaulting to both channels when no rule survives.
func (s *Scheduler) channelsFor(event *models.EscalationEvent) []string {
	rules, err := s.repo.ListRulesByBrand(event.BrandID, true)
	if err != nil {
		log.Warn().Err(err).Str("brand_id", event.BrandID).Msg("rule lookup failed, defaulting channels")
		return []string{"email", "webhook"}
	}
	for _, rule := range rules {
		if rule.Level == event.Level && len(rule.NotifyChannels) > 0 {
			return rule.NotifyChannels
		}
	}
	return []string{"email", "webhook"}
}

func (s *Scheduler) notifyWebhook(event *models.EscalationEvent, approval *models.PostApproval, prefs *BrandPrefs) {
	if prefs.WebhookURL == "" {
		log.Warn().Str("brand_id", event.BrandID).Msg("no webhook url configured for brand, skipping webhook channel")
		return
	}
	provider := prefs.Provider
	if provider == "" {
		provider = webhooks.ProviderZapier
	}

	eventType := "approval.escalated"
	if IsReminder(event.Level) {
		eventType = "approval.reminder"
	}

	payload, err := json.Marshal(map[string]interface{}{
		"escalation_id": event.ID,
		"approval_id":   approval.ID,
		"post_id":       approval.PostID,
		"brand_id":      approval.BrandID,
		"level":         event.Level,
		"title":         approval.Title,
		"requested_by":  approval.RequestedBy,
		"pending_since": time.Unix(approval.CreatedAt, 0).UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Error().Err(err).Str("escalation_id", event.ID).Msg("failed to build escalation payload")
		return
	}

	if _, _, err := s.submitter.Submit(webhooks.SubmitRequest{
		Provider:       provider,
		BrandID:        event.BrandID,
		EventType:      eventType,
		Payload:        payload,
		TargetURL:      prefs.WebhookURL,
		IdempotencyKey: "escalation:" + event.ID,
	}); err != nil {
		log.Error().Err(err).Str("escalation_id", event.ID).Msg("failed to submit escalation webhook")
	}
}

func (s *Scheduler) notifyEmail(event *models.EscalationEvent, approval *models.PostApproval, prefs *BrandPrefs) {
	if s.mailer == nil || prefs.NotifyEmail == "" {
		log.Warn().Str("brand_id", event.BrandID).Msg("no escalation contact email, skipping email channel")
		return
	}

	if err := s.mailer.SendEscalation(prefs.NotifyEmail, approval, event.Level); err != nil {
		log.Error().Err(err).Str("escalation_id", event.ID).Msg("escalation email failed")
		return
	}

	if _, err := s.auditor.Record(audit.Entry{
		BrandID:    event.BrandID,
		PostID:     approval.PostID,
		ActorID:    "system",
		ActorEmail: "system@relayr",
		Action:     models.ActionEmailSent,
		Metadata: map[string]interface{}{
			"escalation_id": event.ID,
			"recipient":     prefs.NotifyEmail,
			"level":         event.Level,
		},
	}); err != nil {
		log.Error().Err(err).Str("escalation_id", event.ID).Msg("audit write failed for email")
	}
}
