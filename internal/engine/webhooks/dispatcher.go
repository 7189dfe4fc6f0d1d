package webhooks

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"relayr/internal/engine/audit"
	"relayr/internal/platform/models"
	"relayr/internal/platform/repositories"
)

var (
	ErrUnknownProvider = errors.New("webhooks: unknown provider")
	ErrMissingTarget   = errors.New("webhooks: target url is required")
	ErrEmptyPayload    = errors.New("webhooks: payload is required")
	ErrTerminalEvent   = errors.New("webhooks: event is in a terminal state")
)

// Dispatcher orchestrates delivery attempts: it signs the outbound payload,
// calls the remote endpoint, classifies the response and records the
// event/attempt state transition.
type Dispatcher struct {
	repo    *repositories.WebhookRepository
	auditor *audit.Logger
	policy  RetryPolicy
	secrets map[string]string
	client  *http.Client
	now     func() time.Time
}

func NewDispatcher(repo *repositories.WebhookRepository, auditor *audit.Logger, policy RetryPolicy, secrets map[string]string, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		repo:    repo,
		auditor: auditor,
		policy:  policy,
		secrets: secrets,
		client:  &http.Client{Timeout: timeout},
		now:     time.Now,
	}
}

type SubmitRequest struct {
	Provider       string          `json:"provider"`
	BrandID        string          `json:"brand_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	TargetURL      string          `json:"target_url"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Deliver        bool            `json:"deliver,omitempty"`
}

// Submit registers one logical outbound notification. A resubmission with
// the same (provider, brand, idempotency key) resolves to the existing
// event and never creates a second row; created reports which case this is.
func (d *Dispatcher) Submit(req SubmitRequest) (event *models.WebhookEvent, created bool, err error) {
	if !KnownProvider(req.Provider) {
		return nil, false, ErrUnknownProvider
	}
	if req.TargetURL == "" {
		return nil, false, ErrMissingTarget
	}
	if len(req.Payload) == 0 {
		return nil, false, ErrEmptyPayload
	}

	key := req.IdempotencyKey
	if key == "" {
		key = DeriveIdempotencyKey(req.Provider, req.BrandID, req.EventType, req.Payload)
	}

	existing, err := d.repo.FindByIdempotencyKey(req.Provider, req.BrandID, key)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	nextAttempt := d.now().Unix()
	event = &models.WebhookEvent{
		Provider:       req.Provider,
		BrandID:        req.BrandID,
		EventType:      req.EventType,
		Payload:        req.Payload,
		IdempotencyKey: key,
		TargetURL:      req.TargetURL,
		Status:         models.WebhookStatusPending,
		MaxAttempts:    d.policy.MaxAttempts,
		NextAttemptAt:  &nextAttempt,
	}

	if err := d.repo.Create(event); err != nil {
		// A concurrent submission may have won the unique constraint race.
		existing, lookupErr := d.repo.FindByIdempotencyKey(req.Provider, req.BrandID, key)
		if lookupErr == nil && existing != nil {
			return existing, false, nil
		}
		return nil, false, err
	}

	if req.Deliver {
		if err := d.AttemptDelivery(event); err != nil {
			log.Warn().Err(err).Str("event_id", event.ID).Msg("synchronous first delivery failed")
		}
	}

	return event, true, nil
}

// DeriveIdempotencyKey builds the deterministic key for a submission that
// did not supply one.
func DeriveIdempotencyKey(provider, brandID, eventType string, payload []byte) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|", provider, brandID, eventType)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// ShouldRetry is the single retry predicate, shared with the scheduler so
// policy lives in exactly one place.
func (d *Dispatcher) ShouldRetry(event *models.WebhookEvent) bool {
	if event.Terminal() {
		return false
	}
	return event.AttemptCount < event.MaxAttempts
}

// AttemptDelivery performs one delivery try and persists its outcome. The
// returned error reflects the delivery result; terminal-state persistence
// and audit failures also surface here.
func (d *Dispatcher) AttemptDelivery(event *models.WebhookEvent) error {
	if event.Terminal() {
		return ErrTerminalEvent
	}

	attemptNumber := event.AttemptCount + 1
	statusCode, duration, deliveryErr := d.send(event)

	attempt := &models.WebhookAttempt{
		EventID:       event.ID,
		AttemptNumber: attemptNumber,
		StatusCode:    statusCode,
		DurationMs:    duration.Milliseconds(),
	}
	if deliveryErr != nil {
		attempt.Error = deliveryErr.Error()
	}
	if err := d.repo.AppendAttempt(attempt); err != nil {
		log.Error().Err(err).Str("event_id", event.ID).Msg("failed to record delivery attempt")
	}

	switch {
	case deliveryErr == nil:
		if err := d.repo.MarkDelivered(event.ID); err != nil {
			return err
		}
		event.Status = models.WebhookStatusDelivered
		event.AttemptCount = attemptNumber
		event.NextAttemptAt = nil
		_, err := d.auditor.Record(audit.Entry{
			BrandID:    event.BrandID,
			ActorID:    "system",
			ActorEmail: "system@relayr",
			Action:     models.ActionWebhookDelivered,
			Metadata: map[string]interface{}{
				"event_id":   event.ID,
				"provider":   event.Provider,
				"event_type": event.EventType,
				"attempts":   attemptNumber,
			},
		})
		return err

	case statusCode >= 400 && statusCode < 500:
		// Client errors are not retryable; burn the event immediately.
		return d.deadLetter(event, attemptNumber, deliveryErr)

	default:
		// Network failure, timeout or 5xx: retryable.
		if attemptNumber >= event.MaxAttempts {
			if err := d.deadLetter(event, attemptNumber, deliveryErr); err != nil {
				return err
			}
			return deliveryErr
		}

		next := d.now().Add(d.policy.Delay(attemptNumber)).Unix()
		if err := d.repo.RecordFailure(event.ID, attemptNumber, &next, models.WebhookStatusFailed, deliveryErr.Error()); err != nil {
			return err
		}
		event.Status = models.WebhookStatusFailed
		event.AttemptCount = attemptNumber
		event.NextAttemptAt = &next
		return deliveryErr
	}
}

func (d *Dispatcher) deadLetter(event *models.WebhookEvent, attemptNumber int, cause error) error {
	if err := d.repo.RecordFailure(event.ID, attemptNumber, nil, models.WebhookStatusDeadLetter, cause.Error()); err != nil {
		return err
	}
	event.Status = models.WebhookStatusDeadLetter
	event.AttemptCount = attemptNumber
	event.NextAttemptAt = nil

	if _, err := d.auditor.Record(audit.Entry{
		BrandID:    event.BrandID,
		ActorID:    "system",
		ActorEmail: "system@relayr",
		Action:     models.ActionWebhookDeadLettered,
		Metadata: map[string]interface{}{
			"event_id":   event.ID,
			"provider":   event.Provider,
			"event_type": event.EventType,
			"attempts":   attemptNumber,
			"last_error": cause.Error(),
		},
	}); err != nil {
		return err
	}
	return cause
}

// send executes the signed HTTP call and classifies the response. A non-2xx
// status is returned as an error along with the status code.
func (d *Dispatcher) send(event *models.WebhookEvent) (int, time.Duration, error) {
	signature, ok := Sign(event.Provider, d.secrets[event.Provider], event.Payload)
	if !ok {
		return 0, 0, ErrUnknownProvider
	}
	header, _ := SignatureHeader(event.Provider)

	req, err := http.NewRequest(http.MethodPost, event.TargetURL, bytes.NewReader(event.Payload))
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(header, signature)
	req.Header.Set("X-Relayr-Event", event.EventType)
	req.Header.Set("X-Relayr-Delivery", event.ID)
	req.Header.Set("X-Relayr-Idempotency-Key", event.IdempotencyKey)

	start := d.now()
	resp, err := d.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		return 0, duration, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.StatusCode, duration, nil
	}
	return resp.StatusCode, duration, fmt.Errorf("HTTP %d", resp.StatusCode)
}

// Replay re-queues a dead-lettered event with a fresh attempt budget. It is
// the manual operator path out of the dead-letter state.
func (d *Dispatcher) Replay(eventID string, actor audit.Entry) (*models.WebhookEvent, error) {
	reset, err := d.repo.ResetForReplay(eventID, d.now().Unix())
	if err != nil {
		return nil, err
	}
	if !reset {
		return nil, fmt.Errorf("webhooks: event %s is not dead-lettered", eventID)
	}

	event, err := d.repo.GetByID(eventID)
	if err != nil {
		return nil, err
	}

	actor.BrandID = event.BrandID
	actor.Action = models.ActionWebhookReplayed
	actor.Metadata = map[string]interface{}{
		"event_id": event.ID,
		"provider": event.Provider,
	}
	if _, err := d.auditor.Record(actor); err != nil {
		return nil, err
	}
	return event, nil
}
