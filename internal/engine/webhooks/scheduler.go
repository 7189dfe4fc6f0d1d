package webhooks

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"relayr/internal/platform/models"
	"relayr/internal/platform/repositories"
)

// RetryScheduler is the background loop that re-delivers due events. One
// instance runs per process; each tick fetches the due batch once and fans
// it out to bounded workers.
type RetryScheduler struct {
	dispatcher    *Dispatcher
	repo          *repositories.WebhookRepository
	interval      time.Duration
	maxConcurrent int
	batchSize     int
	now           func() time.Time

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	inFlight map[string]bool

	lastPassAt         time.Time
	lastPassDuration   time.Duration
	lastPassDispatched int
}

func NewRetryScheduler(dispatcher *Dispatcher, repo *repositories.WebhookRepository, interval time.Duration, maxConcurrent, batchSize int) *RetryScheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &RetryScheduler{
		dispatcher:    dispatcher,
		repo:          repo,
		interval:      interval,
		maxConcurrent: maxConcurrent,
		batchSize:     batchSize,
		now:           time.Now,
		inFlight:      make(map[string]bool),
	}
}

// Start is a no-op with a warning when the scheduler is already running.
func (s *RetryScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		log.Warn().Msg("webhook retry scheduler already running")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.loop(ctx)
	log.Info().Dur("interval", s.interval).Msg("webhook retry scheduler started")
}

// Stop lets an in-flight pass finish before halting further ticks.
func (s *RetryScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		log.Warn().Msg("webhook retry scheduler not running")
		return
	}
	cancel := s.cancel
	done := s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	<-done
	log.Info().Msg("webhook retry scheduler stopped")
}

type SchedulerStatus struct {
	Running            bool          `json:"running"`
	LastPassAt         *time.Time    `json:"last_pass_at,omitempty"`
	LastPassDuration   time.Duration `json:"last_pass_duration_ms"`
	LastPassDispatched int           `json:"last_pass_dispatched"`
}

func (s *RetryScheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := SchedulerStatus{
		Running:            s.running,
		LastPassDuration:   s.lastPassDuration / time.Millisecond,
		LastPassDispatched: s.lastPassDispatched,
	}
	if !s.lastPassAt.IsZero() {
		at := s.lastPassAt
		status.LastPassAt = &at
	}
	return status
}

func (s *RetryScheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
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

// RunPass executes one scan-and-dispatch cycle. Exposed so tests and the
// scheduler control API can drive a pass deterministically.
func (s *RetryScheduler) RunPass() {
	start := s.now()

	events, err := s.repo.GetDue(start.Unix(), s.batchSize)
	if err != nil {
		log.Error().Err(err).Msg("webhook due-event scan failed")
		return
	}

	sem := make(chan struct{}, s.maxConcurrent)
	var wg sync.WaitGroup
	dispatched := 0

	for _, event := range events {
		if !s.dispatcher.ShouldRetry(event) {
			continue
		}
		if !s.claim(event.ID) {
			// Attempt N is still in flight; attempt N+1 must wait for it.
			continue
		}
		dispatched++

		wg.Add(1)
		sem <- struct{}{}
		go func(event *models.WebhookEvent) {
			defer wg.Done()
			defer func() { <-sem }()
			defer s.release(event.ID)

			// A failed event is its own failure domain; the rest of
			// the batch proceeds regardless.
			if err := s.dispatcher.AttemptDelivery(event); err != nil {
				log.Warn().Err(err).
					Str("event_id", event.ID).
					Str("provider", event.Provider).
					Int("attempt", event.AttemptCount).
					Msg("webhook delivery attempt failed")
			}
		}(event)
	}

	wg.Wait()

	s.mu.Lock()
	s.lastPassAt = start
	s.lastPassDuration = time.Since(start)
	s.lastPassDispatched = dispatched
	s.mu.Unlock()
}

func (s *RetryScheduler) claim(eventID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[eventID] {
		return false
	}
	s.inFlight[eventID] = true
	return true
}

func (s *RetryScheduler) release(eventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, eventID)
}
