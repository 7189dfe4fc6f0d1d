package webhooks

import (
	"math"
	"time"

	"relayr/internal/platform/config"
)

// RetryPolicy bounds delay growth between delivery attempts.
type RetryPolicy struct {
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	MaxAttempts int
}

func DefaultPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:   2 * time.Second,
		Multiplier:  2.0,
		MaxDelay:    5 * time.Minute,
		MaxAttempts: 5,
	}
}

func PolicyFromConfig(cfg config.WebhooksConfig) RetryPolicy {
	policy := DefaultPolicy()
	if cfg.BaseDelayMs > 0 {
		policy.BaseDelay = cfg.BaseDelay()
	}
	if cfg.MaxDelayMs > 0 {
		policy.MaxDelay = cfg.MaxDelay()
	}
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BackoffMultiplier > 0 {
		policy.Multiplier = cfg.BackoffMultiplier
	}
	return policy
}

// Delay maps an attempt number to the wait before that attempt is retried:
// min(base * multiplier^(n-1), max). Attempt 1 yields exactly BaseDelay.
// Pure and bounded for any attempt number, including ones far past
// MaxAttempts.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if math.IsNaN(d) || d < 0 || d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}
