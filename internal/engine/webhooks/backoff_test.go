package webhooks

import (
	"testing"
	"time"

	"relayr/internal/platform/config"
)

func TestDelayGrowth(t *testing.T) {
	policy := DefaultPolicy()

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 32 * time.Second},
	}

	for _, tc := range cases {
		if got := policy.Delay(tc.attempt); got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestDelayCapped(t *testing.T) {
	policy := DefaultPolicy()

	// 2s * 2^9 = ~17m, past the 5m ceiling.
	if got := policy.Delay(10); got != policy.MaxDelay {
		t.Errorf("Delay(10) = %v, want cap %v", got, policy.MaxDelay)
	}

	// Attempt numbers large enough to overflow float math still land on the cap.
	for _, attempt := range []int{100, 1000, 1 << 30} {
		if got := policy.Delay(attempt); got != policy.MaxDelay {
			t.Errorf("Delay(%d) = %v, want cap %v", attempt, got, policy.MaxDelay)
		}
	}
}

func TestDelayClampsLowAttempts(t *testing.T) {
	policy := DefaultPolicy()

	for _, attempt := range []int{0, -1, -50} {
		if got := policy.Delay(attempt); got != policy.BaseDelay {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, policy.BaseDelay)
		}
	}
}

func TestPolicyFromConfig(t *testing.T) {
	policy := PolicyFromConfig(config.WebhooksConfig{
		BaseDelayMs:       500,
		MaxDelayMs:        60000,
		MaxAttempts:       3,
		BackoffMultiplier: 3.0,
	})

	if policy.BaseDelay != 500*time.Millisecond {
		t.Errorf("BaseDelay = %v", policy.BaseDelay)
	}
	if policy.MaxDelay != time.Minute {
		t.Errorf("MaxDelay = %v", policy.MaxDelay)
	}
	if policy.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d", policy.MaxAttempts)
	}
	if got := policy.Delay(2); got != 1500*time.Millisecond {
		t.Errorf("Delay(2) = %v, want 1.5s", got)
	}

	// Zero values fall back to the defaults rather than producing a
	// degenerate policy.
	policy = PolicyFromConfig(config.WebhooksConfig{})
	if policy != DefaultPolicy() {
		t.Errorf("zero config = %+v, want defaults", policy)
	}
}
