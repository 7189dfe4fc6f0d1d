package escalations

import (
	"testing"
	"time"

	"relayr/internal/platform/models"
)

func TestValidateRule(t *testing.T) {
	rule := &models.EscalationRule{
		BrandID:        "brd_1",
		Level:          models.LevelReminder24h,
		NotifyChannels: []string{"email"},
	}
	if problems := ValidateRule(rule); len(problems) != 0 {
		t.Errorf("valid rule rejected: %v", problems)
	}

	cases := []struct {
		name  string
		rule  models.EscalationRule
		field string
	}{
		{
			"missing brand",
			models.EscalationRule{Level: models.LevelReminder24h, NotifyChannels: []string{"email"}},
			"brand_id",
		},
		{
			"unknown level",
			models.EscalationRule{BrandID: "brd_1", Level: "reminder_12h", NotifyChannels: []string{"email"}},
			"level",
		},
		{
			"custom without threshold",
			models.EscalationRule{BrandID: "brd_1", Level: models.LevelCustom, NotifyChannels: []string{"email"}},
			"threshold_hours",
		},
		{
			"negative threshold",
			models.EscalationRule{BrandID: "brd_1", Level: models.LevelReminder24h, ThresholdHours: -1, NotifyChannels: []string{"email"}},
			"threshold_hours",
		},
		{
			"no channels",
			models.EscalationRule{BrandID: "brd_1", Level: models.LevelReminder24h},
			"notify_channels",
		},
		{
			"unknown channel",
			models.EscalationRule{BrandID: "brd_1", Level: models.LevelReminder24h, NotifyChannels: []string{"sms"}},
			"notify_channels",
		},
	}

	for _, tc := range cases {
		problems := ValidateRule(&tc.rule)
		if _, ok := problems[tc.field]; !ok {
			t.Errorf("%s: expected a problem on %s, got %v", tc.name, tc.field, problems)
		}
	}
}

func TestEffectiveThreshold(t *testing.T) {
	cases := []struct {
		level     string
		threshold int
		want      int
	}{
		{models.LevelReminder24h, 0, 24},
		{models.LevelReminder48h, 0, 48},
		{models.LevelEscalation48h, 0, 48},
		{models.LevelEscalation96h, 0, 96},
		// An explicit threshold overrides the level default.
		{models.LevelReminder24h, 12, 12},
		{models.LevelCustom, 72, 72},
	}

	for _, tc := range cases {
		rule := &models.EscalationRule{Level: tc.level, ThresholdHours: tc.threshold}
		if got := EffectiveThreshold(rule); got != tc.want {
			t.Errorf("EffectiveThreshold(%s, %d) = %d, want %d", tc.level, tc.threshold, got, tc.want)
		}
	}
}

func TestCalculateEscalationTime(t *testing.T) {
	created := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	got := CalculateEscalationTime(created, 24)
	want := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("24h from %v = %v, want %v", created, got, want)
	}
	if got.Sub(created) != 24*time.Hour {
		t.Errorf("offset = %v, want exactly 24h", got.Sub(created))
	}

	// Year boundary.
	created = time.Date(2024, 12, 31, 23, 0, 0, 0, time.UTC)
	got = CalculateEscalationTime(created, 96)
	want = time.Date(2025, 1, 4, 23, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("96h across new year = %v, want %v", got, want)
	}

	// A spring-forward DST day is still exactly 48 elapsed hours, not two
	// calendar days.
	nyc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	created = time.Date(2025, 3, 8, 12, 0, 0, 0, nyc)
	got = CalculateEscalationTime(created, 48)
	if got.Sub(created) != 48*time.Hour {
		t.Errorf("DST offset = %v, want exactly 48h", got.Sub(created))
	}
	if wall := got.In(nyc); wall.Hour() != 13 {
		t.Errorf("wall clock after spring forward = %02d:00, want 13:00", wall.Hour())
	}
}

func TestShouldTrigger(t *testing.T) {
	scheduled := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"one second early", time.Date(2025, 1, 1, 23, 59, 59, 0, time.UTC), false},
		{"exactly due", scheduled, true},
		{"one second late", time.Date(2025, 1, 2, 0, 0, 1, 0, time.UTC), true},
		{"long overdue", time.Date(2025, 1, 9, 0, 0, 0, 0, time.UTC), true},
	}

	for _, tc := range cases {
		if got := ShouldTrigger(scheduled, tc.now); got != tc.want {
			t.Errorf("%s: ShouldTrigger = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestIsReminder(t *testing.T) {
	for level, want := range map[string]bool{
		models.LevelReminder24h:   true,
		models.LevelReminder48h:   true,
		models.LevelEscalation48h: false,
		models.LevelEscalation96h: false,
		models.LevelCustom:        false,
	} {
		if got := IsReminder(level); got != want {
			t.Errorf("IsReminder(%s) = %v, want %v", level, got, want)
		}
	}
}
