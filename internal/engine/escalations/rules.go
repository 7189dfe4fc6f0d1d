package escalations

import (
	"strings"
	"time"

	"relayr/internal/platform/models"
)

// Threshold hours implied by the named levels. Custom rules carry their own.
var levelThresholds = map[string]int{
	models.LevelReminder24h:   24,
	models.LevelReminder48h:   48,
	models.LevelEscalation48h: 48,
	models.LevelEscalation96h: 96,
}

func ValidLevel(level string) bool {
	if level == models.LevelCustom {
		return true
	}
	_, ok := levelThresholds[level]
	return ok
}

var validChannels = map[string]bool{
	"email":   true,
	"webhook": true,
}

// ValidateRule returns field-level problems, empty when the rule is valid.
// Named levels may omit threshold_hours; custom rules must supply one.
func ValidateRule(rule *models.EscalationRule) map[string]string {
	problems := make(map[string]string)

	if rule.BrandID == "" {
		problems["brand_id"] = "brand_id is required"
	}
	if !ValidLevel(rule.Level) {
		problems["level"] = "level must be one of reminder_24h, reminder_48h, escalation_48h, escalation_96h, custom"
	}
	if rule.Level == models.LevelCustom && rule.ThresholdHours <= 0 {
		problems["threshold_hours"] = "threshold_hours must be positive"
	}
	if rule.ThresholdHours < 0 {
		problems["threshold_hours"] = "threshold_hours must be positive"
	}
	if len(rule.NotifyChannels) == 0 {
		problems["notify_channels"] = "at least one notify channel is required"
	}
	for _, ch := range rule.NotifyChannels {
		if !validChannels[ch] {
			problems["notify_channels"] = "channels must be email or webhook"
		}
	}

	return problems
}

// EffectiveThreshold resolves the hour threshold a rule fires at.
func EffectiveThreshold(rule *models.EscalationRule) int {
	if rule.Level != models.LevelCustom {
		if hours, ok := levelThresholds[rule.Level]; ok && rule.ThresholdHours == 0 {
			return hours
		}
	}
	return rule.ThresholdHours
}

// CalculateEscalationTime adds the threshold to the approval's creation
// instant. This is exact arithmetic on absolute time, not calendar-day
// counting, so it holds across DST transitions and year boundaries.
func CalculateEscalationTime(createdAt time.Time, thresholdHours int) time.Time {
	return createdAt.Add(time.Duration(thresholdHours) * time.Hour)
}

// ShouldTrigger reports whether a scheduled instant has come due. Callers
// inject "now" for deterministic evaluation.
func ShouldTrigger(scheduledAt, now time.Time) bool {
	return !scheduledAt.After(now)
}

// IsReminder distinguishes the soft-notify levels from the compliance-flag
// escalation levels. Both share one state machine; only the audit action
// differs.
func IsReminder(level string) bool {
	return strings.HasPrefix(level, "reminder")
}
