package escalations

import (
	"fmt"
	"time"

	"relayr/internal/engine/audit"
	"relayr/internal/platform/models"
	"relayr/internal/platform/repositories"
)

// ValidationError carries field-level detail back to the API boundary.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("escalations: invalid rule (%d problems)", len(e.Fields))
}

// Service owns escalation configuration and the scheduling of escalation
// events against approvals.
type Service struct {
	repo    *repositories.EscalationRepository
	auditor *audit.Logger
}

func NewService(repo *repositories.EscalationRepository, auditor *audit.Logger) *Service {
	return &Service{repo: repo, auditor: auditor}
}

func (s *Service) CreateRule(rule *models.EscalationRule, actor audit.Entry) (*models.EscalationRule, error) {
	if problems := ValidateRule(rule); len(problems) > 0 {
		return nil, &ValidationError{Fields: problems}
	}
	rule.ThresholdHours = EffectiveThreshold(rule)

	if err := s.repo.CreateRule(rule); err != nil {
		return nil, err
	}

	actor.BrandID = rule.BrandID
	actor.Action = models.ActionSettingsUpdated
	actor.Metadata = map[string]interface{}{
		"rule_id":         rule.ID,
		"level":           rule.Level,
		"threshold_hours": rule.ThresholdHours,
	}
	if _, err := s.auditor.Record(actor); err != nil {
		return nil, err
	}
	return rule, nil
}

func (s *Service) UpdateRule(rule *models.EscalationRule, actor audit.Entry) (*models.EscalationRule, error) {
	if problems := ValidateRule(rule); len(problems) > 0 {
		return nil, &ValidationError{Fields: problems}
	}
	rule.ThresholdHours = EffectiveThreshold(rule)

	if err := s.repo.UpdateRule(rule); err != nil {
		return nil, err
	}

	actor.BrandID = rule.BrandID
	actor.Action = models.ActionSettingsUpdated
	actor.Metadata = map[string]interface{}{
		"rule_id":         rule.ID,
		"level":           rule.Level,
		"threshold_hours": rule.ThresholdHours,
		"enabled":         rule.Enabled,
	}
	if _, err := s.auditor.Record(actor); err != nil {
		return nil, err
	}
	return rule, nil
}

func (s *Service) ListRules(brandID string) ([]*models.EscalationRule, error) {
	return s.repo.ListRulesByBrand(brandID, false)
}

// ScheduleForApproval creates one pending escalation event per enabled rule
// for the approval's brand, each scheduled at creation time plus the rule's
// threshold.
func (s *Service) ScheduleForApproval(approval *models.PostApproval) ([]*models.EscalationEvent, error) {
	rules, err := s.repo.ListRulesByBrand(approval.BrandID, true)
	if err != nil {
		return nil, err
	}

	createdAt := time.Unix(approval.CreatedAt, 0).UTC()
	var events []*models.EscalationEvent
	for _, rule := range rules {
		event := &models.EscalationEvent{
			ApprovalID:  approval.ID,
			BrandID:     approval.BrandID,
			Level:       rule.Level,
			ScheduledAt: CalculateEscalationTime(createdAt, EffectiveThreshold(rule)).Unix(),
			Status:      models.EscalationStatusPending,
		}
		if err := s.repo.CreateEvent(event); err != nil {
			return events, err
		}
		events = append(events, event)
	}
	return events, nil
}

// CancelForApproval cancels pending escalation events when their approval
// resolves before coming due.
func (s *Service) CancelForApproval(approvalID, brandID string, actor audit.Entry) (int64, error) {
	count, err := s.repo.CancelPendingByApproval(approvalID)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}

	actor.BrandID = brandID
	actor.Action = models.ActionEscalationCancelled
	actor.Metadata = map[string]interface{}{
		"approval_id": approvalID,
		"cancelled":   count,
	}
	if _, err := s.auditor.Record(actor); err != nil {
		return count, err
	}
	return count, nil
}

func (s *Service) ListEvents(brandID, status string, limit, offset int) ([]*models.EscalationEvent, error) {
	return s.repo.ListEventsByBrand(brandID, status, limit, offset)
}

func (s *Service) GetEvent(id string) (*models.EscalationEvent, error) {
	return s.repo.GetEvent(id)
}

func (s *Service) CancelEvent(id string) (bool, error) {
	return s.repo.MarkCancelled(id)
}
