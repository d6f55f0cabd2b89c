package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"engagement-engine/internal/models"

	"gorm.io/gorm"
)

var (
	ErrRuleNotFound = errors.New("rule not found")
	ErrInvalidRule  = errors.New("invalid rule")
)

// RuleInput is an admin's create or update request. Trigger is the stored
// form, including its "type" tag.
type RuleInput struct {
	Name       string          `json:"name"`
	Active     bool            `json:"active"`
	Trigger    json.RawMessage `json:"trigger_config"`
	TemplateID *string         `json:"template_id"`
	Message    string          `json:"message"`
}

// RuleStore validates and persists automation rules. Trigger configurations
// are checked here, at save time.
type RuleStore struct {
	db *gorm.DB
}

func NewRuleStore(db *gorm.DB) *RuleStore {
	return &RuleStore{db: db}
}

func (s *RuleStore) validate(ctx context.Context, ownerID string, in RuleInput) (Trigger, error) {
	if in.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	trigger, err := ParseTrigger(in.Trigger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if in.Message == "" && (in.TemplateID == nil || *in.TemplateID == "") {
		return nil, fmt.Errorf("%w: message or template_id is required", ErrInvalidRule)
	}
	if in.Message == "" {
		var count int64
		err := s.db.WithContext(ctx).Model(&models.MessageTemplate{}).
			Where("id = ? AND owner_id = ?", *in.TemplateID, ownerID).
			Count(&count).Error
		if err != nil {
			return nil, err
		}
		if count == 0 {
			return nil, fmt.Errorf("%w: template %s not found", ErrInvalidRule, *in.TemplateID)
		}
	}
	return trigger, nil
}

func (s *RuleStore) Create(ctx context.Context, ownerID string, in RuleInput) (*models.AutomationRule, error) {
	trigger, err := s.validate(ctx, ownerID, in)
	if err != nil {
		return nil, err
	}
	config, err := EncodeTrigger(trigger)
	if err != nil {
		return nil, err
	}
	rule := &models.AutomationRule{
		OwnerID:       ownerID,
		Name:          in.Name,
		Active:        in.Active,
		TriggerType:   string(trigger.Type()),
		TriggerConfig: config,
		TemplateID:    in.TemplateID,
		Message:       in.Message,
	}
	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		return nil, err
	}
	return rule, nil
}

func (s *RuleStore) Get(ctx context.Context, ownerID, id string) (*models.AutomationRule, error) {
	var rule models.AutomationRule
	err := s.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).First(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// Update replaces a rule's definition.
func (s *RuleStore) Update(ctx context.Context, ownerID, id string, in RuleInput) (*models.AutomationRule, error) {
	rule, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	trigger, err := s.validate(ctx, ownerID, in)
	if err != nil {
		return nil, err
	}
	config, err := EncodeTrigger(trigger)
	if err != nil {
		return nil, err
	}
	rule.Name = in.Name
	rule.Active = in.Active
	rule.TriggerType = string(trigger.Type())
	rule.TriggerConfig = config
	rule.TemplateID = in.TemplateID
	rule.Message = in.Message
	if err := s.db.WithContext(ctx).Save(rule).Error; err != nil {
		return nil, err
	}
	return rule, nil
}

func (s *RuleStore) SetActive(ctx context.Context, ownerID, id string, active bool) error {
	res := s.db.WithContext(ctx).Model(&models.AutomationRule{}).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Update("active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// Delete removes a rule. Its ledger rows stay as audit history.
func (s *RuleStore) Delete(ctx context.Context, ownerID, id string) error {
	res := s.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).Delete(&models.AutomationRule{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func (s *RuleStore) List(ctx context.Context, ownerID string) ([]models.AutomationRule, error) {
	var rules []models.AutomationRule
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC, id ASC").
		Find(&rules).Error
	return rules, err
}

type Analytics struct {
	TotalRules          int64 `json:"total_rules"`
	ActiveRules         int64 `json:"active_rules"`
	TotalExecutions     int64 `json:"total_executions"`
	Sent                int64 `json:"sent"`
	ProviderErrors      int64 `json:"provider_errors"`
	ConfigurationErrors int64 `json:"configuration_errors"`
}

func (s *RuleStore) Analytics(ctx context.Context, ownerID string) (Analytics, error) {
	var stats Analytics
	db := s.db.WithContext(ctx)
	if err := db.Model(&models.AutomationRule{}).Where("owner_id = ?", ownerID).Count(&stats.TotalRules).Error; err != nil {
		return stats, err
	}
	if err := db.Model(&models.AutomationRule{}).Where("owner_id = ? AND active = ?", ownerID, true).Count(&stats.ActiveRules).Error; err != nil {
		return stats, err
	}

	var rows []struct {
		Outcome string
		Count   int64
	}
	err := db.Model(&models.AutomationLog{}).
		Select("outcome, count(*) as count").
		Where("owner_id = ?", ownerID).
		Group("outcome").
		Scan(&rows).Error
	if err != nil {
		return stats, err
	}
	for _, r := range rows {
		stats.TotalExecutions += r.Count
		switch r.Outcome {
		case models.OutcomeSent:
			stats.Sent = r.Count
		case models.OutcomeProviderError:
			stats.ProviderErrors = r.Count
		case models.OutcomeConfigurationError:
			stats.ConfigurationErrors = r.Count
		}
	}
	return stats, nil
}
