package automation

import (
	"context"
	"errors"

	"engagement-engine/internal/models"

	"gorm.io/gorm"
)

// Keyword answers an inbound contact message with the first active keyword
// rule that matches it. Each inbound message fires at most once.
func (e *Engine) Keyword(ctx context.Context, msg models.Message) (*RuleSummary, error) {
	if msg.SenderType != models.SenderContact || msg.Body == "" {
		return nil, nil
	}
	tn, err := e.tenants.Resolve(ctx, msg.OwnerID)
	if err != nil {
		return nil, err
	}
	rules, err := e.activeRules(ctx, tn.ID, TriggerKeyword)
	if err != nil {
		return nil, err
	}

	for _, rule := range rules {
		logger := e.logger.With("tenant", tn.ID, "rule", rule.ID, "trigger", TriggerKeyword)
		trigger, err := RuleTrigger(rule)
		if err != nil {
			logger.Warn("skipping rule", "error", err)
			continue
		}
		if !trigger.(KeywordTrigger).Matches(msg.Body) {
			continue
		}

		summary := &RuleSummary{RuleID: rule.ID, Name: rule.Name, Trigger: TriggerKeyword}
		body, err := e.ruleBody(ctx, tn, rule)
		if err != nil {
			logger.Warn("skipping rule", "error", err)
			summary.Skipped = err.Error()
			return summary, nil
		}
		key := rule.ID + ":" + msg.ID
		fired, err := e.ledger.HasKey(ctx, key)
		if err != nil {
			return nil, err
		}
		if fired {
			return summary, nil
		}

		var contact models.Contact
		err = e.db.WithContext(ctx).Where("id = ?", msg.ContactID).First(&contact).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrContactNotFound
		}
		if err != nil {
			return nil, err
		}

		vars := contactVars(contact.Name, contact.Phone)
		vars["message"] = msg.Body
		vars["mensagem"] = msg.Body
		req := DeliveryRequest{
			RuleID:    rule.ID,
			Trigger:   TriggerKeyword,
			Subject:   Subject{ContactID: contact.ID, ConversationID: msg.ConversationID},
			Recipient: contact.Phone,
			Body:      Render(body, vars),
			DedupKey:  key,
		}
		e.deliverAll(ctx, tn, rule.ID, TriggerKeyword, []DeliveryRequest{req}, summary)
		return summary, nil
	}
	return nil, nil
}
