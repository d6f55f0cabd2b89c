package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"engagement-engine/internal/models"

	"gorm.io/gorm"
)

var ErrContactNotFound = errors.New("contact not found")

// Welcome handles a new-contact event. The oldest active new_contact rule that
// accepts the event wins; it fires at most once per contact, ever. It returns
// nil when no rule applies.
func (e *Engine) Welcome(ctx context.Context, contactID, event string) (*RuleSummary, error) {
	if event != EventContactCreated && event != EventFirstMessage {
		return nil, fmt.Errorf("unknown welcome event %q", event)
	}
	var contact models.Contact
	err := e.db.WithContext(ctx).Where("id = ?", contactID).First(&contact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrContactNotFound
	}
	if err != nil {
		return nil, err
	}
	if !contact.Active || contact.Phone == "" {
		return nil, nil
	}

	tn, err := e.tenants.Resolve(ctx, contact.OwnerID)
	if err != nil {
		return nil, err
	}
	rules, err := e.activeRules(ctx, tn.ID, TriggerNewContact)
	if err != nil {
		return nil, err
	}

	for _, rule := range rules {
		logger := e.logger.With("tenant", tn.ID, "rule", rule.ID, "trigger", TriggerNewContact)
		trigger, err := RuleTrigger(rule)
		if err != nil {
			logger.Warn("skipping rule", "error", err)
			continue
		}
		if !trigger.(NewContactTrigger).Accepts(event) {
			continue
		}

		summary := &RuleSummary{RuleID: rule.ID, Name: rule.Name, Trigger: TriggerNewContact}
		body, err := e.ruleBody(ctx, tn, rule)
		if err != nil {
			logger.Warn("skipping rule", "error", err)
			summary.Skipped = err.Error()
			return summary, nil
		}
		subject := Subject{ContactID: contact.ID}
		fired, err := e.ledger.HasFired(ctx, rule.ID, subject, time.Time{})
		if err != nil {
			return nil, err
		}
		if fired {
			return summary, nil
		}
		req := DeliveryRequest{
			RuleID:    rule.ID,
			Trigger:   TriggerNewContact,
			Subject:   subject,
			Recipient: contact.Phone,
			Body:      Render(body, contactVars(contact.Name, contact.Phone)),
			DedupKey:  rule.ID + ":" + contact.ID,
		}
		e.deliverAll(ctx, tn, rule.ID, TriggerNewContact, []DeliveryRequest{req}, summary)
		return summary, nil
	}
	return nil, nil
}
