package automation

import (
	"context"
	"time"

	"engagement-engine/internal/models"
	"engagement-engine/internal/tenant"
)

// evaluateSchedule fires a one-shot broadcast. The rule counts as run as soon
// as any ledger row exists for it, so a batch interrupted halfway is not
// resumed.
func (e *Engine) evaluateSchedule(ctx context.Context, tn tenant.Tenant, rule models.AutomationRule, t ScheduleTrigger, body string, now time.Time) ([]DeliveryRequest, error) {
	if now.Before(t.ScheduleAt) {
		return nil, nil
	}
	run, err := e.ledger.HasFired(ctx, rule.ID, Subject{}, time.Time{})
	if err != nil || run {
		return nil, err
	}

	contacts, err := e.activeContacts(ctx, tn, t.TargetTag)
	if err != nil {
		return nil, err
	}
	reqs := make([]DeliveryRequest, 0, len(contacts))
	for _, c := range contacts {
		if c.Phone == "" {
			continue
		}
		reqs = append(reqs, DeliveryRequest{
			RuleID:    rule.ID,
			Trigger:   TriggerSchedule,
			Subject:   Subject{ContactID: c.ID},
			Recipient: c.Phone,
			Body:      Render(body, contactVars(c.Name, c.Phone)),
			DedupKey:  rule.ID + ":" + c.ID,
		})
	}
	return reqs, nil
}
