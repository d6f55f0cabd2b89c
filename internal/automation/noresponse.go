package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"engagement-engine/internal/models"
	"engagement-engine/internal/tenant"

	"gorm.io/gorm"
)

// lastReply returns the most recent message of a conversation that was not
// produced by an automation.
func (e *Engine) lastReply(ctx context.Context, conversationID string) (*models.Message, error) {
	var msg models.Message
	err := e.db.WithContext(ctx).
		Where("conversation_id = ? AND sender_type <> ?", conversationID, models.SenderAutomation).
		Order("created_at DESC").
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// evaluateNoResponse follows up on conversations where the contact spoke last
// and nobody answered within the delay. Each follow-up is one ledger row;
// MaxAttempts caps the rows of a rule for a conversation over its whole life,
// so a contact writing again does not restart the count.
func (e *Engine) evaluateNoResponse(ctx context.Context, tn tenant.Tenant, rule models.AutomationRule, t NoResponseTrigger, body string, now time.Time) ([]DeliveryRequest, error) {
	members, err := e.tenants.Members(ctx, tn.ID)
	if err != nil {
		return nil, err
	}
	delay := t.Delay()

	var convs []models.Conversation
	err = e.db.WithContext(ctx).
		Where("owner_id IN ? AND status = ? AND last_message_at <= ?", members, models.ConversationActive, now.Add(-delay).UTC()).
		Order("last_message_at ASC").
		Find(&convs).Error
	if err != nil {
		return nil, err
	}

	var reqs []DeliveryRequest
	for _, conv := range convs {
		last, err := e.lastReply(ctx, conv.ID)
		if err != nil {
			return nil, err
		}
		if last == nil || last.SenderType != models.SenderContact {
			continue
		}

		subject := Subject{ContactID: conv.ContactID, ConversationID: conv.ID}
		attempts, lastAttempt, err := e.ledger.Attempts(ctx, rule.ID, subject, time.Time{})
		if err != nil {
			return nil, err
		}
		if attempts >= t.MaxAttempts {
			continue
		}
		ref := last.CreatedAt
		if lastAttempt.After(ref) {
			ref = lastAttempt
		}
		if now.Sub(ref) < delay {
			continue
		}

		var contact models.Contact
		if err := e.db.WithContext(ctx).Where("id = ?", conv.ContactID).First(&contact).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, err
		}
		if !contact.Active || contact.Phone == "" {
			continue
		}

		reqs = append(reqs, DeliveryRequest{
			RuleID:    rule.ID,
			Trigger:   TriggerNoResponse,
			Subject:   subject,
			Recipient: contact.Phone,
			Body:      Render(body, contactVars(contact.Name, contact.Phone)),
			DedupKey:  fmt.Sprintf("%s:%s:%d", rule.ID, conv.ID, attempts+1),
		})
	}
	return reqs, nil
}
