package automation

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"engagement-engine/internal/models"
	"engagement-engine/internal/tenant"

	"gorm.io/gorm"
)

var ErrTicketNotFound = errors.New("ticket not found")

const defaultTicketNotification = "Ticket #{{number}} ({{title}}) mudou de {{oldStatus}} para {{status}}."

func settingMatches(s models.NotificationSetting, from, to string) bool {
	return (s.StatusFrom == nil || *s.StatusFrom == from) && (s.StatusTo == nil || *s.StatusTo == to)
}

func (e *Engine) profile(ctx context.Context, id *string) (*models.Profile, error) {
	if id == nil || *id == "" {
		return nil, nil
	}
	var p models.Profile
	err := e.db.WithContext(ctx).Where("id = ?", *id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func ticketVars(t models.Ticket, h models.TicketHistory, assignee *models.Profile) map[string]string {
	vars := map[string]string{
		"number":    strconv.Itoa(t.Number),
		"numero":    strconv.Itoa(t.Number),
		"title":     t.Title,
		"titulo":    t.Title,
		"status":    h.NewStatus,
		"oldStatus": h.OldStatus,
		"priority":  t.Priority,
		"assignee":  "",
	}
	if assignee != nil {
		vars["assignee"] = assignee.Name
	}
	return vars
}

func withRecipient(vars map[string]string, name, phone string) map[string]string {
	out := contactVars(name, phone)
	for k, v := range vars {
		out[k] = v
	}
	return out
}

// OnTicketTransition is called after a ticket transition commits.
func (e *Engine) OnTicketTransition(ctx context.Context, t models.Ticket, h models.TicketHistory) error {
	_, err := e.NotifyTicket(ctx, t, h)
	return err
}

// TicketStatus re-evaluates the latest transition of a ticket.
func (e *Engine) TicketStatus(ctx context.Context, ticketID string) ([]RuleSummary, error) {
	var t models.Ticket
	err := e.db.WithContext(ctx).Where("id = ?", ticketID).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, err
	}
	var h models.TicketHistory
	err = e.db.WithContext(ctx).
		Where("ticket_id = ?", t.ID).
		Order("created_at DESC, id DESC").
		First(&h).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e.NotifyTicket(ctx, t, h)
}

// NotifyTicket dispatches the notifications a status change asks for: the
// tenant's notification settings reach the creator and assignee, and
// ticket_status rules reach the ticket's contact. Creation and transitions
// that keep the status notify nobody.
func (e *Engine) NotifyTicket(ctx context.Context, t models.Ticket, h models.TicketHistory) ([]RuleSummary, error) {
	tn, err := e.tenants.Resolve(ctx, t.OwnerID)
	if err != nil {
		return nil, err
	}
	e.events.Publish(tn.ID, EventTicketTransition, h)
	// The creation row has no previous status.
	if h.OldStatus == "" || h.OldStatus == h.NewStatus {
		return nil, nil
	}

	assignee, err := e.profile(ctx, t.AssignedTo)
	if err != nil {
		return nil, err
	}
	vars := ticketVars(t, h, assignee)

	summaries, err := e.notifyStaff(ctx, tn, t, h, assignee, vars)
	if err != nil {
		return summaries, err
	}
	contactSummaries, err := e.notifyTicketContact(ctx, tn, t, h, vars)
	return append(summaries, contactSummaries...), err
}

func (e *Engine) notifyStaff(ctx context.Context, tn tenant.Tenant, t models.Ticket, h models.TicketHistory, assignee *models.Profile, vars map[string]string) ([]RuleSummary, error) {
	var settings []models.NotificationSetting
	err := e.db.WithContext(ctx).
		Where("owner_id = ? AND event = ? AND active = ?", tn.ID, models.EventStatusChange, true).
		Order("created_at ASC, id ASC").
		Find(&settings).Error
	if err != nil {
		return nil, err
	}

	creator, err := e.profile(ctx, &t.CreatedBy)
	if err != nil {
		return nil, err
	}

	var summaries []RuleSummary
	for _, s := range settings {
		if !settingMatches(s, h.OldStatus, h.NewStatus) {
			continue
		}
		body := s.MessageTemplate
		if body == "" {
			body = defaultTicketNotification
		}

		type recipient struct {
			role    string
			profile *models.Profile
		}
		var recipients []recipient
		if s.NotifyCreator && creator != nil {
			recipients = append(recipients, recipient{"creator", creator})
		}
		if s.NotifyAssignee && assignee != nil && (creator == nil || assignee.ID != creator.ID || !s.NotifyCreator) {
			recipients = append(recipients, recipient{"assignee", assignee})
		}

		summary := RuleSummary{RuleID: s.ID, Name: "notification:" + s.Event, Trigger: TriggerTicketStatus}
		var reqs []DeliveryRequest
		for _, r := range recipients {
			if r.profile.Phone == "" {
				continue
			}
			key := fmt.Sprintf("%s:%s:%s", s.ID, h.ID, r.role)
			fired, err := e.ledger.HasKey(ctx, key)
			if err != nil {
				return summaries, err
			}
			if fired {
				continue
			}
			reqs = append(reqs, DeliveryRequest{
				RuleID:    s.ID,
				Trigger:   TriggerTicketStatus,
				Subject:   Subject{TicketID: t.ID},
				Recipient: r.profile.Phone,
				Body:      Render(body, withRecipient(vars, r.profile.Name, r.profile.Phone)),
				DedupKey:  key,
			})
		}
		e.deliverAll(ctx, tn, s.ID, TriggerTicketStatus, reqs, &summary)
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (e *Engine) notifyTicketContact(ctx context.Context, tn tenant.Tenant, t models.Ticket, h models.TicketHistory, vars map[string]string) ([]RuleSummary, error) {
	if t.ContactID == nil || *t.ContactID == "" {
		return nil, nil
	}
	var contact models.Contact
	err := e.db.WithContext(ctx).Where("id = ?", *t.ContactID).First(&contact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !contact.Active || contact.Phone == "" {
		return nil, nil
	}

	rules, err := e.activeRules(ctx, tn.ID, TriggerTicketStatus)
	if err != nil {
		return nil, err
	}
	var summaries []RuleSummary
	for _, rule := range rules {
		logger := e.logger.With("tenant", tn.ID, "rule", rule.ID, "trigger", TriggerTicketStatus)
		trigger, err := RuleTrigger(rule)
		if err != nil {
			logger.Warn("skipping rule", "error", err)
			continue
		}
		if !trigger.(TicketStatusTrigger).Matches(h.OldStatus, h.NewStatus) {
			continue
		}
		summary := RuleSummary{RuleID: rule.ID, Name: rule.Name, Trigger: TriggerTicketStatus}
		body, err := e.ruleBody(ctx, tn, rule)
		if err != nil {
			logger.Warn("skipping rule", "error", err)
			summary.Skipped = err.Error()
			summaries = append(summaries, summary)
			continue
		}
		key := fmt.Sprintf("%s:%s:contact", rule.ID, h.ID)
		fired, err := e.ledger.HasKey(ctx, key)
		if err != nil {
			return summaries, err
		}
		if !fired {
			req := DeliveryRequest{
				RuleID:    rule.ID,
				Trigger:   TriggerTicketStatus,
				Subject:   Subject{TicketID: t.ID, ContactID: contact.ID},
				Recipient: contact.Phone,
				Body:      Render(body, withRecipient(vars, contact.Name, contact.Phone)),
				DedupKey:  key,
			}
			e.deliverAll(ctx, tn, rule.ID, TriggerTicketStatus, []DeliveryRequest{req}, &summary)
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}
