package automation

import (
	"context"
	"fmt"
	"time"

	"engagement-engine/internal/models"
	"engagement-engine/internal/tenant"
)

// birthdayToday reports whether a birth date falls on today's calendar date.
// February 29 birthdays are celebrated on February 28 in common years.
func birthdayToday(birth time.Time, today time.Time) bool {
	month, day := birth.Month(), birth.Day()
	if month == time.February && day == 29 && !isLeap(today.Year()) {
		day = 28
	}
	return month == today.Month() && day == today.Day()
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

func (e *Engine) evaluateBirthday(ctx context.Context, tn tenant.Tenant, rule models.AutomationRule, t BirthdayTrigger, body string, now time.Time) ([]DeliveryRequest, error) {
	contacts, err := e.activeContacts(ctx, tn, t.TargetTag)
	if err != nil {
		return nil, err
	}

	today := now.In(tn.Location())
	dayStart := tn.DayStart(now)
	var reqs []DeliveryRequest
	for _, c := range contacts {
		if c.BirthDate == nil || c.Phone == "" || !birthdayToday(*c.BirthDate, today) {
			continue
		}
		subject := Subject{ContactID: c.ID}
		fired, err := e.ledger.HasFired(ctx, rule.ID, subject, dayStart)
		if err != nil {
			return nil, err
		}
		if fired {
			continue
		}
		reqs = append(reqs, DeliveryRequest{
			RuleID:    rule.ID,
			Trigger:   TriggerBirthday,
			Subject:   subject,
			Recipient: c.Phone,
			Body:      Render(body, contactVars(c.Name, c.Phone)),
			DedupKey:  fmt.Sprintf("%s:%s:%s", rule.ID, c.ID, today.Format("2006-01-02")),
		})
	}
	return reqs, nil
}
