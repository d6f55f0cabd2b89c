package ticket

import (
	"context"
	"time"

	"engagement-engine/internal/models"
)

type SLAState string

const (
	OnTrack   SLAState = "on_track"
	AtRisk    SLAState = "at_risk"
	Breached  SLAState = "breached"
	Met       SLAState = "met"
	Missed    SLAState = "missed"
	Cancelled SLAState = "cancelled"
)

// atRiskShare is the fraction of the SLA window below which an open ticket is
// at risk.
const atRiskShare = 0.25

// Classify reports where t stands against its deadline at now. window is the
// SLA length of the ticket's priority. Cancelled tickets never count as
// breaches.
func Classify(t models.Ticket, window time.Duration, now time.Time) SLAState {
	switch t.Status {
	case models.TicketCancelled:
		return Cancelled
	case models.TicketResolved:
		if t.ResolvedAt != nil && !t.ResolvedAt.After(t.SLADeadline) {
			return Met
		}
		return Missed
	}
	if now.After(t.SLADeadline) {
		return Breached
	}
	if window > 0 && float64(t.SLADeadline.Sub(now)) < atRiskShare*float64(window) {
		return AtRisk
	}
	return OnTrack
}

type PriorityReport struct {
	Priority string           `json:"priority"`
	Counts   map[SLAState]int `json:"counts"`
}

type Report struct {
	OwnerID     string           `json:"owner_id"`
	GeneratedAt time.Time        `json:"generated_at"`
	Totals      map[SLAState]int `json:"totals"`
	ByPriority  []PriorityReport `json:"by_priority"`
	// Breached lists open tickets past their deadline, oldest deadline first.
	Breached []models.Ticket `json:"breached"`
}

// Report classifies every ticket of a tenant at now.
func (m *Manager) Report(ctx context.Context, ownerID string, now time.Time) (*Report, error) {
	tn, err := m.tenants.Resolve(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	var tickets []models.Ticket
	err = m.db.WithContext(ctx).
		Where("owner_id = ?", tn.ID).
		Order("sla_deadline ASC").
		Find(&tickets).Error
	if err != nil {
		return nil, err
	}

	report := &Report{
		OwnerID:     tn.ID,
		GeneratedAt: now,
		Totals:      map[SLAState]int{},
	}
	byPriority := map[string]map[SLAState]int{}
	for _, t := range tickets {
		window := time.Duration(tn.SLAHours(t.Priority)) * time.Hour
		state := Classify(t, window, now)
		report.Totals[state]++
		if byPriority[t.Priority] == nil {
			byPriority[t.Priority] = map[SLAState]int{}
		}
		byPriority[t.Priority][state]++
		if state == Breached {
			report.Breached = append(report.Breached, t)
		}
	}
	for _, p := range []string{models.PriorityUrgent, models.PriorityHigh, models.PriorityMedium, models.PriorityLow} {
		if counts, ok := byPriority[p]; ok {
			report.ByPriority = append(report.ByPriority, PriorityReport{Priority: p, Counts: counts})
		}
	}
	return report, nil
}
