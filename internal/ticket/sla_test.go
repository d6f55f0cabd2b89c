package ticket

import (
	"context"
	"testing"
	"time"

	"engagement-engine/internal/models"
)

func TestClassify(t *testing.T) {
	deadline := t0.Add(4 * time.Hour)
	early := t0.Add(time.Hour)
	late := t0.Add(5 * time.Hour)
	window := 4 * time.Hour

	cases := []struct {
		name   string
		ticket models.Ticket
		now    time.Time
		want   SLAState
	}{
		{"fresh", models.Ticket{Status: models.TicketOpenAI, SLADeadline: deadline}, t0, OnTrack},
		{"last quarter", models.Ticket{Status: models.TicketAnalysis, SLADeadline: deadline}, t0.Add(3*time.Hour + time.Minute), AtRisk},
		{"past deadline", models.Ticket{Status: models.TicketPending, SLADeadline: deadline}, late, Breached},
		{"resolved in time", models.Ticket{Status: models.TicketResolved, SLADeadline: deadline, ResolvedAt: &early}, late, Met},
		{"resolved late", models.Ticket{Status: models.TicketResolved, SLADeadline: deadline, ResolvedAt: &late}, late, Missed},
		{"cancelled", models.Ticket{Status: models.TicketCancelled, SLADeadline: deadline}, late, Cancelled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.ticket, window, tc.now); got != tc.want {
				t.Errorf("Classify = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestReport(t *testing.T) {
	m, clk, _ := newManager(t)
	ctx := context.Background()

	urgent, _ := m.Create(ctx, CreateInput{OwnerID: "t1", Title: "u", Priority: models.PriorityUrgent})
	m.Create(ctx, CreateInput{OwnerID: "t1", Title: "l", Priority: models.PriorityLow})
	cancelled, _ := m.Create(ctx, CreateInput{OwnerID: "t1", Title: "c", Priority: models.PriorityUrgent})
	m.Update(ctx, cancelled.ID, UpdateInput{Status: str(models.TicketCancelled)})

	clk.Advance(5 * time.Hour)
	report, err := m.Report(ctx, "t1", clk.Now())
	if err != nil {
		t.Fatal(err)
	}
	if report.Totals[Breached] != 1 || report.Totals[OnTrack] != 1 || report.Totals[Cancelled] != 1 {
		t.Errorf("totals = %v", report.Totals)
	}
	if len(report.Breached) != 1 || report.Breached[0].ID != urgent.ID {
		t.Errorf("breached = %+v", report.Breached)
	}
	if len(report.ByPriority) != 2 || report.ByPriority[0].Priority != models.PriorityUrgent {
		t.Errorf("by priority = %+v", report.ByPriority)
	}
}
