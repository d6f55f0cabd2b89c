package automation

import (
	"context"
	"errors"
	"testing"
	"time"

	"engagement-engine/internal/models"
	"engagement-engine/internal/ticket"
)

type ticketFixture struct {
	*fixture
	manager *ticket.Manager
	contact models.Contact
}

func newTicketFixture(t *testing.T) *ticketFixture {
	t.Helper()
	f := newFixture(t, time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC))
	admin := tenantID
	f.db.Create(&models.Profile{ID: tenantID, Name: "Carla Admin", Phone: "5511900000001", Role: "admin"})
	f.db.Create(&models.Profile{ID: "agent-1", Name: "Diego Agente", Phone: "5511900000002", Role: "agent", CreatedBy: &admin})

	m := ticket.NewManager(f.db, f.engine.tenants, f.clock, nil)
	m.SetListener(f.engine)
	return &ticketFixture{fixture: f, manager: m, contact: f.contact("Ana", "5511999990001")}
}

func (f *ticketFixture) setting(from, to *string, creator, assignee bool, template string) models.NotificationSetting {
	f.t.Helper()
	s, err := NewNotificationStore(f.db).Create(context.Background(), tenantID, NotificationInput{
		Event:           models.EventStatusChange,
		StatusFrom:      from,
		StatusTo:        to,
		NotifyCreator:   creator,
		NotifyAssignee:  assignee,
		MessageTemplate: template,
		Active:          true,
	})
	if err != nil {
		f.t.Fatal(err)
	}
	return *s
}

func ptr(s string) *string { return &s }

func TestTicketTransitionNotifiesStaff(t *testing.T) {
	f := newTicketFixture(t)
	ctx := context.Background()
	f.setting(nil, ptr(models.TicketResolved), true, true, "Ticket #{{number}} {{titulo}}: {{status}} ({{assignee}})")

	tk, err := f.manager.Create(ctx, ticket.CreateInput{OwnerID: tenantID, Title: "Boleto", AssignedTo: ptr("agent-1")})
	if err != nil {
		t.Fatal(err)
	}
	if f.sender.count() != 0 {
		t.Fatalf("creation notified: %+v", f.sender.sent)
	}
	if _, _, err := f.manager.Update(ctx, tk.ID, ticket.UpdateInput{Status: ptr(models.TicketPending)}); err != nil {
		t.Fatal(err)
	}
	if f.sender.count() != 0 {
		t.Fatalf("unmatched transition notified: %+v", f.sender.sent)
	}

	if _, _, err := f.manager.Update(ctx, tk.ID, ticket.UpdateInput{Status: ptr(models.TicketResolved)}); err != nil {
		t.Fatal(err)
	}
	if f.sender.count() != 2 {
		t.Fatalf("sent = %+v", f.sender.sent)
	}
	want := "Ticket #1 Boleto: concluido (Diego Agente)"
	recipients := map[string]bool{}
	for _, s := range f.sender.sent {
		recipients[s.to] = true
		if s.body != want {
			t.Errorf("body = %q, want %q", s.body, want)
		}
	}
	if !recipients["5511900000001"] || !recipients["5511900000002"] {
		t.Errorf("recipients = %v", recipients)
	}
}

func TestTicketNotificationSamePersonOnce(t *testing.T) {
	f := newTicketFixture(t)
	ctx := context.Background()
	f.setting(nil, nil, true, true, "")

	tk, _ := f.manager.Create(ctx, ticket.CreateInput{OwnerID: tenantID, Title: "x", AssignedTo: ptr(tenantID)})
	if _, _, err := f.manager.Update(ctx, tk.ID, ticket.UpdateInput{Status: ptr(models.TicketPending)}); err != nil {
		t.Fatal(err)
	}
	if f.sender.count() != 1 {
		t.Errorf("sent = %+v", f.sender.sent)
	}
}

func TestTicketStatusRuleNotifiesContact(t *testing.T) {
	f := newTicketFixture(t)
	ctx := context.Background()
	r := f.rule(TicketStatusTrigger{StatusTo: models.TicketResolved}, "{{nome}}, seu chamado #{{numero}} foi resolvido.")

	tk, _ := f.manager.Create(ctx, ticket.CreateInput{OwnerID: tenantID, Title: "x", ContactID: &f.contact.ID})
	f.clock.Advance(time.Minute)
	if _, _, err := f.manager.Update(ctx, tk.ID, ticket.UpdateInput{Status: ptr(models.TicketResolved)}); err != nil {
		t.Fatal(err)
	}
	if f.sender.count() != 1 || f.sender.sent[0].body != "Ana, seu chamado #1 foi resolvido." {
		t.Fatalf("sent = %+v", f.sender.sent)
	}

	// Re-running the same transition is suppressed by the ledger.
	summaries, err := f.engine.TicketStatus(ctx, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 1 || summaries[0].Sent != 0 || f.sender.count() != 1 {
		t.Errorf("rerun = %+v", summaries)
	}
	rows := f.logs(r.ID)
	if len(rows) != 1 || rows[0].TicketID == nil || *rows[0].TicketID != tk.ID {
		t.Errorf("rows = %+v", rows)
	}
}

func TestTicketStatusPublishesTransitions(t *testing.T) {
	f := newTicketFixture(t)
	ctx := context.Background()
	tk, _ := f.manager.Create(ctx, ticket.CreateInput{OwnerID: tenantID, Title: "x"})
	f.manager.Update(ctx, tk.ID, ticket.UpdateInput{Note: "liguei para o cliente"})

	var transitions int
	for _, e := range f.events.events {
		if e == EventTicketTransition {
			transitions++
		}
	}
	if transitions != 2 {
		t.Errorf("events = %v", f.events.events)
	}
	if _, err := f.engine.TicketStatus(ctx, "missing"); !errors.Is(err, ErrTicketNotFound) {
		t.Errorf("err = %v", err)
	}
}
