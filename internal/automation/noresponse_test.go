package automation

import (
	"testing"
	"time"

	"engagement-engine/internal/models"
)

func (f *fixture) conversation(contact models.Contact, lastFrom string, at time.Time) models.Conversation {
	f.t.Helper()
	conv := models.Conversation{
		OwnerID:       contact.OwnerID,
		ContactID:     contact.ID,
		Status:        models.ConversationActive,
		LastMessageAt: at.UTC(),
	}
	if err := f.db.Create(&conv).Error; err != nil {
		f.t.Fatal(err)
	}
	f.message(conv, lastFrom, "oi", at)
	return conv
}

func (f *fixture) message(conv models.Conversation, from, body string, at time.Time) models.Message {
	f.t.Helper()
	msg := models.Message{
		OwnerID:        conv.OwnerID,
		ConversationID: conv.ID,
		ContactID:      conv.ContactID,
		SenderType:     from,
		Body:           body,
		CreatedAt:      at.UTC(),
	}
	if err := f.db.Create(&msg).Error; err != nil {
		f.t.Fatal(err)
	}
	f.db.Model(&conv).Update("last_message_at", at.UTC())
	return msg
}

func TestNoResponseFollowUps(t *testing.T) {
	t0 := time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)
	f := newFixture(t, t0)
	ana := f.contact("Ana", "5511999990001")
	conv := f.conversation(ana, models.SenderContact, t0)
	r := f.rule(NoResponseTrigger{DelayMinutes: 15, MaxAttempts: 2}, "{{nome}}, ainda está aí?")

	steps := []struct {
		at   time.Duration
		sent int
	}{
		{10 * time.Minute, 0},
		{20 * time.Minute, 1},
		{20 * time.Minute, 0},
		{30 * time.Minute, 0},
		{35 * time.Minute, 1},
		{40 * time.Minute, 0},
		{2 * time.Hour, 0},
	}
	for _, step := range steps {
		f.clock.Set(t0.Add(step.at))
		got := f.run(TriggerNoResponse).Rules[0]
		if got.Sent != step.sent {
			t.Fatalf("at T+%v sent = %d, want %d (%+v)", step.at, got.Sent, step.sent, got)
		}
	}

	rows := f.logs(r.ID)
	if len(rows) != 2 {
		t.Fatalf("ledger rows = %d, want 2", len(rows))
	}
	for _, row := range rows {
		if row.ConversationID == nil || *row.ConversationID != conv.ID {
			t.Errorf("row conversation = %v", row.ConversationID)
		}
	}
	if f.sender.sent[0].body != "Ana, ainda está aí?" {
		t.Errorf("body = %q", f.sender.sent[0].body)
	}
}

func TestNoResponseCapSpansSilences(t *testing.T) {
	t0 := time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)
	f := newFixture(t, t0)
	ana := f.contact("Ana", "5511999990001")
	conv := f.conversation(ana, models.SenderContact, t0)
	r := f.rule(NoResponseTrigger{DelayMinutes: 15, MaxAttempts: 1}, "Olá?")

	f.clock.Set(t0.Add(20 * time.Minute))
	if got := f.run(TriggerNoResponse).Rules[0]; got.Sent != 1 {
		t.Fatalf("first silence: %+v", got)
	}

	// The contact writes again twice; each new silence is past the delay.
	for i, at := range []time.Duration{time.Hour, 3 * time.Hour} {
		f.message(conv, models.SenderContact, "voltei", t0.Add(at))
		f.clock.Set(t0.Add(at + 30*time.Minute))
		if got := f.run(TriggerNoResponse).Rules[0]; got.Sent != 0 {
			t.Errorf("silence %d followed up past max attempts: %+v", i+2, got)
		}
	}
	if rows := f.logs(r.ID); len(rows) != 1 {
		t.Errorf("ledger rows = %d, want 1", len(rows))
	}
}

func TestNoResponseSkipsAnsweredConversations(t *testing.T) {
	t0 := time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)
	f := newFixture(t, t0)
	answered := f.conversation(f.contact("Ana", "5511999990001"), models.SenderContact, t0)
	f.message(answered, models.SenderAgent, "já vou ver", t0.Add(time.Minute))
	closed := f.conversation(f.contact("Bia", "5511999990002"), models.SenderContact, t0)
	f.db.Model(&closed).Update("status", models.ConversationResolved)
	f.conversation(f.contact("Caio", "5511999990003", func(c *models.Contact) { c.Active = false }), models.SenderContact, t0)
	f.rule(NoResponseTrigger{DelayMinutes: 15, MaxAttempts: 3}, "Olá?")

	f.clock.Set(t0.Add(time.Hour))
	if got := f.run(TriggerNoResponse).Rules[0]; got.Candidates != 0 {
		t.Errorf("summary = %+v", got)
	}
}
