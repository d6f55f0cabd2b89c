package automation

import (
	"context"
	"errors"
	"testing"
	"time"

	"engagement-engine/internal/models"
)

func TestWelcomeOncePerContact(t *testing.T) {
	f := newFixture(t, time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC))
	ctx := context.Background()
	ana := f.contact("Ana Souza", "5511999990001")
	r := f.rule(NewContactTrigger{}, "Bem-vinda, {{nome}}!")

	summary, err := f.engine.Welcome(ctx, ana.ID, EventContactCreated)
	if err != nil {
		t.Fatal(err)
	}
	if summary == nil || summary.RuleID != r.ID || summary.Sent != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if f.sender.sent[0].body != "Bem-vinda, Ana!" {
		t.Errorf("body = %q", f.sender.sent[0].body)
	}

	summary, err = f.engine.Welcome(ctx, ana.ID, EventFirstMessage)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Sent != 0 || f.sender.count() != 1 {
		t.Errorf("welcomed twice: %+v", summary)
	}
}

func TestWelcomeEventFilter(t *testing.T) {
	f := newFixture(t, time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC))
	ctx := context.Background()
	ana := f.contact("Ana", "5511999990001")
	onMessage := f.rule(NewContactTrigger{Events: []string{EventFirstMessage}}, "Oi!")

	summary, err := f.engine.Welcome(ctx, ana.ID, EventContactCreated)
	if err != nil || summary != nil {
		t.Fatalf("summary = %+v, err = %v", summary, err)
	}
	summary, err = f.engine.Welcome(ctx, ana.ID, EventFirstMessage)
	if err != nil || summary == nil || summary.RuleID != onMessage.ID || summary.Sent != 1 {
		t.Fatalf("summary = %+v, err = %v", summary, err)
	}
}

func TestWelcomeFirstRuleWins(t *testing.T) {
	f := newFixture(t, time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC))
	ana := f.contact("Ana", "5511999990001")
	first := f.rule(NewContactTrigger{}, "first")
	f.rule(NewContactTrigger{}, "second")

	summary, err := f.engine.Welcome(context.Background(), ana.ID, EventContactCreated)
	if err != nil {
		t.Fatal(err)
	}
	if summary.RuleID != first.ID || f.sender.count() != 1 || f.sender.sent[0].body != "first" {
		t.Errorf("summary = %+v sent = %+v", summary, f.sender.sent)
	}
}

func TestWelcomeErrors(t *testing.T) {
	f := newFixture(t, time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC))
	ctx := context.Background()
	if _, err := f.engine.Welcome(ctx, "missing", EventContactCreated); !errors.Is(err, ErrContactNotFound) {
		t.Errorf("err = %v", err)
	}
	ana := f.contact("Ana", "5511999990001")
	if _, err := f.engine.Welcome(ctx, ana.ID, "signup"); err == nil {
		t.Error("unknown event accepted")
	}

	inactive := f.contact("Bia", "5511999990002", func(c *models.Contact) { c.Active = false })
	f.rule(NewContactTrigger{}, "Oi")
	summary, err := f.engine.Welcome(ctx, inactive.ID, EventContactCreated)
	if err != nil || summary != nil || f.sender.count() != 0 {
		t.Errorf("inactive contact welcomed: %+v %v", summary, err)
	}
}
