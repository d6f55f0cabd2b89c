package automation

import (
	"context"
	"testing"
	"time"

	"engagement-engine/internal/models"
)

func TestKeywordMatches(t *testing.T) {
	cases := []struct {
		trigger KeywordTrigger
		message string
		want    bool
	}{
		{KeywordTrigger{Keywords: []string{"preço"}}, "Qual o PREÇO?", true},
		{KeywordTrigger{Keywords: []string{"preço"}}, "oi", false},
		{KeywordTrigger{Keywords: []string{"menu"}, Exact: true}, " Menu ", true},
		{KeywordTrigger{Keywords: []string{"menu"}, Exact: true}, "ver menu", false},
		{KeywordTrigger{Keywords: []string{"", "  "}}, "qualquer", false},
	}
	for _, tc := range cases {
		if got := tc.trigger.Matches(tc.message); got != tc.want {
			t.Errorf("%+v.Matches(%q) = %v", tc.trigger, tc.message, got)
		}
	}
}

func TestKeywordRepliesOncePerMessage(t *testing.T) {
	t0 := time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)
	f := newFixture(t, t0)
	ctx := context.Background()
	ana := f.contact("Ana", "5511999990001")
	conv := f.conversation(ana, models.SenderContact, t0)
	f.rule(KeywordTrigger{Keywords: []string{"horário"}}, "{{nome}}, abrimos às 9h. Você disse: {{mensagem}}")

	msg := f.message(conv, models.SenderContact, "Qual o horário?", t0)
	summary, err := f.engine.Keyword(ctx, msg)
	if err != nil {
		t.Fatal(err)
	}
	if summary == nil || summary.Sent != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if got := f.sender.sent[0].body; got != "Ana, abrimos às 9h. Você disse: Qual o horário?" {
		t.Errorf("body = %q", got)
	}

	if summary, _ = f.engine.Keyword(ctx, msg); summary.Sent != 0 || f.sender.count() != 1 {
		t.Errorf("same message answered twice: %+v", summary)
	}

	other := f.message(conv, models.SenderContact, "e no sábado, qual o horário?", t0.Add(time.Minute))
	if summary, _ = f.engine.Keyword(ctx, other); summary.Sent != 1 {
		t.Errorf("new message not answered: %+v", summary)
	}
}

func TestKeywordIgnoresNonContactMessages(t *testing.T) {
	t0 := time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)
	f := newFixture(t, t0)
	conv := f.conversation(f.contact("Ana", "5511999990001"), models.SenderContact, t0)
	f.rule(KeywordTrigger{Keywords: []string{"oi"}}, "Olá!")

	msg := f.message(conv, models.SenderAgent, "oi", t0)
	summary, err := f.engine.Keyword(context.Background(), msg)
	if err != nil || summary != nil {
		t.Errorf("summary = %+v err = %v", summary, err)
	}
	msg = f.message(conv, models.SenderContact, "tchau", t0)
	if summary, _ = f.engine.Keyword(context.Background(), msg); summary != nil {
		t.Errorf("unmatched message answered: %+v", summary)
	}
}
