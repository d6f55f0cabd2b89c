package automation

import (
	"context"
	"errors"
	"testing"
	"time"

	"engagement-engine/internal/dbtest"
	"engagement-engine/internal/models"
)

func TestLedgerHasFiredWindow(t *testing.T) {
	l := NewLedger(dbtest.Open(t))
	ctx := context.Background()
	at := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	subject := Subject{ContactID: "c1"}

	if _, err := l.Record(ctx, Entry{OwnerID: "t1", RuleID: "r1", Subject: subject, Outcome: Outcome{Kind: models.OutcomeSent}, DedupKey: "k1", At: at}); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name    string
		rule    string
		subject Subject
		window  time.Time
		want    bool
	}{
		{"ever", "r1", subject, time.Time{}, true},
		{"inside window", "r1", subject, at.Add(-time.Hour), true},
		{"window starts at the row", "r1", subject, at, true},
		{"after the row", "r1", subject, at.Add(time.Second), false},
		{"other contact", "r1", Subject{ContactID: "c2"}, time.Time{}, false},
		{"other rule", "r2", subject, time.Time{}, false},
		{"rule-wide", "r1", Subject{}, time.Time{}, true},
		{"non-UTC window", "r1", subject, at.In(time.FixedZone("BRT", -3*3600)), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := l.HasFired(ctx, tc.rule, tc.subject, tc.window)
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Errorf("HasFired = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestLedgerDuplicateKey(t *testing.T) {
	l := NewLedger(dbtest.Open(t))
	ctx := context.Background()
	entry := Entry{OwnerID: "t1", RuleID: "r1", Subject: Subject{ContactID: "c1"}, Outcome: Outcome{Kind: models.OutcomeSent}, DedupKey: "r1:c1:2024-06-15", At: time.Now()}

	if _, err := l.Record(ctx, entry); err != nil {
		t.Fatal(err)
	}
	_, err := l.Record(ctx, entry)
	if !errors.Is(err, ErrDuplicateSuppressed) || !IsDuplicate(err) {
		t.Fatalf("second record err = %v", err)
	}
	if ok, _ := l.HasKey(ctx, entry.DedupKey); !ok {
		t.Error("HasKey = false")
	}
	rows, _ := l.List(ctx, "t1", 0)
	if len(rows) != 1 {
		t.Errorf("rows = %d", len(rows))
	}
}

func TestLedgerConfigurationErrorsDoNotCount(t *testing.T) {
	l := NewLedger(dbtest.Open(t))
	ctx := context.Background()
	cfgErr := &ConfigurationError{TenantID: "t1", Type: models.IntegrationWhatsApp, Reason: ReasonMissing}
	for i := 0; i < 2; i++ {
		row, err := l.Record(ctx, Entry{OwnerID: "t1", RuleID: "r1", Outcome: Outcome{Kind: models.OutcomeConfigurationError, Err: cfgErr}, DedupKey: "ignored", At: time.Now()})
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if row.DedupKey != nil || row.Status != models.LogError || row.Details != cfgErr.Error() {
			t.Errorf("row = %+v", row)
		}
	}
	if fired, _ := l.HasFired(ctx, "r1", Subject{}, time.Time{}); fired {
		t.Error("configuration error counted as a firing")
	}
}

func TestLedgerAttempts(t *testing.T) {
	l := NewLedger(dbtest.Open(t))
	ctx := context.Background()
	t0 := time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)
	subject := Subject{ContactID: "c1", ConversationID: "v1"}
	for i, at := range []time.Time{t0.Add(-time.Hour), t0.Add(20 * time.Minute), t0.Add(35 * time.Minute)} {
		l.Record(ctx, Entry{OwnerID: "t1", RuleID: "r1", Subject: subject, Outcome: Outcome{Kind: models.OutcomeSent}, DedupKey: string(rune('a' + i)), At: at})
	}

	n, last, err := l.Attempts(ctx, "r1", subject, t0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || !last.Equal(t0.Add(35*time.Minute)) {
		t.Errorf("attempts = %d last = %v", n, last)
	}
	if n, last, _ = l.Attempts(ctx, "r1", Subject{ConversationID: "v2"}, t0); n != 0 || !last.IsZero() {
		t.Errorf("other conversation = %d %v", n, last)
	}
}
