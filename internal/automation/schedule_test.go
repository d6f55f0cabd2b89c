package automation

import (
	"testing"
	"time"

	"engagement-engine/internal/models"
)

func TestScheduleRunsOnce(t *testing.T) {
	at := time.Date(2024, 11, 29, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, at.Add(-time.Minute))
	f.contact("Ana", "5511999990001", tags("black-friday"))
	f.contact("Bia", "5511999990002", tags("black-friday"))
	f.contact("Caio", "5511999990003")
	r := f.rule(ScheduleTrigger{ScheduleAt: at, TargetTag: "black-friday"}, "Oferta para {{nome}}")

	if got := f.run(TriggerSchedule).Rules[0]; got.Candidates != 0 {
		t.Fatalf("fired early: %+v", got)
	}

	f.clock.Set(at.Add(time.Minute))
	if got := f.run(TriggerSchedule).Rules[0]; got.Sent != 2 {
		t.Fatalf("summary = %+v", got)
	}
	f.clock.Advance(time.Hour)
	if got := f.run(TriggerSchedule).Rules[0]; got.Candidates != 0 {
		t.Errorf("ran twice: %+v", got)
	}
	if rows := f.logs(r.ID); len(rows) != 2 {
		t.Errorf("ledger rows = %d", len(rows))
	}
}

func TestScheduleWithFailuresIsNotRetried(t *testing.T) {
	at := time.Date(2024, 11, 29, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, at)
	f.sender.fail = map[string]error{"5511999990001": &ProviderError{Status: 500, Message: "boom"}}
	f.contact("Ana", "5511999990001")
	f.contact("Bia", "5511999990002")
	f.rule(ScheduleTrigger{ScheduleAt: at}, "Oferta")

	if got := f.run(TriggerSchedule).Rules[0]; got.Sent != 1 || got.Failed != 1 {
		t.Fatalf("summary = %+v", got)
	}
	f.clock.Advance(time.Hour)
	if got := f.run(TriggerSchedule).Rules[0]; got.Candidates != 0 {
		t.Errorf("retried: %+v", got)
	}
}

func TestScheduleAfterConfigurationErrorStillRuns(t *testing.T) {
	at := time.Date(2024, 11, 29, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, at)
	f.db.Model(&models.IntegrationCredential{}).Where("owner_id = ?", tenantID).Update("active", false)
	f.contact("Ana", "5511999990001")
	f.rule(ScheduleTrigger{ScheduleAt: at}, "Oferta")

	if got := f.run(TriggerSchedule).Rules[0]; got.ConfigurationError == "" {
		t.Fatalf("summary = %+v", got)
	}
	f.db.Model(&models.IntegrationCredential{}).Where("owner_id = ?", tenantID).Update("active", true)
	if got := f.run(TriggerSchedule).Rules[0]; got.Sent != 1 {
		t.Errorf("summary after fix = %+v", got)
	}
}
