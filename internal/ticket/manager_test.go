package ticket

import (
	"context"
	"errors"
	"testing"
	"time"

	"engagement-engine/internal/clock"
	"engagement-engine/internal/config"
	"engagement-engine/internal/dbtest"
	"engagement-engine/internal/models"
	"engagement-engine/internal/tenant"
)

var t0 = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type recorder struct {
	transitions []models.TicketHistory
}

func (r *recorder) OnTicketTransition(_ context.Context, _ models.Ticket, h models.TicketHistory) error {
	r.transitions = append(r.transitions, h)
	return nil
}

func newManager(t *testing.T) (*Manager, *clock.FixedClock, *recorder) {
	t.Helper()
	db := dbtest.Open(t)
	clk := clock.Fixed(t0)
	m := NewManager(db, tenant.NewResolver(db, nil, config.DefaultEngine(), nil), clk, nil)
	rec := &recorder{}
	m.SetListener(rec)
	return m, clk, rec
}

func str(s string) *string { return &s }

func TestCreateDeadlineByPriority(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()
	cases := map[string]time.Duration{
		models.PriorityUrgent: 4 * time.Hour,
		models.PriorityHigh:   8 * time.Hour,
		models.PriorityMedium: 24 * time.Hour,
		models.PriorityLow:    72 * time.Hour,
	}
	for priority, want := range cases {
		tk, err := m.Create(ctx, CreateInput{OwnerID: "t1", Title: "x", Priority: priority})
		if err != nil {
			t.Fatalf("Create(%s): %v", priority, err)
		}
		if !tk.SLADeadline.Equal(t0.Add(want)) {
			t.Errorf("%s deadline = %v, want T+%v", priority, tk.SLADeadline, want)
		}
	}
}

func TestCreateUsesTenantOverride(t *testing.T) {
	m, _, _ := newManager(t)
	m.db.Create(&models.TenantSettings{OwnerID: "t1", SLAHoursUrgente: 1})
	tk, err := m.Create(context.Background(), CreateInput{OwnerID: "t1", Title: "x", Priority: models.PriorityUrgent})
	if err != nil {
		t.Fatal(err)
	}
	if !tk.SLADeadline.Equal(t0.Add(time.Hour)) {
		t.Errorf("deadline = %v", tk.SLADeadline)
	}
}

func TestCreateInitialStatusAndNumbering(t *testing.T) {
	m, _, rec := newManager(t)
	ctx := context.Background()

	a, err := m.Create(ctx, CreateInput{OwnerID: "t1", Title: "a"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Create(ctx, CreateInput{OwnerID: "t1", Title: "b", AssignedTo: str("agent-1")})
	if err != nil {
		t.Fatal(err)
	}
	other, err := m.Create(ctx, CreateInput{OwnerID: "t2", Title: "c"})
	if err != nil {
		t.Fatal(err)
	}

	if a.Status != models.TicketOpenAI || b.Status != models.TicketAnalysis {
		t.Errorf("statuses = %s, %s", a.Status, b.Status)
	}
	if a.Number != 1 || b.Number != 2 || other.Number != 1 {
		t.Errorf("numbers = %d, %d, %d", a.Number, b.Number, other.Number)
	}
	if a.Priority != models.PriorityMedium {
		t.Errorf("default priority = %s", a.Priority)
	}
	if len(rec.transitions) != 3 {
		t.Errorf("listener saw %d transitions", len(rec.transitions))
	}
	hist, _ := m.History(ctx, a.ID)
	if len(hist) != 1 || hist[0].OldStatus != "" || hist[0].NewStatus != models.TicketOpenAI {
		t.Errorf("creation history = %+v", hist)
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()
	if _, err := m.Create(ctx, CreateInput{OwnerID: "t1", Title: "x", Priority: "altissima"}); !errors.Is(err, ErrInvalidPriority) {
		t.Errorf("err = %v", err)
	}
	if _, err := m.Create(ctx, CreateInput{OwnerID: "t1"}); err == nil {
		t.Error("missing title accepted")
	}
}

func TestResolveFromPending(t *testing.T) {
	m, clk, _ := newManager(t)
	ctx := context.Background()
	tk, _ := m.Create(ctx, CreateInput{OwnerID: "t1", Title: "x"})
	if _, _, err := m.Update(ctx, tk.ID, UpdateInput{Status: str(models.TicketPending)}); err != nil {
		t.Fatal(err)
	}

	clk.Advance(time.Hour)
	got, h, err := m.Update(ctx, tk.ID, UpdateInput{Status: str(models.TicketResolved), ActorID: "agent-1"})
	if err != nil {
		t.Fatal(err)
	}
	if got.ResolvedAt == nil || !got.ResolvedAt.Equal(t0.Add(time.Hour)) {
		t.Errorf("resolvedAt = %v", got.ResolvedAt)
	}
	if h.OldStatus != models.TicketPending || h.NewStatus != models.TicketResolved {
		t.Errorf("history = %s -> %s", h.OldStatus, h.NewStatus)
	}

	hist, _ := m.History(ctx, tk.ID)
	var closing int
	for _, row := range hist {
		if row.NewStatus == models.TicketResolved {
			closing++
		}
	}
	if closing != 1 {
		t.Errorf("%d history rows record the resolution", closing)
	}

	stored, _ := m.Get(ctx, tk.ID)
	if stored.ResolvedAt == nil {
		t.Error("resolvedAt not persisted")
	}
}

func TestReopenClearsResolvedAt(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()
	tk, _ := m.Create(ctx, CreateInput{OwnerID: "t1", Title: "x"})
	m.Update(ctx, tk.ID, UpdateInput{Status: str(models.TicketResolved)})

	got, _, err := m.Update(ctx, tk.ID, UpdateInput{Status: str(models.TicketPending)})
	if err != nil {
		t.Fatal(err)
	}
	if got.ResolvedAt != nil {
		t.Error("resolvedAt kept after reopen")
	}
	stored, _ := m.Get(ctx, tk.ID)
	if stored.ResolvedAt != nil {
		t.Error("resolvedAt still stored after reopen")
	}
}

func TestAssignForcesAnalysis(t *testing.T) {
	m, _, rec := newManager(t)
	ctx := context.Background()
	tk, _ := m.Create(ctx, CreateInput{OwnerID: "t1", Title: "x"})
	before, _ := m.History(ctx, tk.ID)

	got, h, err := m.Update(ctx, tk.ID, UpdateInput{AssignedTo: str("agent-1")})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.TicketAnalysis {
		t.Errorf("status = %s, want em_analise", got.Status)
	}
	if h.OldAssignedTo != nil || h.NewAssignedTo == nil || *h.NewAssignedTo != "agent-1" {
		t.Errorf("history assignee = %v -> %v", h.OldAssignedTo, h.NewAssignedTo)
	}
	if h.OldStatus != models.TicketOpenAI || h.NewStatus != models.TicketAnalysis {
		t.Errorf("history status = %s -> %s", h.OldStatus, h.NewStatus)
	}
	after, _ := m.History(ctx, tk.ID)
	if len(after)-len(before) != 1 {
		t.Errorf("appended %d history rows, want 1", len(after)-len(before))
	}
	if last := rec.transitions[len(rec.transitions)-1]; last.ID != h.ID {
		t.Error("listener not told about the assignment")
	}
}

func TestResendingAssigneeForcesAnalysis(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()
	tk, _ := m.Create(ctx, CreateInput{OwnerID: "t1", Title: "x", AssignedTo: str("agent-1")})
	if _, _, err := m.Update(ctx, tk.ID, UpdateInput{Status: str(models.TicketPending)}); err != nil {
		t.Fatal(err)
	}

	got, h, err := m.Update(ctx, tk.ID, UpdateInput{AssignedTo: str("agent-1")})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.TicketAnalysis {
		t.Errorf("status = %s, want em_analise", got.Status)
	}
	if h.OldStatus != models.TicketPending || !sameRef(h.OldAssignedTo, h.NewAssignedTo) {
		t.Errorf("history = %+v", h)
	}

	// Already in analysis with the same agent: nothing to record.
	if _, _, err := m.Update(ctx, tk.ID, UpdateInput{AssignedTo: str("agent-1")}); !errors.Is(err, ErrNoChange) {
		t.Errorf("repeat err = %v", err)
	}
}

func TestAssignWithExplicitClose(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()
	tk, _ := m.Create(ctx, CreateInput{OwnerID: "t1", Title: "x"})
	got, _, err := m.Update(ctx, tk.ID, UpdateInput{AssignedTo: str("agent-1"), Status: str(models.TicketResolved)})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.TicketResolved || got.ResolvedAt == nil {
		t.Errorf("status = %s resolvedAt = %v", got.Status, got.ResolvedAt)
	}
}

func TestPriorityChangeRestartsClock(t *testing.T) {
	m, clk, _ := newManager(t)
	ctx := context.Background()
	tk, _ := m.Create(ctx, CreateInput{OwnerID: "t1", Title: "x", Priority: models.PriorityLow})

	clk.Advance(10 * time.Hour)
	got, h, err := m.Update(ctx, tk.ID, UpdateInput{Priority: str(models.PriorityUrgent)})
	if err != nil {
		t.Fatal(err)
	}
	want := t0.Add(10*time.Hour + 4*time.Hour)
	if !got.SLADeadline.Equal(want) {
		t.Errorf("deadline = %v, want %v", got.SLADeadline, want)
	}
	if h.OldPriority != models.PriorityLow || h.NewPriority != models.PriorityUrgent {
		t.Errorf("history priority = %s -> %s", h.OldPriority, h.NewPriority)
	}
	if h.OldStatus != h.NewStatus {
		t.Error("priority change altered status")
	}
}

func TestUpdateErrors(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()
	tk, _ := m.Create(ctx, CreateInput{OwnerID: "t1", Title: "x"})

	if _, _, err := m.Update(ctx, tk.ID, UpdateInput{Status: str(models.TicketOpenAI)}); !errors.Is(err, ErrNoChange) {
		t.Errorf("no-op err = %v", err)
	}
	if _, _, err := m.Update(ctx, tk.ID, UpdateInput{Status: str("fechado")}); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("bad status err = %v", err)
	}
	if _, _, err := m.Update(ctx, "missing", UpdateInput{Status: str(models.TicketPending)}); !errors.Is(err, ErrTicketNotFound) {
		t.Errorf("missing err = %v", err)
	}
}

func TestCancel(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()
	tk, _ := m.Create(ctx, CreateInput{OwnerID: "t1", Title: "x"})
	got, h, err := m.Update(ctx, tk.ID, UpdateInput{Status: str(models.TicketCancelled), Note: "duplicate"})
	if err != nil {
		t.Fatal(err)
	}
	if got.ResolvedAt != nil {
		t.Error("cancel stamped resolvedAt")
	}
	if h.Note != "duplicate" || h.NewStatus != models.TicketCancelled {
		t.Errorf("history = %+v", h)
	}
}
