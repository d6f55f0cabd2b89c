package tenant

import (
	"context"
	"testing"
	"time"

	"engagement-engine/internal/config"
	"engagement-engine/internal/dbtest"
	"engagement-engine/internal/models"
)

func TestEffectiveOwner(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	admin := models.Profile{Name: "Admin", Role: RoleAdmin}
	db.Create(&admin)
	agent := models.Profile{Name: "Agent", Role: RoleAgent, CreatedBy: &admin.ID}
	db.Create(&agent)

	r := NewResolver(db, nil, config.DefaultEngine(), nil)
	cases := map[string]string{
		admin.ID:  admin.ID,
		agent.ID:  admin.ID,
		"unknown": "unknown",
	}
	for owner, want := range cases {
		got, err := r.EffectiveOwner(ctx, owner)
		if err != nil {
			t.Fatalf("EffectiveOwner(%s): %v", owner, err)
		}
		if got != want {
			t.Errorf("EffectiveOwner(%s) = %s, want %s", owner, got, want)
		}
	}
	if _, err := r.EffectiveOwner(ctx, ""); err == nil {
		t.Error("empty owner should fail")
	}
}

func TestResolveSettingsAndDefaults(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	db.Create(&models.TenantSettings{OwnerID: "t1", Timezone: "Europe/Lisbon", SLAHoursUrgente: 2})

	r := NewResolver(db, NewMemoryCache(), config.DefaultEngine(), nil)
	tn, err := r.Resolve(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if tn.Location().String() != "Europe/Lisbon" {
		t.Errorf("location = %s", tn.Location())
	}
	if got := tn.SLAHours(models.PriorityUrgent); got != 2 {
		t.Errorf("urgente = %d, want override 2", got)
	}
	if got := tn.SLAHours(models.PriorityLow); got != 72 {
		t.Errorf("baixa = %d, want default 72", got)
	}

	other, err := r.Resolve(ctx, "t2")
	if err != nil {
		t.Fatal(err)
	}
	if other.Location().String() != "America/Sao_Paulo" {
		t.Errorf("default location = %s", other.Location())
	}
}

func TestResolveUsesCacheUntilSaved(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	r := NewResolver(db, NewMemoryCache(), config.DefaultEngine(), nil)
	if err := r.SaveSettings(ctx, models.TenantSettings{OwnerID: "t1", AIEnabled: true}); err != nil {
		t.Fatal(err)
	}
	if tn, _ := r.Resolve(ctx, "t1"); !tn.Settings.AIEnabled {
		t.Fatal("AIEnabled not loaded")
	}

	// A direct write is not seen while cached.
	db.Model(&models.TenantSettings{}).Where("owner_id = ?", "t1").Update("ai_enabled", false)
	if tn, _ := r.Resolve(ctx, "t1"); !tn.Settings.AIEnabled {
		t.Error("expected cached settings")
	}

	if err := r.SaveSettings(ctx, models.TenantSettings{OwnerID: "t1", AIEnabled: false}); err != nil {
		t.Fatal(err)
	}
	if tn, _ := r.Resolve(ctx, "t1"); tn.Settings.AIEnabled {
		t.Error("cache not invalidated on save")
	}

	if err := r.SaveSettings(ctx, models.TenantSettings{OwnerID: "t1", Timezone: "Mars/Olympus"}); err == nil {
		t.Error("invalid timezone accepted")
	}
}

func TestDayStart(t *testing.T) {
	loc, _ := time.LoadLocation("America/Sao_Paulo")
	tn := Tenant{loc: loc}
	// 02:00 UTC is still the previous day in Sao Paulo.
	now := time.Date(2024, 6, 16, 2, 0, 0, 0, time.UTC)
	got := tn.DayStart(now)
	want := time.Date(2024, 6, 15, 0, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("DayStart = %v, want %v", got, want)
	}
}

func TestMembers(t *testing.T) {
	db := dbtest.Open(t)
	admin := models.Profile{Name: "Admin", Role: RoleAdmin}
	db.Create(&admin)
	agent := models.Profile{Name: "Agent", Role: RoleAgent, CreatedBy: &admin.ID}
	db.Create(&agent)

	r := NewResolver(db, nil, config.DefaultEngine(), nil)
	members, err := r.Members(context.Background(), admin.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 || members[0] != admin.ID || members[1] != agent.ID {
		t.Errorf("members = %v", members)
	}
}
