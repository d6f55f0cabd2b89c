package automation

import (
	"context"
	"errors"
	"testing"

	"engagement-engine/internal/dbtest"
	"engagement-engine/internal/models"
	"engagement-engine/internal/whatsapp"

	"gorm.io/datatypes"
)

func TestCredentialResolution(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	fallback := whatsapp.Credentials{AccessToken: "env-token", PhoneNumberID: "env-pn"}
	store := NewCredentialStore(db, fallback)

	store.SaveWhatsApp(ctx, "active", whatsapp.Credentials{AccessToken: "tok", PhoneNumberID: "pn-1"}, true)
	store.SaveWhatsApp(ctx, "inactive", whatsapp.Credentials{AccessToken: "tok", PhoneNumberID: "pn-2"}, false)
	store.SaveWhatsApp(ctx, "partial", whatsapp.Credentials{AccessToken: "tok"}, true)
	db.Create(&models.IntegrationCredential{OwnerID: "garbled", Type: models.IntegrationWhatsApp, Config: datatypes.JSON(`[1,2]`), Active: true})

	cases := []struct {
		tenant string
		want   whatsapp.Credentials
		reason ConfigurationReason
	}{
		{"active", whatsapp.Credentials{AccessToken: "tok", PhoneNumberID: "pn-1"}, ""},
		{"absent", fallback, ""},
		{"inactive", whatsapp.Credentials{}, ReasonInactive},
		{"partial", whatsapp.Credentials{}, ReasonIncomplete},
		{"garbled", whatsapp.Credentials{}, ReasonIncomplete},
	}
	for _, tc := range cases {
		t.Run(tc.tenant, func(t *testing.T) {
			got, err := store.WhatsApp(ctx, tc.tenant)
			if tc.reason == "" {
				if err != nil || got != tc.want {
					t.Fatalf("WhatsApp = %+v, %v", got, err)
				}
				return
			}
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) || cfgErr.Reason != tc.reason {
				t.Fatalf("err = %v, want %s", err, tc.reason)
			}
		})
	}

	noFallback := NewCredentialStore(db, whatsapp.Credentials{})
	var cfgErr *ConfigurationError
	if _, err := noFallback.WhatsApp(ctx, "absent"); !errors.As(err, &cfgErr) || cfgErr.Reason != ReasonMissing {
		t.Errorf("err = %v", err)
	}
}

func TestTenantByPhoneNumberID(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	store := NewCredentialStore(db, whatsapp.Credentials{})
	store.SaveWhatsApp(ctx, "t1", whatsapp.Credentials{AccessToken: "a", PhoneNumberID: "111"}, true)
	store.SaveWhatsApp(ctx, "t2", whatsapp.Credentials{AccessToken: "b", PhoneNumberID: "222"}, true)

	owner, ok, err := store.TenantByPhoneNumberID(ctx, "222")
	if err != nil || !ok || owner != "t2" {
		t.Errorf("lookup = %q %v %v", owner, ok, err)
	}
	if _, ok, _ := store.TenantByPhoneNumberID(ctx, "333"); ok {
		t.Error("unknown number matched")
	}
}

func TestSaveWhatsAppReplaces(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	store := NewCredentialStore(db, whatsapp.Credentials{})
	store.SaveWhatsApp(ctx, "t1", whatsapp.Credentials{AccessToken: "old", PhoneNumberID: "111"}, true)
	if err := store.SaveWhatsApp(ctx, "t1", whatsapp.Credentials{AccessToken: "new", PhoneNumberID: "111"}, true); err != nil {
		t.Fatal(err)
	}
	var count int64
	db.Model(&models.IntegrationCredential{}).Where("owner_id = ?", "t1").Count(&count)
	if count != 1 {
		t.Errorf("rows = %d", count)
	}
	got, _ := store.WhatsApp(ctx, "t1")
	if got.AccessToken != "new" {
		t.Errorf("token = %q", got.AccessToken)
	}

	if err := store.RecordTest(ctx, "t1", models.IntegrationWhatsApp, "ok"); err != nil {
		t.Fatal(err)
	}
	var row models.IntegrationCredential
	db.Where("owner_id = ?", "t1").First(&row)
	if row.LastTestStatus != "ok" {
		t.Errorf("last test = %q", row.LastTestStatus)
	}
}
