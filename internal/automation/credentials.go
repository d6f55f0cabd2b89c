package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"engagement-engine/internal/models"
	"engagement-engine/internal/whatsapp"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Credential is a decoded integration credential.
type Credential struct {
	OwnerID string
	Type    string
	Config  map[string]string
}

// CredentialStore reads per-tenant integration credentials. For WhatsApp, an
// environment-provided fallback is used when the tenant has no row at all.
type CredentialStore struct {
	db       *gorm.DB
	fallback whatsapp.Credentials
}

func NewCredentialStore(db *gorm.DB, fallback whatsapp.Credentials) *CredentialStore {
	return &CredentialStore{db: db, fallback: fallback}
}

// Resolve returns the active credential of the given type, or a
// *ConfigurationError.
func (s *CredentialStore) Resolve(ctx context.Context, tenantID, typ string) (Credential, error) {
	var row models.IntegrationCredential
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND type = ?", tenantID, typ).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Credential{}, &ConfigurationError{TenantID: tenantID, Type: typ, Reason: ReasonMissing}
	}
	if err != nil {
		return Credential{}, fmt.Errorf("load %s credential: %w", typ, err)
	}
	if !row.Active {
		return Credential{}, &ConfigurationError{TenantID: tenantID, Type: typ, Reason: ReasonInactive}
	}

	cred := Credential{OwnerID: row.OwnerID, Type: row.Type, Config: map[string]string{}}
	if len(row.Config) > 0 {
		if err := json.Unmarshal(row.Config, &cred.Config); err != nil {
			return Credential{}, &ConfigurationError{TenantID: tenantID, Type: typ, Reason: ReasonIncomplete}
		}
	}
	return cred, nil
}

// WhatsApp resolves the sending credentials of a tenant.
func (s *CredentialStore) WhatsApp(ctx context.Context, tenantID string) (whatsapp.Credentials, error) {
	cred, err := s.Resolve(ctx, tenantID, models.IntegrationWhatsApp)
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) && cfgErr.Reason == ReasonMissing && s.fallback.AccessToken != "" && s.fallback.PhoneNumberID != "" {
		return s.fallback, nil
	}
	if err != nil {
		return whatsapp.Credentials{}, err
	}

	out := whatsapp.Credentials{
		AccessToken:   cred.Config["access_token"],
		PhoneNumberID: cred.Config["phone_number_id"],
	}
	if out.AccessToken == "" || out.PhoneNumberID == "" {
		return whatsapp.Credentials{}, &ConfigurationError{TenantID: tenantID, Type: models.IntegrationWhatsApp, Reason: ReasonIncomplete}
	}
	return out, nil
}

// TenantByPhoneNumberID finds the tenant that owns a receiving number. The
// second result is false when no tenant claims it.
func (s *CredentialStore) TenantByPhoneNumberID(ctx context.Context, phoneNumberID string) (string, bool, error) {
	var row models.IntegrationCredential
	err := s.db.WithContext(ctx).
		Where("type = ?", models.IntegrationWhatsApp).
		Where(datatypes.JSONQuery("config").Equals(phoneNumberID, "phone_number_id")).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return row.OwnerID, true, nil
}

// SaveWhatsApp stores or replaces a tenant's WhatsApp credential.
func (s *CredentialStore) SaveWhatsApp(ctx context.Context, tenantID string, creds whatsapp.Credentials, active bool) error {
	return s.Save(ctx, tenantID, models.IntegrationWhatsApp, map[string]string{
		"access_token":    creds.AccessToken,
		"phone_number_id": creds.PhoneNumberID,
	}, active)
}

// Save stores or replaces a tenant's credential of the given type.
func (s *CredentialStore) Save(ctx context.Context, tenantID, typ string, values map[string]string, active bool) error {
	config, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.IntegrationCredential
		err := tx.Where("owner_id = ? AND type = ?", tenantID, typ).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			row = models.IntegrationCredential{OwnerID: tenantID, Type: typ}
		} else if err != nil {
			return err
		}
		row.Config = datatypes.JSON(config)
		row.Active = active
		return tx.Save(&row).Error
	})
}

// RecordTest stores the result of a connectivity check.
func (s *CredentialStore) RecordTest(ctx context.Context, tenantID, typ, status string) error {
	return s.db.WithContext(ctx).Model(&models.IntegrationCredential{}).
		Where("owner_id = ? AND type = ?", tenantID, typ).
		Update("last_test_status", status).Error
}
