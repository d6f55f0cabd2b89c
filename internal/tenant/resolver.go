// Package tenant finds the effective tenant of a record and its settings.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	_ "time/tzdata"

	"engagement-engine/internal/config"
	"engagement-engine/internal/models"

	"gorm.io/gorm"
)

const (
	RoleAdmin = "admin"
	RoleAgent = "agent"
)

var ErrInvalidTimezone = errors.New("invalid timezone")

// Tenant is a resolved tenant with its effective settings.
type Tenant struct {
	ID       string
	Settings models.TenantSettings

	loc      *time.Location
	defaults config.Engine
}

// Location is the tenant's time zone; an empty or unknown zone falls back to
// the engine default.
func (t Tenant) Location() *time.Location {
	if t.loc != nil {
		return t.loc
	}
	return time.UTC
}

// SLAHours returns the resolution window for priority, in hours.
func (t Tenant) SLAHours(priority string) int {
	var override int
	switch priority {
	case models.PriorityUrgent:
		override = t.Settings.SLAHoursUrgente
	case models.PriorityHigh:
		override = t.Settings.SLAHoursAlta
	case models.PriorityMedium:
		override = t.Settings.SLAHoursMedia
	case models.PriorityLow:
		override = t.Settings.SLAHoursBaixa
	}
	if override > 0 {
		return override
	}
	return t.defaults.SLAHours[priority]
}

// DayStart is midnight of now's day in the tenant's zone.
func (t Tenant) DayStart(now time.Time) time.Time {
	local := now.In(t.Location())
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, t.Location())
}

type Resolver struct {
	db       *gorm.DB
	cache    Cache
	defaults config.Engine
	logger   *slog.Logger
}

func NewResolver(db *gorm.DB, cache Cache, defaults config.Engine, logger *slog.Logger) *Resolver {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{db: db, cache: cache, defaults: defaults, logger: logger}
}

// EffectiveOwner maps ownerID to the tenant that owns its configuration.
// Agents delegate to the admin that created them; anything else owns itself.
func (r *Resolver) EffectiveOwner(ctx context.Context, ownerID string) (string, error) {
	if ownerID == "" {
		return "", errors.New("empty owner reference")
	}
	var profile models.Profile
	err := r.db.WithContext(ctx).Where("id = ?", ownerID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ownerID, nil
	}
	if err != nil {
		return "", fmt.Errorf("load profile %s: %w", ownerID, err)
	}
	if profile.Role == RoleAgent && profile.CreatedBy != nil && *profile.CreatedBy != "" {
		return *profile.CreatedBy, nil
	}
	return ownerID, nil
}

// Resolve returns the effective tenant of ownerID with its settings.
func (r *Resolver) Resolve(ctx context.Context, ownerID string) (Tenant, error) {
	tenantID, err := r.EffectiveOwner(ctx, ownerID)
	if err != nil {
		return Tenant{}, err
	}
	settings, err := r.settings(ctx, tenantID)
	if err != nil {
		return Tenant{}, err
	}
	return r.build(tenantID, settings), nil
}

func (r *Resolver) settings(ctx context.Context, tenantID string) (models.TenantSettings, error) {
	if s, ok, err := r.cache.Get(ctx, tenantID); err != nil {
		r.logger.Warn("tenant cache read failed", "tenant", tenantID, "error", err)
	} else if ok {
		return s, nil
	}

	var s models.TenantSettings
	err := r.db.WithContext(ctx).Where("owner_id = ?", tenantID).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s = models.TenantSettings{OwnerID: tenantID}
	} else if err != nil {
		return models.TenantSettings{}, fmt.Errorf("load settings of %s: %w", tenantID, err)
	}

	if err := r.cache.Set(ctx, s); err != nil {
		r.logger.Warn("tenant cache write failed", "tenant", tenantID, "error", err)
	}
	return s, nil
}

func (r *Resolver) build(tenantID string, s models.TenantSettings) Tenant {
	t := Tenant{ID: tenantID, Settings: s, defaults: r.defaults}
	if s.Timezone != "" {
		if loc, err := time.LoadLocation(s.Timezone); err == nil {
			t.loc = loc
			return t
		}
		r.logger.Warn("invalid tenant timezone", "tenant", tenantID, "timezone", s.Timezone)
	}
	if loc, err := time.LoadLocation(r.defaults.DefaultTimezone); err == nil {
		t.loc = loc
	}
	return t
}

// SaveSettings stores settings and drops the cached copy.
func (r *Resolver) SaveSettings(ctx context.Context, s models.TenantSettings) error {
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTimezone, err)
		}
	}
	if err := r.db.WithContext(ctx).Save(&s).Error; err != nil {
		return err
	}
	return r.cache.Invalidate(ctx, s.OwnerID)
}

// ActiveTenants lists tenants that own at least one active automation rule.
func (r *Resolver) ActiveTenants(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.AutomationRule{}).
		Where("active = ?", true).
		Distinct("owner_id").
		Order("owner_id").
		Pluck("owner_id", &ids).Error
	return ids, err
}

// Members lists the owner references whose records belong to tenantID: the
// tenant itself and the agents it created.
func (r *Resolver) Members(ctx context.Context, tenantID string) ([]string, error) {
	var agents []string
	err := r.db.WithContext(ctx).Model(&models.Profile{}).
		Where("created_by = ? AND role = ?", tenantID, RoleAgent).
		Pluck("id", &agents).Error
	if err != nil {
		return nil, fmt.Errorf("load members of %s: %w", tenantID, err)
	}
	return append([]string{tenantID}, agents...), nil
}
