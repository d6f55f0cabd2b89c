package automation

import (
	"context"
	"errors"
	"fmt"

	"engagement-engine/internal/models"

	"gorm.io/gorm"
)

var ErrSettingNotFound = errors.New("notification setting not found")

type NotificationInput struct {
	Event           string  `json:"event"`
	StatusFrom      *string `json:"status_from"`
	StatusTo        *string `json:"status_to"`
	NotifyCreator   bool    `json:"notify_creator"`
	NotifyAssignee  bool    `json:"notify_assignee"`
	MessageTemplate string  `json:"message_template"`
	Active          bool    `json:"active"`
}

func (in NotificationInput) validate() error {
	if in.Event == "" {
		in.Event = models.EventStatusChange
	}
	if in.Event != models.EventStatusChange {
		return fmt.Errorf("%w: unknown event %q", ErrInvalidRule, in.Event)
	}
	for _, s := range []*string{in.StatusFrom, in.StatusTo} {
		if s != nil && !models.ValidTicketStatus(*s) {
			return fmt.Errorf("%w: unknown ticket status %q", ErrInvalidRule, *s)
		}
	}
	if !in.NotifyCreator && !in.NotifyAssignee {
		return fmt.Errorf("%w: nobody to notify", ErrInvalidRule)
	}
	return nil
}

type NotificationStore struct {
	db *gorm.DB
}

func NewNotificationStore(db *gorm.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

func (s *NotificationStore) Create(ctx context.Context, ownerID string, in NotificationInput) (*models.NotificationSetting, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	setting := &models.NotificationSetting{OwnerID: ownerID}
	apply(setting, in)
	if err := s.db.WithContext(ctx).Create(setting).Error; err != nil {
		return nil, err
	}
	return setting, nil
}

func (s *NotificationStore) Update(ctx context.Context, ownerID, id string, in NotificationInput) (*models.NotificationSetting, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	var setting models.NotificationSetting
	err := s.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSettingNotFound
	}
	if err != nil {
		return nil, err
	}
	apply(&setting, in)
	if err := s.db.WithContext(ctx).Save(&setting).Error; err != nil {
		return nil, err
	}
	return &setting, nil
}

func apply(setting *models.NotificationSetting, in NotificationInput) {
	setting.Event = in.Event
	if setting.Event == "" {
		setting.Event = models.EventStatusChange
	}
	setting.StatusFrom = in.StatusFrom
	setting.StatusTo = in.StatusTo
	setting.NotifyCreator = in.NotifyCreator
	setting.NotifyAssignee = in.NotifyAssignee
	setting.MessageTemplate = in.MessageTemplate
	setting.Active = in.Active
}

func (s *NotificationStore) Delete(ctx context.Context, ownerID, id string) error {
	res := s.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).Delete(&models.NotificationSetting{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSettingNotFound
	}
	return nil
}

func (s *NotificationStore) List(ctx context.Context, ownerID string) ([]models.NotificationSetting, error) {
	var settings []models.NotificationSetting
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC, id ASC").
		Find(&settings).Error
	return settings, err
}
