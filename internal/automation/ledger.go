package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"engagement-engine/internal/database"
	"engagement-engine/internal/models"

	"gorm.io/gorm"
)

// Subject identifies what a ledger row is about. Only the non-empty fields
// take part in lookups.
type Subject struct {
	ContactID      string
	ConversationID string
	TicketID       string
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Entry is one outcome to append to the ledger.
type Entry struct {
	OwnerID     string
	RuleID      string
	TriggerType TriggerType
	Subject     Subject
	Outcome     Outcome
	DedupKey    string
	At          time.Time
}

// Ledger is the append-only automation log. A row for (rule, subject) inside
// the relevant window is the only proof that a trigger already fired. Times
// are stored in UTC.
type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// fired scopes a query to rows that count as a firing. Configuration failures
// never sent anything, so they do not block a later run.
func (l *Ledger) fired(ctx context.Context, ruleID string, subject Subject) *gorm.DB {
	q := l.db.WithContext(ctx).Model(&models.AutomationLog{}).
		Where("rule_id = ? AND outcome <> ?", ruleID, models.OutcomeConfigurationError)
	if subject.ContactID != "" {
		q = q.Where("contact_id = ?", subject.ContactID)
	}
	if subject.ConversationID != "" {
		q = q.Where("conversation_id = ?", subject.ConversationID)
	}
	if subject.TicketID != "" {
		q = q.Where("ticket_id = ?", subject.TicketID)
	}
	return q
}

// HasFired reports whether rule already fired for subject at or after
// windowStart. A zero windowStart means "ever".
func (l *Ledger) HasFired(ctx context.Context, ruleID string, subject Subject, windowStart time.Time) (bool, error) {
	q := l.fired(ctx, ruleID, subject)
	if !windowStart.IsZero() {
		q = q.Where("created_at >= ?", windowStart.UTC())
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, fmt.Errorf("ledger lookup: %w", err)
	}
	return count > 0, nil
}

// HasKey reports whether an event with this dedup key was already recorded.
func (l *Ledger) HasKey(ctx context.Context, key string) (bool, error) {
	var count int64
	err := l.db.WithContext(ctx).Model(&models.AutomationLog{}).
		Where("dedup_key = ?", key).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("ledger lookup: %w", err)
	}
	return count > 0, nil
}

// Attempts counts the firings for subject at or after since and returns the
// time of the most recent one.
func (l *Ledger) Attempts(ctx context.Context, ruleID string, subject Subject, since time.Time) (int, time.Time, error) {
	var rows []models.AutomationLog
	err := l.fired(ctx, ruleID, subject).
		Where("created_at >= ?", since.UTC()).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("ledger attempts: %w", err)
	}
	if len(rows) == 0 {
		return 0, time.Time{}, nil
	}
	return len(rows), rows[0].CreatedAt, nil
}

// Record appends entry. A uniqueness conflict on the dedup key means another
// run already recorded the same event; it is reported as
// ErrDuplicateSuppressed and nothing is written.
func (l *Ledger) Record(ctx context.Context, entry Entry) (*models.AutomationLog, error) {
	row := &models.AutomationLog{
		OwnerID:           entry.OwnerID,
		RuleID:            entry.RuleID,
		TriggerType:       string(entry.TriggerType),
		ContactID:         optional(entry.Subject.ContactID),
		ConversationID:    optional(entry.Subject.ConversationID),
		TicketID:          optional(entry.Subject.TicketID),
		Status:            entry.Outcome.Status(),
		Outcome:           entry.Outcome.Kind,
		Details:           entry.Outcome.Details(),
		ProviderMessageID: entry.Outcome.MessageID,
		CreatedAt:         entry.At.UTC(),
	}
	// Configuration failures are not events, so they never claim a key.
	if entry.Outcome.Kind != models.OutcomeConfigurationError {
		row.DedupKey = optional(entry.DedupKey)
	}

	err := l.db.WithContext(ctx).Create(row).Error
	if database.IsUniqueViolation(err) {
		return nil, ErrDuplicateSuppressed
	}
	if err != nil {
		return nil, fmt.Errorf("ledger record: %w", err)
	}
	return row, nil
}

// List returns the most recent rows of a tenant.
func (l *Ledger) List(ctx context.Context, ownerID string, limit int) ([]models.AutomationLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var rows []models.AutomationLog
	err := l.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// IsDuplicate reports whether err is a suppressed duplicate.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateSuppressed)
}
