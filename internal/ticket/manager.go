// Package ticket owns the ticket state machine. Status, priority and
// assignment change only through Manager.Update, which keeps the SLA deadline
// and the transition history consistent.
package ticket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"engagement-engine/internal/clock"
	"engagement-engine/internal/database"
	"engagement-engine/internal/metrics"
	"engagement-engine/internal/models"
	"engagement-engine/internal/tenant"

	"gorm.io/gorm"
)

var (
	ErrTicketNotFound  = errors.New("ticket not found")
	ErrInvalidStatus   = errors.New("invalid ticket status")
	ErrInvalidPriority = errors.New("invalid ticket priority")
	ErrNoChange        = errors.New("update changes nothing")
)

// Listener is told about every committed transition.
type Listener interface {
	OnTicketTransition(ctx context.Context, t models.Ticket, h models.TicketHistory) error
}

type Manager struct {
	db       *gorm.DB
	tenants  *tenant.Resolver
	clock    clock.Clock
	listener Listener
	logger   *slog.Logger
}

func NewManager(db *gorm.DB, tenants *tenant.Resolver, clk clock.Clock, logger *slog.Logger) *Manager {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{db: db, tenants: tenants, clock: clk, logger: logger}
}

func (m *Manager) SetListener(l Listener) {
	m.listener = l
}

type CreateInput struct {
	OwnerID     string  `json:"owner_id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Priority    string  `json:"priority"`
	AssignedTo  *string `json:"assigned_to"`
	ContactID   *string `json:"contact_id"`
	CreatedBy   string  `json:"created_by"`
}

func deadline(from time.Time, hours int) time.Time {
	return from.Add(time.Duration(hours) * time.Hour).UTC()
}

func assigned(p *string) bool {
	return p != nil && *p != ""
}

// Create opens a ticket: em_analise when it starts assigned, aberto_ia
// otherwise. Numbers are sequential per tenant.
func (m *Manager) Create(ctx context.Context, in CreateInput) (*models.Ticket, error) {
	if in.Title == "" {
		return nil, errors.New("title is required")
	}
	if in.Priority == "" {
		in.Priority = models.PriorityMedium
	}
	if !models.ValidPriority(in.Priority) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPriority, in.Priority)
	}
	tn, err := m.tenants.Resolve(ctx, in.OwnerID)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now().UTC()
	t := &models.Ticket{
		OwnerID:     tn.ID,
		Title:       in.Title,
		Description: in.Description,
		Priority:    in.Priority,
		Status:      models.TicketOpenAI,
		SLADeadline: deadline(now, tn.SLAHours(in.Priority)),
		ContactID:   in.ContactID,
		CreatedBy:   in.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if assigned(in.AssignedTo) {
		t.AssignedTo = in.AssignedTo
		t.Status = models.TicketAnalysis
	}
	if t.CreatedBy == "" {
		t.CreatedBy = in.OwnerID
	}

	history := &models.TicketHistory{
		OwnerID:       tn.ID,
		NewStatus:     t.Status,
		NewPriority:   t.Priority,
		NewAssignedTo: t.AssignedTo,
		Note:          "ticket created",
		CreatedBy:     t.CreatedBy,
		CreatedAt:     now,
	}

	// Two concurrent creates can pick the same number; the unique index
	// rejects one of them and it retries with the next number.
	for attempt := 0; ; attempt++ {
		err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var max int
			if err := tx.Model(&models.Ticket{}).
				Where("owner_id = ?", tn.ID).
				Select("COALESCE(MAX(number), 0)").
				Scan(&max).Error; err != nil {
				return err
			}
			t.ID = ""
			t.Number = max + 1
			if err := tx.Create(t).Error; err != nil {
				return err
			}
			history.ID = ""
			history.TicketID = t.ID
			return tx.Create(history).Error
		})
		if err == nil || !database.IsUniqueViolation(err) || attempt == 2 {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("create ticket: %w", err)
	}

	metrics.TicketTransition(t.Status)
	m.notify(ctx, *t, *history)
	return t, nil
}

func (m *Manager) Get(ctx context.Context, id string) (*models.Ticket, error) {
	var t models.Ticket
	err := m.db.WithContext(ctx).Where("id = ?", id).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// History returns the transitions of a ticket, oldest first.
func (m *Manager) History(ctx context.Context, id string) ([]models.TicketHistory, error) {
	var rows []models.TicketHistory
	err := m.db.WithContext(ctx).
		Where("ticket_id = ?", id).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	return rows, err
}

// UpdateInput lists the requested changes. Nil fields are left alone;
// Unassign clears the assignee.
type UpdateInput struct {
	Status     *string `json:"status"`
	Priority   *string `json:"priority"`
	AssignedTo *string `json:"assigned_to"`
	Unassign   bool    `json:"unassign"`
	Note       string  `json:"note"`
	ActorID    string  `json:"actor_id"`
}

func sameRef(a, b *string) bool {
	if !assigned(a) || !assigned(b) {
		return !assigned(a) && !assigned(b)
	}
	return *a == *b
}

// Update applies one transition and records it as a single history row.
//
// Any update that sets an assignee, even the current one, moves the ticket to
// em_analise unless the same update closes or cancels it. A priority change restarts the SLA window from now.
// Entering concluido stamps resolvedAt; leaving it (or cancelado) clears it.
func (m *Manager) Update(ctx context.Context, id string, in UpdateInput) (*models.Ticket, *models.TicketHistory, error) {
	if in.Status != nil && !models.ValidTicketStatus(*in.Status) {
		return nil, nil, fmt.Errorf("%w: %q", ErrInvalidStatus, *in.Status)
	}
	if in.Priority != nil && !models.ValidPriority(*in.Priority) {
		return nil, nil, fmt.Errorf("%w: %q", ErrInvalidPriority, *in.Priority)
	}

	current, err := m.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	tn, err := m.tenants.Resolve(ctx, current.OwnerID)
	if err != nil {
		return nil, nil, err
	}

	var t models.Ticket
	var history models.TicketHistory
	now := m.clock.Now().UTC()

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("id = ?", id).First(&t).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTicketNotFound
		}
		if err != nil {
			return err
		}
		old := t

		if in.Status != nil {
			t.Status = *in.Status
		}
		if in.Unassign {
			t.AssignedTo = nil
		} else if assigned(in.AssignedTo) {
			t.AssignedTo = in.AssignedTo
		}
		assigneeChanged := !sameRef(old.AssignedTo, t.AssignedTo)
		if !in.Unassign && assigned(in.AssignedTo) &&
			t.Status != models.TicketResolved && t.Status != models.TicketCancelled {
			t.Status = models.TicketAnalysis
		}

		priorityChanged := in.Priority != nil && *in.Priority != old.Priority
		if priorityChanged {
			t.Priority = *in.Priority
			t.SLADeadline = deadline(now, tn.SLAHours(t.Priority))
		}

		statusChanged := t.Status != old.Status
		if !statusChanged && !priorityChanged && !assigneeChanged && in.Note == "" {
			return ErrNoChange
		}
		if statusChanged {
			if t.Status == models.TicketResolved {
				t.ResolvedAt = &now
			} else {
				t.ResolvedAt = nil
			}
		}
		t.UpdatedAt = now

		if err := tx.Save(&t).Error; err != nil {
			return err
		}
		history = models.TicketHistory{
			TicketID:      t.ID,
			OwnerID:       t.OwnerID,
			OldStatus:     old.Status,
			NewStatus:     t.Status,
			OldPriority:   old.Priority,
			NewPriority:   t.Priority,
			OldAssignedTo: old.AssignedTo,
			NewAssignedTo: t.AssignedTo,
			Note:          in.Note,
			CreatedBy:     in.ActorID,
			CreatedAt:     now,
		}
		return tx.Create(&history).Error
	})
	if err != nil {
		return nil, nil, err
	}

	if history.OldStatus != history.NewStatus {
		metrics.TicketTransition(history.NewStatus)
	}
	m.notify(ctx, t, history)
	return &t, &history, nil
}

func (m *Manager) notify(ctx context.Context, t models.Ticket, h models.TicketHistory) {
	if m.listener == nil {
		return
	}
	if err := m.listener.OnTicketTransition(ctx, t, h); err != nil {
		m.logger.Error("ticket transition listener", "tenant", t.OwnerID, "ticket", t.ID, "error", err)
	}
}

// List returns the tickets of a tenant, newest first, optionally by status.
func (m *Manager) List(ctx context.Context, ownerID, status string) ([]models.Ticket, error) {
	q := m.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var tickets []models.Ticket
	err := q.Order("number DESC").Find(&tickets).Error
	return tickets, err
}
