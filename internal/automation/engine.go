package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"engagement-engine/internal/clock"
	"engagement-engine/internal/metrics"
	"engagement-engine/internal/models"
	"engagement-engine/internal/tenant"
	"engagement-engine/internal/whatsapp"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Publisher receives live events for dashboards.
type Publisher interface {
	Publish(tenantID, eventType string, data interface{})
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, string, interface{}) {}

const (
	EventAutomationLog    = "automation_log"
	EventTicketTransition = "ticket_transition"
)

// SweepTriggers are the trigger kinds evaluated by polling.
var SweepTriggers = []TriggerType{TriggerBirthday, TriggerNoResponse, TriggerSchedule}

type Options struct {
	Clock     clock.Clock
	SendDelay time.Duration
	Events    Publisher
	Logger    *slog.Logger
}

// Engine evaluates automation rules and delivers what they produce. Tenant
// identity is always passed explicitly; the engine holds no per-tenant state.
type Engine struct {
	db         *gorm.DB
	ledger     *Ledger
	creds      *CredentialStore
	dispatcher *Dispatcher
	tenants    *tenant.Resolver
	clock      clock.Clock
	sendDelay  time.Duration
	events     Publisher
	logger     *slog.Logger
}

func NewEngine(db *gorm.DB, tenants *tenant.Resolver, creds *CredentialStore, dispatcher *Dispatcher, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Events == nil {
		opts.Events = noopPublisher{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		db:         db,
		ledger:     NewLedger(db),
		creds:      creds,
		dispatcher: dispatcher,
		tenants:    tenants,
		clock:      opts.Clock,
		sendDelay:  opts.SendDelay,
		events:     opts.Events,
		logger:     opts.Logger,
	}
}

func (e *Engine) Ledger() *Ledger { return e.ledger }

// RuleSummary reports what one rule evaluation did.
type RuleSummary struct {
	RuleID             string      `json:"rule_id"`
	Name               string      `json:"name"`
	Trigger            TriggerType `json:"trigger"`
	Candidates         int         `json:"candidates"`
	Sent               int         `json:"sent"`
	Failed             int         `json:"failed"`
	Duplicates         int         `json:"duplicates"`
	ConfigurationError string      `json:"configuration_error,omitempty"`
	Skipped            string      `json:"skipped,omitempty"`
}

type TenantSummary struct {
	TenantID string        `json:"tenant_id"`
	Rules    []RuleSummary `json:"rules"`
	Error    string        `json:"error,omitempty"`
}

// RunTenant evaluates every active rule of the given kinds for one tenant.
// A failing rule never stops its siblings.
func (e *Engine) RunTenant(ctx context.Context, tenantID string, kinds []TriggerType) TenantSummary {
	summary := TenantSummary{TenantID: tenantID}
	tn, err := e.tenants.Resolve(ctx, tenantID)
	if err != nil {
		summary.Error = err.Error()
		e.logger.Error("resolve tenant", "tenant", tenantID, "error", err)
		return summary
	}

	rules, err := e.activeRules(ctx, tn.ID, kinds...)
	if err != nil {
		summary.Error = err.Error()
		e.logger.Error("load rules", "tenant", tn.ID, "error", err)
		return summary
	}
	for _, rule := range rules {
		if ctx.Err() != nil {
			break
		}
		summary.Rules = append(summary.Rules, e.RunRule(ctx, tn, rule))
	}
	return summary
}

// RunRule evaluates one rule at the current time and delivers the result.
func (e *Engine) RunRule(ctx context.Context, tn tenant.Tenant, rule models.AutomationRule) RuleSummary {
	start := time.Now()
	defer metrics.ObserveEvaluation(rule.TriggerType, start)

	summary := RuleSummary{RuleID: rule.ID, Name: rule.Name, Trigger: TriggerType(rule.TriggerType)}
	logger := e.logger.With("tenant", tn.ID, "rule", rule.ID, "trigger", rule.TriggerType)

	reqs, err := e.Evaluate(ctx, tn, rule, e.clock.Now())
	if err != nil {
		var dataErr *DataError
		if errors.As(err, &dataErr) {
			logger.Warn("skipping rule", "error", err)
		} else {
			logger.Error("evaluate rule", "error", err)
		}
		summary.Skipped = err.Error()
		return summary
	}

	e.deliverAll(ctx, tn, rule.ID, TriggerType(rule.TriggerType), reqs, &summary)
	if summary.Trigger == TriggerSchedule && summary.Failed > 0 {
		logger.Warn("schedule batch finished with failed deliveries; the rule is marked as run and will not retry",
			"failed", summary.Failed, "sent", summary.Sent)
	}
	return summary
}

// Evaluate returns the deliveries rule produces at now. It reads the ledger
// but writes nothing.
func (e *Engine) Evaluate(ctx context.Context, tn tenant.Tenant, rule models.AutomationRule, now time.Time) ([]DeliveryRequest, error) {
	trigger, err := RuleTrigger(rule)
	if err != nil {
		return nil, err
	}
	body, err := e.ruleBody(ctx, tn, rule)
	if err != nil {
		return nil, err
	}

	switch t := trigger.(type) {
	case BirthdayTrigger:
		return e.evaluateBirthday(ctx, tn, rule, t, body, now)
	case NoResponseTrigger:
		return e.evaluateNoResponse(ctx, tn, rule, t, body, now)
	case ScheduleTrigger:
		return e.evaluateSchedule(ctx, tn, rule, t, body, now)
	default:
		return nil, fmt.Errorf("%s rules are event driven", trigger.Type())
	}
}

func (e *Engine) activeRules(ctx context.Context, tenantID string, kinds ...TriggerType) ([]models.AutomationRule, error) {
	types := make([]string, len(kinds))
	for i, k := range kinds {
		types[i] = string(k)
	}
	var rules []models.AutomationRule
	err := e.db.WithContext(ctx).
		Where("owner_id = ? AND active = ? AND trigger_type IN ?", tenantID, true, types).
		Order("created_at ASC, id ASC").
		Find(&rules).Error
	return rules, err
}

// ruleBody picks the inline message, falling back to the referenced template.
func (e *Engine) ruleBody(ctx context.Context, tn tenant.Tenant, rule models.AutomationRule) (string, error) {
	if rule.Message != "" {
		return rule.Message, nil
	}
	if rule.TemplateID == nil || *rule.TemplateID == "" {
		return "", &DataError{RuleID: rule.ID, Err: errors.New("rule has neither message nor template")}
	}
	var tpl models.MessageTemplate
	err := e.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", *rule.TemplateID, tn.ID).
		First(&tpl).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", &DataError{RuleID: rule.ID, Err: fmt.Errorf("template %s not found", *rule.TemplateID)}
	}
	if err != nil {
		return "", err
	}
	return tpl.Body, nil
}

func (e *Engine) activeContacts(ctx context.Context, tn tenant.Tenant, tag string) ([]models.Contact, error) {
	members, err := e.tenants.Members(ctx, tn.ID)
	if err != nil {
		return nil, err
	}
	q := e.db.WithContext(ctx).Where("owner_id IN ? AND active = ?", members, true)
	if tag != "" {
		q = q.Where(datatypes.JSONArrayQuery("tags").Contains(tag))
	}
	var contacts []models.Contact
	err = q.Order("created_at ASC, id ASC").Find(&contacts).Error
	return contacts, err
}

// deliverAll sends reqs one at a time. Credentials are resolved once; when
// they are unusable a single configuration_error row is written and nothing is
// sent.
func (e *Engine) deliverAll(ctx context.Context, tn tenant.Tenant, ruleID string, trigger TriggerType, reqs []DeliveryRequest, summary *RuleSummary) {
	summary.Candidates += len(reqs)
	if len(reqs) == 0 {
		return
	}
	logger := e.logger.With("tenant", tn.ID, "rule", ruleID, "trigger", trigger)

	creds, err := e.creds.WhatsApp(ctx, tn.ID)
	if err != nil {
		var cfgErr *ConfigurationError
		if !errors.As(err, &cfgErr) {
			logger.Error("resolve credentials", "error", err)
			summary.Skipped = err.Error()
			return
		}
		logger.Warn("delivery aborted", "error", err)
		summary.ConfigurationError = string(cfgErr.Reason)
		e.record(ctx, logger, tn.ID, Entry{
			OwnerID:     tn.ID,
			RuleID:      ruleID,
			TriggerType: trigger,
			Outcome:     Outcome{Kind: models.OutcomeConfigurationError, Err: err},
		})
		return
	}

	for i, req := range reqs {
		if ctx.Err() != nil {
			return
		}
		if i > 0 && e.sendDelay > 0 {
			e.clock.Sleep(e.sendDelay)
		}
		switch e.deliver(ctx, logger, tn, creds, req) {
		case models.OutcomeSent:
			summary.Sent++
		case "":
			summary.Duplicates++
		default:
			summary.Failed++
		}
	}
}

// deliver sends one request and records it. It returns the outcome kind, or
// "" when the ledger reported the event as a duplicate.
func (e *Engine) deliver(ctx context.Context, logger *slog.Logger, tn tenant.Tenant, creds whatsapp.Credentials, req DeliveryRequest) string {
	outcome := e.dispatcher.Send(ctx, creds, req.Recipient, req.Body)
	if outcome.Kind == models.OutcomeSent && req.Subject.ContactID != "" {
		if err := e.appendTranscript(ctx, tn, req, outcome.MessageID); err != nil {
			logger.Error("append transcript", "contact", req.Subject.ContactID, "error", err)
		}
	}
	if outcome.Err != nil {
		logger.Warn("delivery failed", "recipient", req.Recipient, "error", outcome.Err)
	}

	ok := e.record(ctx, logger, tn.ID, Entry{
		OwnerID:     tn.ID,
		RuleID:      req.RuleID,
		TriggerType: req.Trigger,
		Subject:     req.Subject,
		Outcome:     outcome,
		DedupKey:    req.DedupKey,
	})
	if !ok {
		return ""
	}
	return outcome.Kind
}

// record appends to the ledger and reports false for a suppressed duplicate.
func (e *Engine) record(ctx context.Context, logger *slog.Logger, tenantID string, entry Entry) bool {
	entry.At = e.clock.Now()
	row, err := e.ledger.Record(ctx, entry)
	if IsDuplicate(err) {
		metrics.DuplicateSuppressed(string(entry.TriggerType))
		logger.Info("duplicate suppressed", "dedup_key", entry.DedupKey)
		return false
	}
	metrics.Delivery(string(entry.TriggerType), entry.Outcome.Kind)
	if err != nil {
		logger.Error("record outcome", "error", err)
		return true
	}
	e.events.Publish(tenantID, EventAutomationLog, row)
	return true
}

// appendTranscript stores the sent text in the contact's latest conversation,
// opening one when the contact has none.
func (e *Engine) appendTranscript(ctx context.Context, tn tenant.Tenant, req DeliveryRequest, messageID string) error {
	now := e.clock.Now().UTC()
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv models.Conversation
		q := tx.Where("contact_id = ?", req.Subject.ContactID)
		if req.Subject.ConversationID != "" {
			q = tx.Where("id = ?", req.Subject.ConversationID)
		}
		err := q.Order("last_message_at DESC").First(&conv).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			conv = models.Conversation{
				OwnerID:   tn.ID,
				ContactID: req.Subject.ContactID,
				Status:    models.ConversationActive,
			}
		} else if err != nil {
			return err
		}
		conv.LastMessageAt = now
		if err := tx.Save(&conv).Error; err != nil {
			return err
		}
		return tx.Create(&models.Message{
			OwnerID:           conv.OwnerID,
			ConversationID:    conv.ID,
			ContactID:         req.Subject.ContactID,
			SenderType:        models.SenderAutomation,
			Body:              req.Body,
			ProviderMessageID: messageID,
			CreatedAt:         now,
		}).Error
	})
}
