package automation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"engagement-engine/internal/models"

	"gorm.io/datatypes"
)

type TriggerType string

const (
	TriggerKeyword      TriggerType = "keyword"
	TriggerNewContact   TriggerType = "new_contact"
	TriggerNoResponse   TriggerType = "no_response"
	TriggerSchedule     TriggerType = "schedule"
	TriggerTicketStatus TriggerType = "ticket_status"
	TriggerBirthday     TriggerType = "birthday"
)

// Welcome events accepted by new_contact rules.
const (
	EventContactCreated = "contact_created"
	EventFirstMessage   = "first_message"
)

// Trigger is the decoded trigger configuration of a rule. The set of
// implementations is closed: one struct per TriggerType.
type Trigger interface {
	Type() TriggerType
	Validate() error
	isTrigger()
}

type KeywordTrigger struct {
	Keywords []string `json:"keywords"`
	Exact    bool     `json:"exact,omitempty"`
}

type NewContactTrigger struct {
	// Events limits which welcome events fire the rule; empty means all.
	Events []string `json:"events,omitempty"`
}

type NoResponseTrigger struct {
	DelayMinutes int `json:"delay_minutes"`
	MaxAttempts  int `json:"max_attempts"`
}

type ScheduleTrigger struct {
	ScheduleAt time.Time `json:"schedule_at"`
	TargetTag  string    `json:"target_tag,omitempty"`
}

// TicketStatusTrigger notifies the ticket's contact. Empty statuses match any.
type TicketStatusTrigger struct {
	StatusFrom string `json:"status_from,omitempty"`
	StatusTo   string `json:"status_to,omitempty"`
}

type BirthdayTrigger struct {
	TargetTag string `json:"target_tag,omitempty"`
}

func (KeywordTrigger) Type() TriggerType      { return TriggerKeyword }
func (NewContactTrigger) Type() TriggerType   { return TriggerNewContact }
func (NoResponseTrigger) Type() TriggerType   { return TriggerNoResponse }
func (ScheduleTrigger) Type() TriggerType     { return TriggerSchedule }
func (TicketStatusTrigger) Type() TriggerType { return TriggerTicketStatus }
func (BirthdayTrigger) Type() TriggerType     { return TriggerBirthday }

func (KeywordTrigger) isTrigger()      {}
func (NewContactTrigger) isTrigger()   {}
func (NoResponseTrigger) isTrigger()   {}
func (ScheduleTrigger) isTrigger()     {}
func (TicketStatusTrigger) isTrigger() {}
func (BirthdayTrigger) isTrigger()     {}

func (t KeywordTrigger) Validate() error {
	for _, k := range t.Keywords {
		if strings.TrimSpace(k) != "" {
			return nil
		}
	}
	return errors.New("keyword trigger needs at least one keyword")
}

// Matches reports whether message fires this trigger.
func (t KeywordTrigger) Matches(message string) bool {
	message = strings.ToLower(strings.TrimSpace(message))
	for _, k := range t.Keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if t.Exact && message == k {
			return true
		}
		if !t.Exact && strings.Contains(message, k) {
			return true
		}
	}
	return false
}

func (t NewContactTrigger) Validate() error {
	for _, e := range t.Events {
		if e != EventContactCreated && e != EventFirstMessage {
			return fmt.Errorf("unknown welcome event %q", e)
		}
	}
	return nil
}

func (t NewContactTrigger) Accepts(event string) bool {
	if len(t.Events) == 0 {
		return true
	}
	for _, e := range t.Events {
		if e == event {
			return true
		}
	}
	return false
}

func (t NoResponseTrigger) Validate() error {
	if t.DelayMinutes < 1 {
		return errors.New("delay_minutes must be at least 1")
	}
	if t.MaxAttempts < 1 {
		return errors.New("max_attempts must be at least 1")
	}
	return nil
}

func (t NoResponseTrigger) Delay() time.Duration {
	return time.Duration(t.DelayMinutes) * time.Minute
}

func (t ScheduleTrigger) Validate() error {
	if t.ScheduleAt.IsZero() {
		return errors.New("schedule_at is required")
	}
	return nil
}

func (t TicketStatusTrigger) Validate() error {
	for _, s := range []string{t.StatusFrom, t.StatusTo} {
		if s != "" && !models.ValidTicketStatus(s) {
			return fmt.Errorf("unknown ticket status %q", s)
		}
	}
	return nil
}

func (t TicketStatusTrigger) Matches(from, to string) bool {
	return (t.StatusFrom == "" || t.StatusFrom == from) && (t.StatusTo == "" || t.StatusTo == to)
}

func (BirthdayTrigger) Validate() error { return nil }

// ParseTrigger decodes and validates a stored trigger configuration.
func ParseTrigger(raw []byte) (Trigger, error) {
	var envelope struct {
		Type TriggerType `json:"type"`
	}
	if len(raw) == 0 {
		return nil, errors.New("empty trigger configuration")
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode trigger: %w", err)
	}

	var trigger Trigger
	var err error
	switch envelope.Type {
	case TriggerKeyword:
		var t KeywordTrigger
		err = json.Unmarshal(raw, &t)
		trigger = t
	case TriggerNewContact:
		var t NewContactTrigger
		err = json.Unmarshal(raw, &t)
		trigger = t
	case TriggerNoResponse:
		var t NoResponseTrigger
		err = json.Unmarshal(raw, &t)
		if t.MaxAttempts == 0 {
			t.MaxAttempts = 1
		}
		trigger = t
	case TriggerSchedule:
		var t ScheduleTrigger
		err = json.Unmarshal(raw, &t)
		trigger = t
	case TriggerTicketStatus:
		var t TicketStatusTrigger
		err = json.Unmarshal(raw, &t)
		trigger = t
	case TriggerBirthday:
		var t BirthdayTrigger
		err = json.Unmarshal(raw, &t)
		trigger = t
	case "":
		return nil, errors.New("trigger type is required")
	default:
		return nil, fmt.Errorf("unknown trigger type %q", envelope.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s trigger: %w", envelope.Type, err)
	}
	if err := trigger.Validate(); err != nil {
		return nil, err
	}
	return trigger, nil
}

// EncodeTrigger produces the stored form, with the type tag included.
func EncodeTrigger(t Trigger) (datatypes.JSON, error) {
	body, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["type"], _ = json.Marshal(t.Type())
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(out), nil
}

// RuleTrigger decodes the trigger of a stored rule, wrapping failures in a
// DataError so the caller can skip the rule.
func RuleTrigger(rule models.AutomationRule) (Trigger, error) {
	trigger, err := ParseTrigger(rule.TriggerConfig)
	if err != nil {
		return nil, &DataError{RuleID: rule.ID, Err: err}
	}
	if string(trigger.Type()) != rule.TriggerType {
		return nil, &DataError{RuleID: rule.ID, Err: fmt.Errorf("config type %s does not match rule type %s", trigger.Type(), rule.TriggerType)}
	}
	return trigger, nil
}
