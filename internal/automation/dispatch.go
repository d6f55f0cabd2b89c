package automation

import (
	"context"
	"errors"

	"engagement-engine/internal/models"
	"engagement-engine/internal/whatsapp"
)

// Outcome is the normalized result of one delivery attempt.
type Outcome struct {
	Kind      string
	MessageID string
	Err       error
}

func (o Outcome) Status() string {
	if o.Kind == models.OutcomeSent {
		return models.LogSuccess
	}
	return models.LogError
}

func (o Outcome) Details() string {
	if o.Err != nil {
		return o.Err.Error()
	}
	if o.MessageID != "" {
		return "message " + o.MessageID
	}
	return ""
}

// DeliveryRequest is one message an evaluator decided to send.
type DeliveryRequest struct {
	RuleID    string
	Trigger   TriggerType
	Subject   Subject
	Recipient string
	Body      string
	DedupKey  string
}

// Sender is the messaging provider.
type Sender interface {
	SendMessage(ctx context.Context, creds whatsapp.Credentials, to, body string) (string, error)
}

// Dispatcher performs exactly one provider call per request. Retrying is the
// caller's decision.
type Dispatcher struct {
	sender Sender
}

func NewDispatcher(sender Sender) *Dispatcher {
	return &Dispatcher{sender: sender}
}

func (d *Dispatcher) Send(ctx context.Context, creds whatsapp.Credentials, recipient, body string) Outcome {
	id, err := d.sender.SendMessage(ctx, creds, recipient, body)
	if err == nil {
		return Outcome{Kind: models.OutcomeSent, MessageID: id}
	}

	perr := &ProviderError{Message: err.Error()}
	var apiErr *whatsapp.Error
	if errors.As(err, &apiErr) {
		perr = &ProviderError{Status: apiErr.Status, Code: apiErr.Code, Message: apiErr.Message}
	}
	return Outcome{Kind: models.OutcomeProviderError, Err: perr}
}
