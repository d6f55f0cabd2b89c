package webhook

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"engagement-engine/internal/ai"
	"engagement-engine/internal/automation"
	"engagement-engine/internal/clock"
	"engagement-engine/internal/models"
	"engagement-engine/internal/tenant"
	"engagement-engine/internal/whatsapp"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// EventInboundMessage is published for every stored inbound message.
const EventInboundMessage = "message"

// historyWindow is how many transcript messages the AI responder sees.
const historyWindow = 20

// Responder produces the bot's next message.
type Responder interface {
	Reply(ctx context.Context, history []ai.Turn, tenantPrompt string) (ai.Reply, error)
}

type Options struct {
	VerifyToken string
	// Responder answers for tenants without their own openai credential.
	Responder Responder
	// NewResponder builds a responder from a tenant's own API key.
	NewResponder func(apiKey string) Responder
	Events       automation.Publisher
	Clock        clock.Clock
	Logger       *slog.Logger
}

type Handler struct {
	db          *gorm.DB
	engine      *automation.Engine
	creds       *automation.CredentialStore
	tenants     *tenant.Resolver
	sender      automation.Sender
	verifyToken string
	responder   Responder
	newResp     func(apiKey string) Responder
	events      automation.Publisher
	clock       clock.Clock
	logger      *slog.Logger
}

func NewHandler(db *gorm.DB, engine *automation.Engine, creds *automation.CredentialStore, tenants *tenant.Resolver, sender automation.Sender, opts Options) *Handler {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handler{
		db:          db,
		engine:      engine,
		creds:       creds,
		tenants:     tenants,
		sender:      sender,
		verifyToken: opts.VerifyToken,
		responder:   opts.Responder,
		newResp:     opts.NewResponder,
		events:      opts.Events,
		clock:       opts.Clock,
		logger:      opts.Logger,
	}
}

func (h *Handler) VerifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode != "" && token != "" {
		if mode == "subscribe" && h.verifyToken != "" && token == h.verifyToken {
			h.logger.Info("webhook verified")
			c.String(http.StatusOK, challenge)
		} else {
			c.Status(http.StatusForbidden)
		}
	} else {
		c.Status(http.StatusBadRequest)
	}
}

// HandleMessage acknowledges every well-formed payload with 200. Processing
// failures are logged; the provider would only redeliver the same payload.
func (h *Handler) HandleMessage(c *gin.Context) {
	var payload Payload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.logger.Warn("invalid webhook payload", "error", err)
		c.Status(http.StatusBadRequest)
		return
	}
	h.Process(c.Request.Context(), payload)
	c.Status(http.StatusOK)
}

// Process handles every message of a payload.
func (h *Handler) Process(ctx context.Context, payload Payload) {
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			value := change.Value
			if len(value.Messages) == 0 {
				continue
			}
			tenantID, ok, err := h.creds.TenantByPhoneNumberID(ctx, value.Metadata.PhoneNumberID)
			if err != nil {
				h.logger.Error("resolve receiving number", "phone_number_id", value.Metadata.PhoneNumberID, "error", err)
				continue
			}
			if !ok {
				h.logger.Warn("message for unknown number", "phone_number_id", value.Metadata.PhoneNumberID)
				continue
			}

			names := map[string]string{}
			for _, c := range value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, msg := range value.Messages {
				if err := h.inbound(ctx, tenantID, msg, names[msg.From]); err != nil {
					h.logger.Error("process inbound message", "tenant", tenantID, "message", msg.ID, "error", err)
				}
			}
		}
	}
}

func (h *Handler) inbound(ctx context.Context, tenantID string, in InboundMessage, profileName string) error {
	tn, err := h.tenants.Resolve(ctx, tenantID)
	if err != nil {
		return err
	}
	logger := h.logger.With("tenant", tn.ID, "message", in.ID)

	// The provider redelivers on slow acknowledgements.
	var seen int64
	if in.ID != "" {
		err := h.db.WithContext(ctx).Model(&models.Message{}).
			Where("owner_id = ? AND provider_message_id = ?", tn.ID, in.ID).
			Count(&seen).Error
		if err != nil {
			return err
		}
		if seen > 0 {
			logger.Info("duplicate inbound message")
			return nil
		}
	}

	contact, created, err := h.upsertContact(ctx, tn, whatsapp.NormalizePhone(in.From), profileName)
	if err != nil {
		return err
	}
	conv, err := h.openConversation(ctx, tn, contact)
	if err != nil {
		return err
	}

	var previous int64
	err = h.db.WithContext(ctx).Model(&models.Message{}).
		Where("contact_id = ? AND sender_type = ?", contact.ID, models.SenderContact).
		Count(&previous).Error
	if err != nil {
		return err
	}

	body, words := in.content()
	now := h.clock.Now().UTC()
	msg := models.Message{
		OwnerID:           conv.OwnerID,
		ConversationID:    conv.ID,
		ContactID:         contact.ID,
		SenderType:        models.SenderContact,
		Body:              body,
		ProviderMessageID: in.ID,
		CreatedAt:         now,
	}
	if err := h.store(ctx, &conv, &msg); err != nil {
		return err
	}
	h.publish(tn.ID, msg)

	if created {
		if _, err := h.engine.Welcome(ctx, contact.ID, automation.EventContactCreated); err != nil {
			logger.Error("welcome on contact creation", "error", err)
		}
	}
	if previous == 0 {
		if _, err := h.engine.Welcome(ctx, contact.ID, automation.EventFirstMessage); err != nil {
			logger.Error("welcome on first message", "error", err)
		}
	}
	if !words {
		return nil
	}

	summary, err := h.engine.Keyword(ctx, msg)
	if err != nil {
		logger.Error("keyword rules", "error", err)
	}
	if summary != nil && summary.Sent > 0 {
		return nil
	}
	return h.botReply(ctx, tn, &conv, contact)
}

func (h *Handler) upsertContact(ctx context.Context, tn tenant.Tenant, phone, name string) (models.Contact, bool, error) {
	members, err := h.tenants.Members(ctx, tn.ID)
	if err != nil {
		return models.Contact{}, false, err
	}
	var contact models.Contact
	err = h.db.WithContext(ctx).
		Where("owner_id IN ? AND phone = ?", members, phone).
		First(&contact).Error
	if err == nil {
		return contact, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return contact, false, err
	}

	if name == "" {
		name = phone
	}
	contact = models.Contact{OwnerID: tn.ID, Name: name, Phone: phone, Active: true}
	if err := h.db.WithContext(ctx).Create(&contact).Error; err != nil {
		return contact, false, err
	}
	return contact, true, nil
}

// openConversation returns the contact's open conversation, starting one with
// the bot active when there is none.
func (h *Handler) openConversation(ctx context.Context, tn tenant.Tenant, contact models.Contact) (models.Conversation, error) {
	var conv models.Conversation
	err := h.db.WithContext(ctx).
		Where("contact_id = ? AND status <> ?", contact.ID, models.ConversationResolved).
		Order("last_message_at DESC").
		First(&conv).Error
	if err == nil || !errors.Is(err, gorm.ErrRecordNotFound) {
		return conv, err
	}
	conv = models.Conversation{
		OwnerID:       contact.OwnerID,
		ContactID:     contact.ID,
		Status:        models.ConversationActive,
		IsBotActive:   true,
		LastMessageAt: h.clock.Now().UTC(),
	}
	return conv, h.db.WithContext(ctx).Create(&conv).Error
}

func (h *Handler) store(ctx context.Context, conv *models.Conversation, msg *models.Message) error {
	return h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		conv.LastMessageAt = msg.CreatedAt
		return tx.Model(conv).Update("last_message_at", msg.CreatedAt).Error
	})
}

func (h *Handler) publish(tenantID string, msg models.Message) {
	if h.events != nil {
		h.events.Publish(tenantID, EventInboundMessage, msg)
	}
}

// responderFor prefers the tenant's own openai credential over the shared one.
func (h *Handler) responderFor(ctx context.Context, tenantID string) (Responder, error) {
	cred, err := h.creds.Resolve(ctx, tenantID, models.IntegrationOpenAI)
	var cfgErr *automation.ConfigurationError
	if errors.As(err, &cfgErr) && cfgErr.Reason == automation.ReasonMissing {
		return h.responder, nil
	}
	if err != nil {
		return nil, err
	}
	key := cred.Config["api_key"]
	if key == "" || h.newResp == nil {
		return nil, &automation.ConfigurationError{TenantID: tenantID, Type: models.IntegrationOpenAI, Reason: automation.ReasonIncomplete}
	}
	return h.newResp(key), nil
}

// botReply lets the AI answer while the conversation is in bot mode. A reply
// asking for a human hands the conversation to the agents.
func (h *Handler) botReply(ctx context.Context, tn tenant.Tenant, conv *models.Conversation, contact models.Contact) error {
	if !conv.IsBotActive || !tn.Settings.AIEnabled || conv.Status != models.ConversationActive {
		return nil
	}
	responder, err := h.responderFor(ctx, tn.ID)
	if err != nil {
		return err
	}
	if responder == nil {
		return nil
	}

	var recent []models.Message
	err = h.db.WithContext(ctx).
		Where("conversation_id = ?", conv.ID).
		Order("created_at DESC").
		Limit(historyWindow).
		Find(&recent).Error
	if err != nil {
		return err
	}
	history := make([]ai.Turn, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		role := ai.RoleAssistant
		if recent[i].SenderType == models.SenderContact {
			role = ai.RoleContact
		}
		history = append(history, ai.Turn{Role: role, Text: recent[i].Body})
	}

	reply, err := responder.Reply(ctx, history, tn.Settings.AIPrompt)
	if err != nil {
		return err
	}

	if reply.Text != "" {
		creds, err := h.creds.WhatsApp(ctx, tn.ID)
		if err != nil {
			return err
		}
		id, err := h.sender.SendMessage(ctx, creds, contact.Phone, reply.Text)
		if err != nil {
			return err
		}
		out := models.Message{
			OwnerID:           conv.OwnerID,
			ConversationID:    conv.ID,
			ContactID:         contact.ID,
			SenderType:        models.SenderAI,
			Body:              reply.Text,
			ProviderMessageID: id,
			CreatedAt:         h.clock.Now().UTC(),
		}
		if err := h.store(ctx, conv, &out); err != nil {
			return err
		}
		h.publish(tn.ID, out)
	}

	if reply.NeedsHuman {
		h.logger.Info("conversation handed to agents", "tenant", tn.ID, "conversation", conv.ID)
		return h.db.WithContext(ctx).Model(conv).Updates(map[string]interface{}{
			"is_bot_active": false,
			"status":        models.ConversationPending,
		}).Error
	}
	return nil
}
