package api

import (
	"net/http"

	"engagement-engine/internal/automation"
	"engagement-engine/internal/clock"
	"engagement-engine/internal/models"
	"engagement-engine/internal/tenant"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// EventAgentMessage is published when an agent answers from the dashboard.
const EventAgentMessage = "agent_message"

// ConversationHandler serves the agent side of the inbox.
type ConversationHandler struct {
	db       *gorm.DB
	tenants  *tenant.Resolver
	creds    *automation.CredentialStore
	provider Provider
	events   automation.Publisher
	clock    clock.Clock
}

func NewConversationHandler(db *gorm.DB, tenants *tenant.Resolver, creds *automation.CredentialStore, provider Provider, events automation.Publisher, clk clock.Clock) *ConversationHandler {
	return &ConversationHandler{db: db, tenants: tenants, creds: creds, provider: provider, events: events, clock: clk}
}

// conversation loads a conversation of the caller's tenant.
func (h *ConversationHandler) conversation(c *gin.Context) (models.Conversation, bool) {
	var conv models.Conversation
	owner, ok := tenantOf(c, h.tenants)
	if !ok {
		return conv, false
	}
	members, err := h.tenants.Members(c.Request.Context(), owner)
	if err != nil {
		respondError(c, err)
		return conv, false
	}
	err = h.db.WithContext(c.Request.Context()).
		Where("id = ? AND owner_id IN ?", c.Param("id"), members).
		First(&conv).Error
	if err != nil {
		respondError(c, err)
		return conv, false
	}
	return conv, true
}

func (h *ConversationHandler) GetConversations(c *gin.Context) {
	owner, ok := tenantOf(c, h.tenants)
	if !ok {
		return
	}
	members, err := h.tenants.Members(c.Request.Context(), owner)
	if err != nil {
		respondError(c, err)
		return
	}
	q := h.db.WithContext(c.Request.Context()).Where("owner_id IN ?", members)
	if status := c.Query("status"); status != "" {
		q = q.Where("status = ?", status)
	}
	conversations := []models.Conversation{}
	if err := q.Order("last_message_at DESC").Find(&conversations).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conversations)
}

func (h *ConversationHandler) GetMessages(c *gin.Context) {
	conv, ok := h.conversation(c)
	if !ok {
		return
	}
	messages := []models.Message{}
	err := h.db.WithContext(c.Request.Context()).
		Where("conversation_id = ?", conv.ID).
		Order("created_at ASC").
		Find(&messages).Error
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

type SendRequest struct {
	Content string `json:"content" binding:"required"`
	AgentID string `json:"agent_id"`
}

// SendMessage delivers an agent reply and appends it to the transcript. An
// agent reply ends any pending no-response follow-up for the conversation.
func (h *ConversationHandler) SendMessage(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	conv, ok := h.conversation(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var contact models.Contact
	if err := h.db.WithContext(ctx).Where("id = ?", conv.ContactID).First(&contact).Error; err != nil {
		respondError(c, err)
		return
	}
	tn, err := h.tenants.Resolve(ctx, conv.OwnerID)
	if err != nil {
		respondError(c, err)
		return
	}
	creds, err := h.creds.WhatsApp(ctx, tn.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	id, err := h.provider.SendMessage(ctx, creds, contact.Phone, req.Content)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to send message: " + err.Error()})
		return
	}

	msg := models.Message{
		OwnerID:           conv.OwnerID,
		ConversationID:    conv.ID,
		ContactID:         contact.ID,
		SenderType:        models.SenderAgent,
		Body:              req.Content,
		ProviderMessageID: id,
		CreatedAt:         h.clock.Now().UTC(),
	}
	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		updates := map[string]interface{}{"last_message_at": msg.CreatedAt}
		if req.AgentID != "" && conv.AssignedTo == nil {
			updates["assigned_to"] = req.AgentID
		}
		return tx.Model(&conv).Updates(updates).Error
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if h.events != nil {
		h.events.Publish(tn.ID, EventAgentMessage, msg)
	}
	c.JSON(http.StatusOK, msg)
}

// SetBot hands a conversation back to the AI responder or takes it away.
func (h *ConversationHandler) SetBot(c *gin.Context) {
	var req struct {
		Active bool `json:"active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	conv, ok := h.conversation(c)
	if !ok {
		return
	}
	updates := map[string]interface{}{"is_bot_active": req.Active}
	if req.Active {
		updates["status"] = models.ConversationActive
	}
	if err := h.db.WithContext(c.Request.Context()).Model(&conv).Updates(updates).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}
