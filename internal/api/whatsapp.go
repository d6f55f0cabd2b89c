package api

import (
	"log/slog"
	"net/http"
	"time"

	"engagement-engine/internal/automation"
	"engagement-engine/internal/clock"
	"engagement-engine/internal/tenant"
	"engagement-engine/internal/whatsapp"

	"github.com/gin-gonic/gin"
)

// WhatsAppHandler sends provider messages directly with the tenant's
// credential, outside any automation rule.
type WhatsAppHandler struct {
	tenants  *tenant.Resolver
	creds    *automation.CredentialStore
	provider Provider
	clock    clock.Clock
	delay    time.Duration
	logger   *slog.Logger
}

func NewWhatsAppHandler(tenants *tenant.Resolver, creds *automation.CredentialStore, provider Provider, clk clock.Clock, delay time.Duration, logger *slog.Logger) *WhatsAppHandler {
	return &WhatsAppHandler{tenants: tenants, creds: creds, provider: provider, clock: clk, delay: delay, logger: logger}
}

func (h *WhatsAppHandler) credentials(c *gin.Context) (string, whatsapp.Credentials, bool) {
	owner, ok := tenantOf(c, h.tenants)
	if !ok {
		return "", whatsapp.Credentials{}, false
	}
	creds, err := h.creds.WhatsApp(c.Request.Context(), owner)
	if err != nil {
		respondError(c, err)
		return "", whatsapp.Credentials{}, false
	}
	return owner, creds, true
}

// SendMessage handles unified message sending
func (h *WhatsAppHandler) SendMessage(c *gin.Context) {
	var msg whatsapp.GenericMessage
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if msg.To == "" || msg.Type == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to and type are required"})
		return
	}
	_, creds, ok := h.credentials(c)
	if !ok {
		return
	}

	// Ensure messaging_product is set
	if msg.MessagingProduct == "" {
		msg.MessagingProduct = "whatsapp"
	}
	msg.To = whatsapp.NormalizePhone(msg.To)

	id, err := h.provider.SendRawMessage(c.Request.Context(), creds, msg)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Message sent", "message_id": id})
}

type BroadcastRequest struct {
	TemplateName string   `json:"template_name" binding:"required"`
	Language     string   `json:"language"`
	Contacts     []string `json:"contacts" binding:"required"`
	// Params fill the template body variables in order.
	Params []string `json:"params"`
}

// SendBroadcast sends an approved provider template to each phone, one at a
// time with the configured delay between calls. Failures are counted and the
// remaining phones are still tried.
func (h *WhatsAppHandler) SendBroadcast(c *gin.Context) {
	var req BroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Language == "" {
		req.Language = "pt_BR"
	}
	owner, creds, ok := h.credentials(c)
	if !ok {
		return
	}

	successCount := 0
	failed := map[string]string{}
	for i, phone := range req.Contacts {
		if i > 0 && h.delay > 0 {
			h.clock.Sleep(h.delay)
		}
		if _, err := h.provider.SendTemplateMessage(c.Request.Context(), creds, phone, req.TemplateName, req.Language, req.Params...); err != nil {
			h.logger.Warn("broadcast send failed", "tenant", owner, "to", phone, "error", err)
			failed[phone] = err.Error()
			continue
		}
		successCount++
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "Broadcast processed",
		"sent_to": successCount,
		"total":   len(req.Contacts),
		"failed":  failed,
	})
}
