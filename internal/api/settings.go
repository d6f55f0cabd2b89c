package api

import (
	"errors"
	"net/http"

	"engagement-engine/internal/automation"
	"engagement-engine/internal/models"
	"engagement-engine/internal/tenant"

	"github.com/gin-gonic/gin"
)

const (
	testOK     = "ok"
	testFailed = "failed"
)

// SettingsHandler manages tenant settings and integration credentials.
type SettingsHandler struct {
	tenants  *tenant.Resolver
	creds    *automation.CredentialStore
	provider Provider
}

func NewSettingsHandler(tenants *tenant.Resolver, creds *automation.CredentialStore, provider Provider) *SettingsHandler {
	return &SettingsHandler{tenants: tenants, creds: creds, provider: provider}
}

func (h *SettingsHandler) GetSettings(c *gin.Context) {
	owner, ok := tenantOf(c, h.tenants)
	if !ok {
		return
	}
	tn, err := h.tenants.Resolve(c.Request.Context(), owner)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"settings": tn.Settings,
		"timezone": tn.Location().String(),
		"sla_hours": gin.H{
			models.PriorityUrgent: tn.SLAHours(models.PriorityUrgent),
			models.PriorityHigh:   tn.SLAHours(models.PriorityHigh),
			models.PriorityMedium: tn.SLAHours(models.PriorityMedium),
			models.PriorityLow:    tn.SLAHours(models.PriorityLow),
		},
	})
}

func (h *SettingsHandler) UpdateSettings(c *gin.Context) {
	owner, ok := tenantOf(c, h.tenants)
	if !ok {
		return
	}
	var req models.TenantSettings
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for _, hours := range []int{req.SLAHoursUrgente, req.SLAHoursAlta, req.SLAHoursMedia, req.SLAHoursBaixa} {
		if hours < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sla hours must not be negative"})
			return
		}
	}
	req.OwnerID = owner

	if err := h.tenants.SaveSettings(c.Request.Context(), req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// GetCredentials reports which integrations are configured, never their secrets.
func (h *SettingsHandler) GetCredentials(c *gin.Context) {
	owner, ok := tenantOf(c, h.tenants)
	if !ok {
		return
	}
	out := gin.H{}
	for _, typ := range []string{models.IntegrationWhatsApp, models.IntegrationOpenAI, models.IntegrationSMTP, models.IntegrationWebhook} {
		_, err := h.creds.Resolve(c.Request.Context(), owner, typ)
		var cfgErr *automation.ConfigurationError
		switch {
		case err == nil:
			out[typ] = "active"
		case errors.As(err, &cfgErr):
			out[typ] = string(cfgErr.Reason)
		default:
			respondError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, out)
}

type credentialRequest struct {
	Config map[string]string `json:"config" binding:"required"`
	Active *bool             `json:"active"`
}

var requiredKeys = map[string][]string{
	models.IntegrationWhatsApp: {"access_token", "phone_number_id"},
	models.IntegrationOpenAI:   {"api_key"},
	models.IntegrationSMTP:     {"host", "username", "password"},
	models.IntegrationWebhook:  {"url"},
}

func (h *SettingsHandler) SaveCredential(c *gin.Context) {
	owner, ok := tenantOf(c, h.tenants)
	if !ok {
		return
	}
	typ := c.Param("type")
	keys, known := requiredKeys[typ]
	if !known {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown integration " + typ})
		return
	}
	var req credentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for _, key := range keys {
		if req.Config[key] == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": key + " is required"})
			return
		}
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	if err := h.creds.Save(c.Request.Context(), owner, typ, req.Config, active); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Credential saved", "type": typ, "active": active})
}

// TestWhatsApp checks the tenant's sending credential against the provider
// and stores the result.
func (h *SettingsHandler) TestWhatsApp(c *gin.Context) {
	owner, ok := tenantOf(c, h.tenants)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	creds, err := h.creds.WhatsApp(ctx, owner)
	if err != nil {
		respondError(c, err)
		return
	}

	status := testOK
	pingErr := h.provider.Ping(ctx, creds)
	if pingErr != nil {
		status = testFailed
	}
	if err := h.creds.RecordTest(ctx, owner, models.IntegrationWhatsApp, status); err != nil {
		respondError(c, err)
		return
	}
	if pingErr != nil {
		respondError(c, pingErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}
