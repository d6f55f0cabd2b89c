package api

import (
	"net/http"
	"strconv"

	"engagement-engine/internal/automation"
	"engagement-engine/internal/models"
	"engagement-engine/internal/tenant"

	"github.com/gin-gonic/gin"
)

type AutomationHandler struct {
	tenants       *tenant.Resolver
	rules         *automation.RuleStore
	ledger        *automation.Ledger
	notifications *automation.NotificationStore
}

func NewAutomationHandler(tenants *tenant.Resolver, rules *automation.RuleStore, ledger *automation.Ledger, notifications *automation.NotificationStore) *AutomationHandler {
	return &AutomationHandler{tenants: tenants, rules: rules, ledger: ledger, notifications: notifications}
}

// GetRules returns the tenant's rules in evaluation order
func (h *AutomationHandler) GetRules(c *gin.Context) {
	owner, ok := tenantOf(c, h.tenants)
	if !ok {
		return
	}
	rules, err := h.rules.List(c.Request.Context(), owner)
	if err != nil {
		respondError(c, err)
		return
	}
	if rules == nil {
		rules = []models.AutomationRule{}
	}
	c.JSON(http.StatusOK, rules)
}

func (h *AutomationHandler) GetRule(c *gin.Context) {
	owner, ok := tenantOf(c, h.tenants)
	if !ok {
		return
	}
	rule, err := h.rules.Get(c.Request.Context(), owner, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// CreateRule validates the trigger configuration before anything is stored
func (h *AutomationHandler) CreateRule(c *gin.Context) {
	owner, ok := tenantOf(c, h.tenants)
	if !ok {
		return
	}
	var req automation.RuleInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rule, err := h.rules.Create(c.Request.Context(), owner, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (h *AutomationHandler) UpdateRule(c *gin.Context) {
	owner, ok := tenantOf(c, h.tenants)
	if !ok {
		return
	}
	var req automation.RuleInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rule, err := h.rules.Update(c.Request.Context(), owner, c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h *AutomationHandler) DeleteRule(c *gin.Context) {
	owner, ok := tenantOf(c, h.tenants)
	if !ok {
		return
	}
	if err := h.rules.Delete(c.Request.Context(), owner, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Rule deleted successfully"})
}

// ToggleRule enables or disables a rule
func (h *AutomationHandler) ToggleRule(c *gin.Context) {
	owner, ok := tenantOf(c, h.tenants)
	if !ok {
		return
	}
	var req struct {
		Active bool `json:"active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.rules.SetActive(c.Request.Context(), owner, c.Param("id"), req.Active); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Rule updated successfully", "active": req.Active})
}

// GetLogs returns the latest ledger rows, newest first
func (h *AutomationHandler) GetLogs(c *gin.Context) {
	owner, ok := tenantOf(c, h.tenants)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	logs, err := h.ledger.List(c.Request.Context(), owner, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if logs == nil {
		logs = []models.AutomationLog{}
	}
	c.JSON(http.StatusOK, logs)
}

func (h *AutomationHandler) GetAnalytics(c *gin.Context) {
	owner, ok := tenantOf(c, h.tenants)
	if !ok {
		return
	}
	stats, err := h.rules.Analytics(c.Request.Context(), owner)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *AutomationHandler) GetNotifications(c *gin.Context) {
	owner, ok := tenantOf(c, h.tenants)
	if !ok {
		return
	}
	settings, err := h.notifications.List(c.Request.Context(), owner)
	if err != nil {
		respondError(c, err)
		return
	}
	if settings == nil {
		settings = []models.NotificationSetting{}
	}
	c.JSON(http.StatusOK, settings)
}

func (h *AutomationHandler) CreateNotification(c *gin.Context) {
	owner, ok := tenantOf(c, h.tenants)
	if !ok {
		return
	}
	var req automation.NotificationInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	setting, err := h.notifications.Create(c.Request.Context(), owner, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, setting)
}

func (h *AutomationHandler) UpdateNotification(c *gin.Context) {
	owner, ok := tenantOf(c, h.tenants)
	if !ok {
		return
	}
	var req automation.NotificationInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	setting, err := h.notifications.Update(c.Request.Context(), owner, c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, setting)
}

func (h *AutomationHandler) DeleteNotification(c *gin.Context) {
	owner, ok := tenantOf(c, h.tenants)
	if !ok {
		return
	}
	if err := h.notifications.Delete(c.Request.Context(), owner, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Notification deleted successfully"})
}
