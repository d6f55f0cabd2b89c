package api

import (
	"net/http"

	"engagement-engine/internal/automation"
	"engagement-engine/internal/models"
	"engagement-engine/internal/runner"

	"github.com/gin-gonic/gin"
)

// FunctionsHandler exposes the trigger evaluators to external schedulers and
// to the collaborators that change contacts and tickets.
type FunctionsHandler struct {
	engine *automation.Engine
	runner *runner.Runner
}

func NewFunctionsHandler(engine *automation.Engine, r *runner.Runner) *FunctionsHandler {
	return &FunctionsHandler{engine: engine, runner: r}
}

func (h *FunctionsHandler) sweep(c *gin.Context, kinds ...automation.TriggerType) {
	var tenants []string
	if id := c.Query("tenant"); id != "" {
		tenants = append(tenants, id)
	}
	result, err := h.runner.Sweep(c.Request.Context(), kinds, tenants...)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *FunctionsHandler) Birthday(c *gin.Context) {
	h.sweep(c, automation.TriggerBirthday)
}

func (h *FunctionsHandler) NoResponse(c *gin.Context) {
	h.sweep(c, automation.TriggerNoResponse)
}

func (h *FunctionsHandler) Schedule(c *gin.Context) {
	h.sweep(c, automation.TriggerSchedule)
}

// Sweep runs every polled evaluator, or the ones listed in ?only=.
func (h *FunctionsHandler) Sweep(c *gin.Context) {
	kinds, err := runner.ParseKinds(c.Query("only"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.sweep(c, kinds...)
}

type welcomeRequest struct {
	ContactID string `json:"contactId" binding:"required"`
	EventType string `json:"eventType"`
}

func (h *FunctionsHandler) Welcome(c *gin.Context) {
	var req welcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.EventType == "" {
		req.EventType = automation.EventContactCreated
	}
	if req.EventType != automation.EventContactCreated && req.EventType != automation.EventFirstMessage {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown eventType " + req.EventType})
		return
	}

	summary, err := h.engine.Welcome(c.Request.Context(), req.ContactID, req.EventType)
	if err != nil {
		respondError(c, err)
		return
	}
	if summary == nil {
		c.JSON(http.StatusOK, gin.H{"status": "no rule applies"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

type ticketStatusRequest struct {
	TicketID  string `json:"ticketId" binding:"required"`
	EventType string `json:"eventType"`
}

func (h *FunctionsHandler) TicketStatus(c *gin.Context) {
	var req ticketStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.EventType != "" && req.EventType != models.EventStatusChange {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown eventType " + req.EventType})
		return
	}

	summaries, err := h.engine.TicketStatus(c.Request.Context(), req.TicketID)
	if err != nil {
		respondError(c, err)
		return
	}
	if summaries == nil {
		summaries = []automation.RuleSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"rules": summaries})
}
