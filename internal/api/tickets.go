package api

import (
	"net/http"

	"engagement-engine/internal/clock"
	"engagement-engine/internal/tenant"
	"engagement-engine/internal/ticket"

	"github.com/gin-gonic/gin"
)

type TicketHandler struct {
	tickets *ticket.Manager
	tenants *tenant.Resolver
	clock   clock.Clock
}

func NewTicketHandler(tickets *ticket.Manager, tenants *tenant.Resolver, clk clock.Clock) *TicketHandler {
	return &TicketHandler{tickets: tickets, tenants: tenants, clock: clk}
}

func (h *TicketHandler) CreateTicket(c *gin.Context) {
	var req ticket.CreateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.OwnerID == "" {
		req.OwnerID = c.GetHeader("X-Owner-ID")
	}
	if req.OwnerID == "" || req.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_id and title are required"})
		return
	}

	t, err := h.tickets.Create(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h *TicketHandler) GetTicket(c *gin.Context) {
	t, err := h.tickets.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// UpdateTicket applies one transition and returns the ticket with the
// history row it produced.
func (h *TicketHandler) UpdateTicket(c *gin.Context) {
	var req ticket.UpdateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ActorID == "" {
		req.ActorID = c.GetHeader("X-Owner-ID")
	}

	t, entry, err := h.tickets.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": t, "history": entry})
}

func (h *TicketHandler) GetHistory(c *gin.Context) {
	rows, err := h.tickets.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *TicketHandler) ListTickets(c *gin.Context) {
	owner, ok := tenantOf(c, h.tenants)
	if !ok {
		return
	}
	tickets, err := h.tickets.List(c.Request.Context(), owner, c.Query("status"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tickets)
}

// GetSLAReport classifies the tenant's tickets against their deadlines.
func (h *TicketHandler) GetSLAReport(c *gin.Context) {
	owner := c.Query("ownerId")
	if owner == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ownerId is required"})
		return
	}
	report, err := h.tickets.Report(c.Request.Context(), owner, h.clock.Now())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
