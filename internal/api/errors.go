package api

import (
	"errors"
	"net/http"

	"engagement-engine/internal/automation"
	"engagement-engine/internal/database"
	"engagement-engine/internal/tenant"
	"engagement-engine/internal/ticket"
	"engagement-engine/internal/whatsapp"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	var cfgErr *automation.ConfigurationError
	var providerErr *automation.ProviderError
	var apiErr *whatsapp.Error
	switch {
	case errors.Is(err, automation.ErrRuleNotFound),
		errors.Is(err, automation.ErrSettingNotFound),
		errors.Is(err, automation.ErrContactNotFound),
		errors.Is(err, automation.ErrTicketNotFound),
		errors.Is(err, ticket.ErrTicketNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, automation.ErrInvalidRule),
		errors.Is(err, ticket.ErrInvalidStatus),
		errors.Is(err, ticket.ErrInvalidPriority),
		errors.Is(err, ticket.ErrNoChange),
		errors.Is(err, tenant.ErrInvalidTimezone):
		return http.StatusBadRequest
	case errors.As(err, &cfgErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &providerErr), errors.As(err, &apiErr):
		return http.StatusBadGateway
	case database.IsUniqueViolation(err):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	c.JSON(errorStatus(err), gin.H{"error": err.Error()})
}

// tenantOf reads the caller's owner reference from the ownerId query
// parameter or the X-Owner-ID header and maps it to its tenant. It writes a
// 400 and returns false when none was given.
func tenantOf(c *gin.Context, tenants *tenant.Resolver) (string, bool) {
	owner := c.Query("ownerId")
	if owner == "" {
		owner = c.GetHeader("X-Owner-ID")
	}
	if owner == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ownerId is required"})
		return "", false
	}
	id, err := tenants.EffectiveOwner(c.Request.Context(), owner)
	if err != nil {
		respondError(c, err)
		return "", false
	}
	return id, true
}
