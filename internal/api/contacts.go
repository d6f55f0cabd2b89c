package api

import (
	"encoding/csv"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"engagement-engine/internal/automation"
	"engagement-engine/internal/models"
	"engagement-engine/internal/tenant"
	"engagement-engine/internal/whatsapp"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const birthDateLayout = "2006-01-02"

type ContactHandler struct {
	db      *gorm.DB
	engine  *automation.Engine
	tenants *tenant.Resolver
	logger  *slog.Logger
}

func NewContactHandler(db *gorm.DB, engine *automation.Engine, tenants *tenant.Resolver, logger *slog.Logger) *ContactHandler {
	return &ContactHandler{db: db, engine: engine, tenants: tenants, logger: logger}
}

// contacts lists the tenant's contacts, including those its agents created.
func (h *ContactHandler) contacts(c *gin.Context, owner string) ([]models.Contact, error) {
	members, err := h.tenants.Members(c.Request.Context(), owner)
	if err != nil {
		return nil, err
	}
	q := h.db.WithContext(c.Request.Context()).Where("owner_id IN ?", members)
	if tag := c.Query("tag"); tag != "" {
		q = q.Where(datatypes.JSONArrayQuery("tags").Contains(tag))
	}
	contacts := []models.Contact{}
	if err := q.Order("created_at DESC").Find(&contacts).Error; err != nil {
		return nil, err
	}
	return contacts, nil
}

func (h *ContactHandler) GetContacts(c *gin.Context) {
	owner, ok := tenantOf(c, h.tenants)
	if !ok {
		return
	}
	contacts, err := h.contacts(c, owner)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contacts)
}

type ContactRequest struct {
	Name      string   `json:"name"`
	Phone     string   `json:"phone"`
	Email     string   `json:"email"`
	Tags      []string `json:"tags"`
	BirthDate string   `json:"birth_date"`
	Active    *bool    `json:"active"`
}

func (r ContactRequest) apply(contact *models.Contact) error {
	if r.Name != "" {
		contact.Name = r.Name
	}
	if r.Phone != "" {
		contact.Phone = whatsapp.NormalizePhone(r.Phone)
	}
	if r.Email != "" {
		contact.Email = r.Email
	}
	if r.Tags != nil {
		contact.Tags = r.Tags
	}
	if r.BirthDate != "" {
		birth, err := time.Parse(birthDateLayout, r.BirthDate)
		if err != nil {
			return err
		}
		contact.BirthDate = &birth
	}
	if r.Active != nil {
		contact.Active = *r.Active
	}
	return nil
}

// CreateContact stores a contact and runs the welcome rules for it.
func (h *ContactHandler) CreateContact(c *gin.Context) {
	owner := c.Query("ownerId")
	if owner == "" {
		owner = c.GetHeader("X-Owner-ID")
	}
	if owner == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ownerId is required"})
		return
	}
	var req ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if whatsapp.NormalizePhone(req.Phone) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "phone is required"})
		return
	}

	contact := models.Contact{OwnerID: owner, Active: true}
	if err := req.apply(&contact); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "birth_date must be YYYY-MM-DD"})
		return
	}
	if contact.Name == "" {
		contact.Name = contact.Phone
	}
	if err := h.db.WithContext(c.Request.Context()).Create(&contact).Error; err != nil {
		respondError(c, err)
		return
	}

	summary, err := h.engine.Welcome(c.Request.Context(), contact.ID, automation.EventContactCreated)
	if err != nil {
		h.logger.Error("welcome on contact creation", "contact", contact.ID, "error", err)
	}
	c.JSON(http.StatusCreated, gin.H{"contact": contact, "welcome": summary})
}

func (h *ContactHandler) UpdateContact(c *gin.Context) {
	owner, ok := tenantOf(c, h.tenants)
	if !ok {
		return
	}
	var req ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	members, err := h.tenants.Members(c.Request.Context(), owner)
	if err != nil {
		respondError(c, err)
		return
	}

	db := h.db.WithContext(c.Request.Context())
	var contact models.Contact
	if err := db.Where("id = ? AND owner_id IN ?", c.Param("id"), members).First(&contact).Error; err != nil {
		respondError(c, err)
		return
	}
	if err := req.apply(&contact); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "birth_date must be YYYY-MM-DD"})
		return
	}
	if err := db.Save(&contact).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contact)
}

func (h *ContactHandler) DeleteContact(c *gin.Context) {
	owner, ok := tenantOf(c, h.tenants)
	if !ok {
		return
	}
	members, err := h.tenants.Members(c.Request.Context(), owner)
	if err != nil {
		respondError(c, err)
		return
	}

	result := h.db.WithContext(c.Request.Context()).
		Where("id = ? AND owner_id IN ?", c.Param("id"), members).
		Delete(&models.Contact{})
	if result.Error != nil {
		respondError(c, result.Error)
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Contact not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Contact deleted"})
}

func (h *ContactHandler) ExportContacts(c *gin.Context) {
	owner, ok := tenantOf(c, h.tenants)
	if !ok {
		return
	}
	contacts, err := h.contacts(c, owner)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename=contacts.csv")
	c.Status(http.StatusOK)

	w := csv.NewWriter(c.Writer)
	w.Write([]string{"Phone", "Name", "Email", "Tags", "Birth Date", "Active", "Created At"})
	for _, contact := range contacts {
		birth := ""
		if contact.BirthDate != nil {
			birth = contact.BirthDate.Format(birthDateLayout)
		}
		active := "no"
		if contact.Active {
			active = "yes"
		}
		w.Write([]string{
			contact.Phone,
			contact.Name,
			contact.Email,
			strings.Join(contact.Tags, ";"),
			birth,
			active,
			contact.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	w.Flush()
}
