package api

import (
	"net/http"

	"engagement-engine/internal/models"
	"engagement-engine/internal/tenant"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// TemplateHandler manages the reusable message bodies rules can point at.
type TemplateHandler struct {
	db      *gorm.DB
	tenants *tenant.Resolver
}

func NewTemplateHandler(db *gorm.DB, tenants *tenant.Resolver) *TemplateHandler {
	return &TemplateHandler{db: db, tenants: tenants}
}

type templateRequest struct {
	Name string `json:"name" binding:"required"`
	Body string `json:"body" binding:"required"`
}

// GetTemplates returns stored templates of the tenant
func (h *TemplateHandler) GetTemplates(c *gin.Context) {
	owner, ok := tenantOf(c, h.tenants)
	if !ok {
		return
	}
	templates := []models.MessageTemplate{}
	if err := h.db.WithContext(c.Request.Context()).Where("owner_id = ?", owner).Order("name ASC").Find(&templates).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, templates)
}

func (h *TemplateHandler) CreateTemplate(c *gin.Context) {
	owner, ok := tenantOf(c, h.tenants)
	if !ok {
		return
	}
	var req templateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tpl := models.MessageTemplate{OwnerID: owner, Name: req.Name, Body: req.Body}
	if err := h.db.WithContext(c.Request.Context()).Create(&tpl).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tpl)
}

func (h *TemplateHandler) UpdateTemplate(c *gin.Context) {
	owner, ok := tenantOf(c, h.tenants)
	if !ok {
		return
	}
	var req templateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	db := h.db.WithContext(c.Request.Context())
	var tpl models.MessageTemplate
	if err := db.Where("id = ? AND owner_id = ?", c.Param("id"), owner).First(&tpl).Error; err != nil {
		respondError(c, err)
		return
	}
	tpl.Name = req.Name
	tpl.Body = req.Body
	if err := db.Save(&tpl).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tpl)
}

// DeleteTemplate refuses to remove a template that a rule still renders.
func (h *TemplateHandler) DeleteTemplate(c *gin.Context) {
	owner, ok := tenantOf(c, h.tenants)
	if !ok {
		return
	}
	db := h.db.WithContext(c.Request.Context())
	id := c.Param("id")

	var inUse int64
	if err := db.Model(&models.AutomationRule{}).Where("owner_id = ? AND template_id = ?", owner, id).Count(&inUse).Error; err != nil {
		respondError(c, err)
		return
	}
	if inUse > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "Template is used by automation rules"})
		return
	}

	res := db.Where("id = ? AND owner_id = ?", id, owner).Delete(&models.MessageTemplate{})
	if res.Error != nil {
		respondError(c, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		respondError(c, gorm.ErrRecordNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Template deleted"})
}
