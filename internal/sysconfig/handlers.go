package sysconfig

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides the admin bootstrap endpoints.
type Handler struct {
	service *Service
}

// NewHandler creates a sysconfig handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterAdminRoutes sets up admin-only configuration routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/admin/config", h.GetConfig)
	r.POST("/admin/config", h.Bootstrap)
}

// GetConfig handles GET /v1/admin/config
func (h *Handler) GetConfig(c *gin.Context) {
	cfg, _, err := h.service.Load(c.Request.Context())
	if err != nil {
		if errors.Is(err, ErrNotConfigured) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_configured",
				"message": "Platform has not been bootstrapped",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load configuration",
		})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// BootstrapRequest is the one-time platform configuration payload.
type BootstrapRequest struct {
	AdminWalletID string `json:"adminWalletId" binding:"required"`
	IssuanceID    string `json:"issuanceId" binding:"required"`
	TokenCode     string `json:"tokenCode" binding:"required"`
}

// Bootstrap handles POST /v1/admin/config
func (h *Handler) Bootstrap(c *gin.Context) {
	var req BootstrapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	cfg, err := h.service.Bootstrap(c.Request.Context(), req.AdminWalletID, req.IssuanceID, req.TokenCode)
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadyConfigured):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "already_configured",
				"message": "Platform is already configured",
			})
		default:
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "bootstrap_failed",
				"message": err.Error(),
			})
		}
		return
	}
	c.JSON(http.StatusCreated, cfg)
}
