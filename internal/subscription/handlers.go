package subscription

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for subscriptions.
type Handler struct {
	service *Service
}

// NewHandler creates a subscription handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up auth-required subscription routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/plans", h.ListPlans)
	r.POST("/subscriptions", h.Subscribe)
	r.GET("/subscriptions/:id", h.GetSubscription)
	r.POST("/subscriptions/:id/cancel", h.CancelSubscription)
}

// RegisterAdminRoutes sets up admin-only subscription routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/admin/plans", h.CreatePlan)
}

// CreatePlanRequest is the admin plan-create payload.
type CreatePlanRequest struct {
	Name       string `json:"name" binding:"required"`
	PriceDrops int64  `json:"priceDrops" binding:"required"`
}

// CreatePlan handles POST /v1/admin/plans
func (h *Handler) CreatePlan(c *gin.Context) {
	var req CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	plan, err := h.service.CreatePlan(c.Request.Context(), req.Name, req.PriceDrops)
	if err != nil {
		if errors.Is(err, ErrInvalidPlan) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to create plan",
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"plan": plan})
}

// ListPlans handles GET /v1/plans
func (h *Handler) ListPlans(c *gin.Context) {
	plans, err := h.service.store.ListPlans(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list plans",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

// SubscribeRequest is the subscribe payload.
type SubscribeRequest struct {
	CompanyID string `json:"companyId" binding:"required"`
	PlanID    string `json:"planId" binding:"required"`
}

// Subscribe handles POST /v1/subscriptions
func (h *Handler) Subscribe(c *gin.Context) {
	var req SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	sub, err := h.service.Subscribe(c.Request.Context(), req.CompanyID, req.PlanID)
	if err != nil {
		switch {
		case errors.Is(err, ErrPlanNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Plan not found",
			})
		case errors.Is(err, ErrAlreadySubscribed):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "already_subscribed",
				"message": "Company already has an active subscription",
			})
		default:
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   "payment_failed",
				"message": "Subscription payment failed",
			})
		}
		return
	}
	c.JSON(http.StatusCreated, sub)
}

// GetSubscription handles GET /v1/subscriptions/:id
func (h *Handler) GetSubscription(c *gin.Context) {
	sub, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Subscription not found",
		})
		return
	}
	c.JSON(http.StatusOK, sub)
}

// CancelSubscription handles POST /v1/subscriptions/:id/cancel
func (h *Handler) CancelSubscription(c *gin.Context) {
	sub, err := h.service.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Subscription not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to cancel subscription",
		})
		return
	}
	c.JSON(http.StatusOK, sub)
}
