package order

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/fashionpoint/platform/internal/catalog"
	"github.com/fashionpoint/platform/internal/points"
	"github.com/fashionpoint/platform/internal/validation"
	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for the order pipeline.
type Handler struct {
	service *Service
}

// NewHandler creates a new order handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up auth-required order routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/orders", h.CreateOrder)
	r.POST("/orders/batch", h.BatchCreateOrders)
	r.GET("/orders", h.ListOrders)
	r.GET("/orders/:id", h.GetOrder)
	r.POST("/orders/:id/pay", h.PayOrder)
	r.POST("/orders/:id/complete", h.CompleteOrder)
	r.POST("/orders/:id/refund", h.RefundOrder)
}

// CreateOrderRequest is the create payload. PointsToUse is a strict
// integer string, matching the wire format of point amounts everywhere.
type CreateOrderRequest struct {
	ProductID   string `json:"productId" binding:"required"`
	Quantity    int    `json:"quantity" binding:"required"`
	PointsToUse string `json:"pointsToUse"`
}

// CreateOrder handles POST /v1/orders
func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	var pointsToUse int64
	if req.PointsToUse != "" {
		var err error
		pointsToUse, err = points.ParseAmount(req.PointsToUse)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": "pointsToUse must be a non-negative integer",
			})
			return
		}
	}

	buyerID := c.GetString("authAccountID")
	o, err := h.service.Create(c.Request.Context(), buyerID, req.ProductID, req.Quantity, pointsToUse)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

// BatchCreateRequest is the batch purchase payload.
type BatchCreateRequest struct {
	Items []BatchItem `json:"items" binding:"required,min=1"`
}

// BatchCreateOrders handles POST /v1/orders/batch
func (h *Handler) BatchCreateOrders(c *gin.Context) {
	var req BatchCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	buyerID := c.GetString("authAccountID")
	orders, err := h.service.BatchCreate(c.Request.Context(), buyerID, req.Items)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"orders": orders})
}

// ListOrders handles GET /v1/orders
func (h *Handler) ListOrders(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	buyerID := c.GetString("authAccountID")
	orders, err := h.service.ListByBuyer(c.Request.Context(), buyerID, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// GetOrder handles GET /v1/orders/:id
//
// Returns the order with its full settlement timeline.
func (h *Handler) GetOrder(c *gin.Context) {
	detail, err := h.service.GetDetail(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// PayOrder handles POST /v1/orders/:id/pay
func (h *Handler) PayOrder(c *gin.Context) {
	o, err := h.service.Pay(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// CompleteOrder handles POST /v1/orders/:id/complete
func (h *Handler) CompleteOrder(c *gin.Context) {
	result, err := h.service.Complete(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// RefundOrderRequest carries the optional refund reason.
type RefundOrderRequest struct {
	Reason string `json:"reason"`
}

// RefundOrder handles POST /v1/orders/:id/refund
func (h *Handler) RefundOrder(c *gin.Context) {
	var req RefundOrderRequest
	_ = c.ShouldBindJSON(&req)

	o, err := h.service.Refund(c.Request.Context(), c.Param("id"), validation.SanitizeNote(req.Reason))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var insufficient *InsufficientPointsError
	var expired *RefundWindowExpiredError

	switch {
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, catalog.ErrProductNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": err.Error(),
		})
	case errors.As(err, &insufficient):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":     "insufficient_points",
			"message":   err.Error(),
			"requested": insufficient.Requested,
			"available": insufficient.Available,
		})
	case errors.As(err, &expired):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "refund_window_expired",
			"message": err.Error(),
		})
	case errors.Is(err, ErrStatusConflict), errors.Is(err, ErrNoMaturedEscrows):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "status_conflict",
			"message": err.Error(),
		})
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrPointsExceedTotal),
		errors.Is(err, points.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": err.Error(),
		})
	case errors.Is(err, ErrPaymentFailed):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "payment_failed",
			"message": "Ledger payment was rejected or timed out",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Order operation failed",
		})
	}
}
