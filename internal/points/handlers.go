package points

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/fashionpoint/platform/internal/pagination"
	"github.com/fashionpoint/platform/internal/sysconfig"
	"github.com/fashionpoint/platform/internal/validation"
	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for the points ledger.
type Handler struct {
	service *Service
}

// NewHandler creates a new points handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up auth-required points routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/points/balance", h.GetBalance)
	r.GET("/points/history", h.GetHistory)
}

// RegisterAdminRoutes sets up admin-only points routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/admin/points/send", h.SendPoints)
}

// GetBalance handles GET /v1/points/balance
func (h *Handler) GetBalance(c *gin.Context) {
	accountID := c.GetString("authAccountID")

	balance, err := h.service.Balance(c.Request.Context(), accountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to compute balance",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"accountId": accountID,
		"balance":   balance,
	})
}

// GetHistory handles GET /v1/points/history with cursor pagination.
func (h *Handler) GetHistory(c *gin.Context) {
	accountID := c.GetString("authAccountID")

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "invalid cursor",
		})
		return
	}
	var before time.Time
	if cursor != nil {
		before = cursor.CreatedAt
	}

	// Fetch one extra row to detect whether another page exists.
	entries, err := h.service.History(c.Request.Context(), accountID, before, limit+1)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load history",
		})
		return
	}

	entries, next, hasMore := pagination.ComputePage(entries, limit, func(e *Entry) (time.Time, string) {
		return e.CreatedAt, e.ID
	})

	c.JSON(http.StatusOK, gin.H{
		"entries":    entries,
		"nextCursor": next,
		"hasMore":    hasMore,
	})
}

// SendPointsRequest is the admin credit payload.
type SendPointsRequest struct {
	RecipientEmail string `json:"recipientEmail" binding:"required"`
	Amount         string `json:"amount" binding:"required"`
	Note           string `json:"note"`
}

// SendPoints handles POST /v1/admin/points/send
func (h *Handler) SendPoints(c *gin.Context) {
	var req SendPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidAmount("amount", req.Amount),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	amount, err := ParseAmount(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "amount must be a non-negative integer",
		})
		return
	}

	entry, err := h.service.AdminCredit(c.Request.Context(), req.RecipientEmail, amount, validation.SanitizeNote(req.Note))
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": "amount must be positive",
			})
		case errors.Is(err, sysconfig.ErrNotConfigured):
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "not_configured",
				"message": "Settlement configuration missing; bootstrap the platform first",
			})
		default:
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   "credit_failed",
				"message": "Failed to send points",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"entry": entry})
}
