package escrow

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for escrow inspection and recovery.
type Handler struct {
	service *Service
}

// NewHandler creates a new escrow handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up auth-required escrow routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/escrows/:id", h.GetEscrow)
	r.GET("/escrows/:id/status", h.GetLedgerStatus)
}

// RegisterAdminRoutes sets up admin-only escrow routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/admin/escrows/finish", h.ManualFinish)
}

// GetEscrow handles GET /v1/escrows/:id
func (h *Handler) GetEscrow(c *gin.Context) {
	e, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrEscrowNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Escrow not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load escrow",
		})
		return
	}
	c.JSON(http.StatusOK, e)
}

// GetLedgerStatus handles GET /v1/escrows/:id/status
//
// Returns the live on-ledger view next to the local row; Exists=false is
// a normal answer for an escrow already settled on the ledger.
func (h *Handler) GetLedgerStatus(c *gin.Context) {
	e, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrEscrowNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Escrow not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load escrow",
		})
		return
	}

	status, err := h.service.Status(c.Request.Context(), e.OwnerAddress, e.CreateTxSeq)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "ledger_unavailable",
			"message": "Failed to query ledger",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"escrow": e,
		"ledger": status,
	})
}

// ManualFinishRequest identifies the escrow to recover.
type ManualFinishRequest struct {
	EscrowID string `json:"escrowId" binding:"required"`
}

// ManualFinish handles POST /v1/admin/escrows/finish
//
// Runs the same release ladder as the reconciliation sweep for a single
// escrow, used for operational recovery.
func (h *Handler) ManualFinish(c *gin.Context) {
	var req ManualFinishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	e, err := h.service.Get(c.Request.Context(), req.EscrowID)
	if err != nil {
		if errors.Is(err, ErrEscrowNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Escrow not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load escrow",
		})
		return
	}

	receipt, err := h.service.Release(c.Request.Context(), e)
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadyResolved):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "already_resolved",
				"message": "Escrow is already released or canceled",
			})
		case errors.Is(err, ErrNotReleasable):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "not_releasable",
				"message": "Escrow has not reached its finish time",
			})
		default:
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   "release_failed",
				"message": "Failed to release escrow",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"escrowId": e.ID,
		"receipt":  receipt,
	})
}
