package account

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fashionpoint/platform/internal/validation"
)

// Handler provides account and wallet endpoints. Account rows are imported
// by operators; there is no self-service signup surface here.
type Handler struct {
	store Store
}

// NewHandler creates an account handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterProtectedRoutes sets up auth-required account routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/me", h.GetMe)
}

// RegisterAdminRoutes sets up admin-only account routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/admin/accounts", h.CreateAccount)
	r.POST("/admin/wallets", h.CreateWallet)
}

// GetMe handles GET /v1/me
func (h *Handler) GetMe(c *gin.Context) {
	id := c.GetString("authAccountID")
	a, err := h.store.GetAccount(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Account not found",
		})
		return
	}

	resp := gin.H{"account": a}
	if w, err := h.store.WalletFor(c.Request.Context(), AccountOwner(id)); err == nil {
		resp["wallet"] = w
	}
	c.JSON(http.StatusOK, resp)
}

// CreateAccountRequest is the admin account import payload.
type CreateAccountRequest struct {
	Email       string `json:"email" binding:"required"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role" binding:"required"`
}

// CreateAccount handles POST /v1/admin/accounts
func (h *Handler) CreateAccount(c *gin.Context) {
	var req CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	role := Role(req.Role)
	switch role {
	case RoleUser, RoleCompany, RoleAdmin:
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "role must be USER, COMPANY, or ADMIN",
		})
		return
	}

	if _, err := h.store.GetAccountByEmail(c.Request.Context(), req.Email); err == nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "duplicate_email",
			"message": "Email already registered",
		})
		return
	}

	a := NewAccount(req.Email, req.DisplayName, role)
	if err := h.store.CreateAccount(c.Request.Context(), a); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "duplicate_email",
				"message": "Email already registered",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to create account",
		})
		return
	}
	c.JSON(http.StatusCreated, a)
}

// CreateWalletRequest attaches an existing ledger wallet to an owner.
type CreateWalletRequest struct {
	OwnerKind string `json:"ownerKind" binding:"required"` // "account" or "company"
	OwnerID   string `json:"ownerId" binding:"required"`
	Address   string `json:"address" binding:"required"`
	Seed      string `json:"seed"`
}

// CreateWallet handles POST /v1/admin/wallets
func (h *Handler) CreateWallet(c *gin.Context) {
	var req CreateWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if !validation.IsValidAddress(req.Address) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "address is not a valid ledger address",
		})
		return
	}

	kind := OwnerKind(req.OwnerKind)
	if kind != OwnerAccount && kind != OwnerCompany {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "ownerKind must be account or company",
		})
		return
	}

	w := NewWallet(WalletOwner{Kind: kind, ID: req.OwnerID}, req.Address, req.Seed)
	if err := h.store.CreateWallet(c.Request.Context(), w); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to create wallet",
		})
		return
	}
	c.JSON(http.StatusCreated, w)
}
