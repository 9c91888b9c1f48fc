package catalog

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fashionpoint/platform/internal/validation"
)

// Handler provides HTTP endpoints for the catalog.
type Handler struct {
	store Store
}

// NewHandler creates a catalog handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterProtectedRoutes sets up auth-required catalog routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/products", h.ListProducts)
	r.GET("/products/:id", h.GetProduct)
}

// RegisterAdminRoutes sets up admin-only catalog routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/admin/companies", h.CreateCompany)
	r.POST("/admin/products", h.CreateProduct)
}

// ListProducts handles GET /v1/products
func (h *Handler) ListProducts(c *gin.Context) {
	products, err := h.store.ListProducts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list products",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products, "count": len(products)})
}

// GetProduct handles GET /v1/products/:id
func (h *Handler) GetProduct(c *gin.Context) {
	p, err := h.store.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Product not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load product",
		})
		return
	}
	c.JSON(http.StatusOK, p)
}

// CreateCompanyRequest is the admin company payload.
type CreateCompanyRequest struct {
	Name     string `json:"name" binding:"required"`
	Approved bool   `json:"approved"`
}

// CreateCompany handles POST /v1/admin/companies
func (h *Handler) CreateCompany(c *gin.Context) {
	var req CreateCompanyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	company := NewCompany(req.Name)
	company.Approved = req.Approved
	if err := h.store.CreateCompany(c.Request.Context(), company); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to create company",
		})
		return
	}
	c.JSON(http.StatusCreated, company)
}

// CreateProductRequest is the admin product payload.
type CreateProductRequest struct {
	CompanyID  string `json:"companyId" binding:"required"`
	Name       string `json:"name" binding:"required"`
	PriceDrops int64  `json:"priceDrops" binding:"required"`
	ReturnDays int    `json:"returnDays"`
}

// CreateProduct handles POST /v1/admin/products
func (h *Handler) CreateProduct(c *gin.Context) {
	var req CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if errs := validation.Validate(
		validation.Required("companyId", req.CompanyID),
		validation.Required("name", req.Name),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": errs.Error()})
		return
	}
	if req.PriceDrops <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "priceDrops must be positive",
		})
		return
	}

	if _, err := h.store.GetCompany(c.Request.Context(), req.CompanyID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Company not found",
		})
		return
	}

	p := NewProduct(req.CompanyID, req.Name, req.PriceDrops, req.ReturnDays)
	if err := h.store.CreateProduct(c.Request.Context(), p); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to create product",
		})
		return
	}
	c.JSON(http.StatusCreated, p)
}
