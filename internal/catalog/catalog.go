// Package catalog holds the product and company records the settlement
// pipeline reads: prices, return windows, and the selling company's wallet
// linkage. The storefront CRUD around these lives elsewhere.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrCompanyNotFound = errors.New("company not found")
)

// Company is a selling principal. Its wallet is looked up through the
// account store by company owner tag.
type Company struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Approved  bool      `json:"approved"`
	CreatedAt time.Time `json:"createdAt"`
}

// Product is a purchasable item. PriceDrops is the unit price in minor
// currency units; ReturnDays gates refunds and escrow maturity.
type Product struct {
	ID         string    `json:"id"`
	CompanyID  string    `json:"companyId"`
	Name       string    `json:"name"`
	PriceDrops int64     `json:"priceDrops"`
	ReturnDays int       `json:"returnDays"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Store persists catalog data.
type Store interface {
	CreateCompany(ctx context.Context, c *Company) error
	GetCompany(ctx context.Context, id string) (*Company, error)
	CreateProduct(ctx context.Context, p *Product) error
	GetProduct(ctx context.Context, id string) (*Product, error)
	GetProducts(ctx context.Context, ids []string) ([]*Product, error)
	ListProducts(ctx context.Context) ([]*Product, error)
}

// NewCompany builds a company row with a fresh ID.
func NewCompany(name string) *Company {
	return &Company{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
}

// NewProduct builds a product row with a fresh ID.
func NewProduct(companyID, name string, priceDrops int64, returnDays int) *Product {
	return &Product{
		ID:         uuid.NewString(),
		CompanyID:  companyID,
		Name:       name,
		PriceDrops: priceDrops,
		ReturnDays: returnDays,
		CreatedAt:  time.Now().UTC(),
	}
}
