package catalog

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// PostgresStore persists catalog data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed catalog store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateCompany(ctx context.Context, c *Company) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO companies (id, name, approved, created_at)
		VALUES ($1, $2, $3, $4)`,
		c.ID, c.Name, c.Approved, c.CreatedAt,
	)
	return err
}

func (p *PostgresStore) GetCompany(ctx context.Context, id string) (*Company, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, name, approved, created_at FROM companies WHERE id = $1`, id)

	var c Company
	err := row.Scan(&c.ID, &c.Name, &c.Approved, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrCompanyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (p *PostgresStore) CreateProduct(ctx context.Context, prod *Product) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO products (id, company_id, name, price_drops, return_days, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		prod.ID, prod.CompanyID, prod.Name, prod.PriceDrops, prod.ReturnDays, prod.CreatedAt,
	)
	return err
}

const productColumns = `id, company_id, name, price_drops, return_days, created_at`

func (p *PostgresStore) GetProduct(ctx context.Context, id string) (*Product, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+productColumns+` FROM products WHERE id = $1`, id)

	var prod Product
	err := row.Scan(&prod.ID, &prod.CompanyID, &prod.Name, &prod.PriceDrops, &prod.ReturnDays, &prod.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return &prod, nil
}

func (p *PostgresStore) ListProducts(ctx context.Context) ([]*Product, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+productColumns+` FROM products ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Product
	for rows.Next() {
		var prod Product
		if err := rows.Scan(&prod.ID, &prod.CompanyID, &prod.Name, &prod.PriceDrops, &prod.ReturnDays, &prod.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &prod)
	}
	return result, rows.Err()
}

func (p *PostgresStore) GetProducts(ctx context.Context, ids []string) ([]*Product, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[string]*Product, len(ids))
	for rows.Next() {
		var prod Product
		if err := rows.Scan(&prod.ID, &prod.CompanyID, &prod.Name, &prod.PriceDrops, &prod.ReturnDays, &prod.CreatedAt); err != nil {
			return nil, err
		}
		byID[prod.ID] = &prod
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Preserve request order and fail on any missing product.
	result := make([]*Product, 0, len(ids))
	for _, id := range ids {
		prod, ok := byID[id]
		if !ok {
			return nil, ErrProductNotFound
		}
		result = append(result, prod)
	}
	return result, nil
}
