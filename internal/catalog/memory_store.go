package catalog

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory catalog store for demo/development mode.
type MemoryStore struct {
	companies map[string]*Company
	products  map[string]*Product
	mu        sync.RWMutex
}

// NewMemoryStore creates a new in-memory catalog store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		companies: make(map[string]*Company),
		products:  make(map[string]*Product),
	}
}

func (m *MemoryStore) CreateCompany(ctx context.Context, c *Company) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *c
	m.companies[c.ID] = &cp
	return nil
}

func (m *MemoryStore) GetCompany(ctx context.Context, id string) (*Company, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.companies[id]
	if !ok {
		return nil, ErrCompanyNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) CreateProduct(ctx context.Context, p *Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *p
	m.products[p.ID] = &cp
	return nil
}

func (m *MemoryStore) GetProduct(ctx context.Context, id string) (*Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) ListProducts(ctx context.Context) ([]*Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Product, 0, len(m.products))
	for _, p := range m.products {
		cp := *p
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *MemoryStore) GetProducts(ctx context.Context, ids []string) ([]*Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Product, 0, len(ids))
	for _, id := range ids {
		p, ok := m.products[id]
		if !ok {
			return nil, ErrProductNotFound
		}
		cp := *p
		result = append(result, &cp)
	}
	return result, nil
}
