package order

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory order store for demo/development mode.
type MemoryStore struct {
	orders   map[string]*Order
	events   map[string][]*Event
	payments map[string][]*Payment
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory order store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:   make(map[string]*Order),
		events:   make(map[string][]*Event),
		payments: make(map[string][]*Payment),
	}
}

func (m *MemoryStore) Create(ctx context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[id]; !ok {
		return ErrOrderNotFound
	}
	delete(m.orders, id)
	delete(m.events, id)
	delete(m.payments, id)
	return nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id string, from, to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateStatusLocked(id, from, to)
}

func (m *MemoryStore) updateStatusLocked(id string, from, to Status) error {
	o, ok := m.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	if o.Status != from {
		return fmt.Errorf("%w: order %s is %s, want %s", ErrStatusConflict, id, o.Status, from)
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) MarkPaid(ctx context.Context, s *Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markPaidLocked(s)
}

func (m *MemoryStore) MarkBatchPaid(ctx context.Context, batch []*Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// All-or-nothing: check every precondition before writing anything.
	for _, s := range batch {
		o, ok := m.orders[s.OrderID]
		if !ok {
			return ErrOrderNotFound
		}
		if o.Status != StatusCreated {
			return fmt.Errorf("%w: order %s is %s", ErrStatusConflict, s.OrderID, o.Status)
		}
	}
	for _, s := range batch {
		if err := m.markPaidLocked(s); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) markPaidLocked(s *Settlement) error {
	if err := m.updateStatusLocked(s.OrderID, StatusCreated, StatusPaid); err != nil {
		return err
	}
	if s.Payment != nil {
		cp := *s.Payment
		m.payments[s.OrderID] = append(m.payments[s.OrderID], &cp)
	}
	for _, ev := range s.Events {
		cp := *ev
		m.events[s.OrderID] = append(m.events[s.OrderID], &cp)
	}
	return nil
}

func (m *MemoryStore) ListByBuyer(ctx context.Context, buyerID string, limit int) ([]*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Order
	for _, o := range m.orders {
		if o.BuyerID == buyerID {
			cp := *o
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ListPaidBefore(ctx context.Context, before time.Time, limit int) ([]*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Order
	for _, o := range m.orders {
		if o.Status == StatusPaid && o.CreatedAt.Before(before) {
			cp := *o
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) AppendEvent(ctx context.Context, ev *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *ev
	m.events[ev.OrderID] = append(m.events[ev.OrderID], &cp)
	return nil
}

func (m *MemoryStore) ListEvents(ctx context.Context, orderID string) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	evs := m.events[orderID]
	result := make([]*Event, 0, len(evs))
	for _, ev := range evs {
		cp := *ev
		result = append(result, &cp)
	}
	return result, nil
}

func (m *MemoryStore) ListPayments(ctx context.Context, orderID string) ([]*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ps := m.payments[orderID]
	result := make([]*Payment, 0, len(ps))
	for _, p := range ps {
		cp := *p
		result = append(result, &cp)
	}
	return result, nil
}
