package sysconfig

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory sysconfig store for demo/development mode.
type MemoryStore struct {
	cfg *GlobalConfig
	mu  sync.RWMutex
}

// NewMemoryStore creates a new in-memory sysconfig store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Get(ctx context.Context) (*GlobalConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.cfg == nil {
		return nil, ErrNotConfigured
	}
	cp := *m.cfg
	return &cp, nil
}

func (m *MemoryStore) Put(ctx context.Context, cfg *GlobalConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *cfg
	m.cfg = &cp
	return nil
}
