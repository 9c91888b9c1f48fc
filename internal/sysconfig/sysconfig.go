// Package sysconfig holds the process-wide settlement configuration: the
// issuing wallet and the token issuance every point movement references.
//
// The row is bootstrapped once and read-only afterwards. Callers load it
// fresh per operation rather than caching it, so an operator fix takes
// effect without a restart.
package sysconfig

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fashionpoint/platform/internal/account"
	"github.com/fashionpoint/platform/internal/xrpl"
	"github.com/google/uuid"
)

var (
	// ErrNotConfigured means the platform has not been bootstrapped.
	// Settlement operations must abort with an operator-facing message.
	ErrNotConfigured = errors.New("sysconfig: platform not configured")

	// ErrAlreadyConfigured guards the one-time bootstrap.
	ErrAlreadyConfigured = errors.New("sysconfig: platform already configured")
)

// GlobalConfig is the singleton settlement configuration.
type GlobalConfig struct {
	ID            string    `json:"id"`
	AdminWalletID string    `json:"adminWalletId"`
	IssuanceID    string    `json:"issuanceId"`
	TokenCode     string    `json:"tokenCode"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Store persists the singleton row.
type Store interface {
	Get(ctx context.Context) (*GlobalConfig, error)
	Put(ctx context.Context, cfg *GlobalConfig) error
}

// Service resolves the configuration together with the admin wallet.
type Service struct {
	store   Store
	wallets account.Store
}

// NewService creates a sysconfig service.
func NewService(store Store, wallets account.Store) *Service {
	return &Service{store: store, wallets: wallets}
}

// Bootstrap writes the singleton configuration once.
func (s *Service) Bootstrap(ctx context.Context, adminWalletID, issuanceID, tokenCode string) (*GlobalConfig, error) {
	if _, err := s.store.Get(ctx); err == nil {
		return nil, ErrAlreadyConfigured
	} else if !errors.Is(err, ErrNotConfigured) {
		return nil, err
	}

	if _, err := s.wallets.GetWallet(ctx, adminWalletID); err != nil {
		return nil, fmt.Errorf("resolve admin wallet: %w", err)
	}

	cfg := &GlobalConfig{
		ID:            uuid.NewString(),
		AdminWalletID: adminWalletID,
		IssuanceID:    issuanceID,
		TokenCode:     tokenCode,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.Put(ctx, cfg); err != nil {
		return nil, fmt.Errorf("persist config: %w", err)
	}
	return cfg, nil
}

// Load returns the configuration plus the signing admin wallet.
// A missing config or admin wallet is fatal for the calling operation.
func (s *Service) Load(ctx context.Context) (*GlobalConfig, xrpl.Wallet, error) {
	cfg, err := s.store.Get(ctx)
	if err != nil {
		return nil, xrpl.Wallet{}, err
	}

	w, err := s.wallets.GetWallet(ctx, cfg.AdminWalletID)
	if err != nil {
		return nil, xrpl.Wallet{}, fmt.Errorf("%w: admin wallet %s missing", ErrNotConfigured, cfg.AdminWalletID)
	}

	return cfg, xrpl.Wallet{Address: w.Address, Seed: w.Seed}, nil
}
