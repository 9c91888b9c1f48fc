package sysconfig

import (
	"context"
	"errors"
	"testing"

	"github.com/fashionpoint/platform/internal/account"
)

func TestBootstrap_Once(t *testing.T) {
	ctx := context.Background()
	wallets := account.NewMemoryStore()
	svc := NewService(NewMemoryStore(), wallets)

	admin := account.NewWallet(account.AccountOwner("admin-1"), "rAdmin111", "sAdminSeed")
	if err := wallets.CreateWallet(ctx, admin); err != nil {
		t.Fatal(err)
	}

	cfg, err := svc.Bootstrap(ctx, admin.ID, "issuance-1", "FASHIONPOINT")
	if err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	if cfg.IssuanceID != "issuance-1" || cfg.TokenCode != "FASHIONPOINT" {
		t.Errorf("unexpected config: %+v", cfg)
	}

	if _, err := svc.Bootstrap(ctx, admin.ID, "issuance-2", "OTHER"); !errors.Is(err, ErrAlreadyConfigured) {
		t.Errorf("expected ErrAlreadyConfigured, got %v", err)
	}
}

func TestBootstrap_RejectsUnknownWallet(t *testing.T) {
	svc := NewService(NewMemoryStore(), account.NewMemoryStore())
	if _, err := svc.Bootstrap(context.Background(), "missing", "issuance-1", "FP"); err == nil {
		t.Error("expected error for unknown admin wallet")
	}
}

func TestLoad_NotConfigured(t *testing.T) {
	svc := NewService(NewMemoryStore(), account.NewMemoryStore())
	if _, _, err := svc.Load(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestLoad_ResolvesAdminWallet(t *testing.T) {
	ctx := context.Background()
	wallets := account.NewMemoryStore()
	svc := NewService(NewMemoryStore(), wallets)

	admin := account.NewWallet(account.AccountOwner("admin-1"), "rAdmin111", "sAdminSeed")
	if err := wallets.CreateWallet(ctx, admin); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Bootstrap(ctx, admin.ID, "issuance-1", "FP"); err != nil {
		t.Fatal(err)
	}

	cfg, w, err := svc.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.AdminWalletID != admin.ID {
		t.Errorf("unexpected admin wallet id %s", cfg.AdminWalletID)
	}
	if w.Address != "rAdmin111" || w.Seed != "sAdminSeed" {
		t.Errorf("unexpected signing wallet: %+v", w)
	}
}
