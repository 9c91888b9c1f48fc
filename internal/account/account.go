// Package account holds principals and their ledger wallets.
//
// Every account and company owns exactly one wallet. Wallets never cache a
// balance: points come from folding the ledger entries, token balances from
// a live gateway query.
package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrWalletNotFound  = errors.New("wallet not found")
	ErrDuplicateEmail  = errors.New("email already registered")
)

// Role is the immutable role assigned at signup.
type Role string

const (
	RoleUser    Role = "USER"
	RoleCompany Role = "COMPANY"
	RoleAdmin   Role = "ADMIN"
)

// Account is an individual principal.
type Account struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	Role        Role      `json:"role"`
	CreatedAt   time.Time `json:"createdAt"`
}

// OwnerKind tags which table a wallet owner lives in.
type OwnerKind string

const (
	OwnerAccount OwnerKind = "account"
	OwnerCompany OwnerKind = "company"
)

// WalletOwner is a tagged reference to a wallet's owner, resolved once at
// the operation entry point instead of re-branching on role strings.
type WalletOwner struct {
	Kind OwnerKind `json:"kind"`
	ID   string    `json:"id"`
}

// AccountOwner returns the owner tag for an individual account.
func AccountOwner(id string) WalletOwner {
	return WalletOwner{Kind: OwnerAccount, ID: id}
}

// CompanyOwner returns the owner tag for a company.
func CompanyOwner(id string) WalletOwner {
	return WalletOwner{Kind: OwnerCompany, ID: id}
}

func (o WalletOwner) String() string {
	return fmt.Sprintf("%s:%s", o.Kind, o.ID)
}

// Wallet is a ledger address plus signing seed, owned by exactly one
// account or company. The seed is write-only from the API's perspective.
type Wallet struct {
	ID        string      `json:"id"`
	Owner     WalletOwner `json:"owner"`
	Address   string      `json:"address"`
	Seed      string      `json:"-"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Store persists accounts and wallets.
type Store interface {
	CreateAccount(ctx context.Context, a *Account) error
	GetAccount(ctx context.Context, id string) (*Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	CreateWallet(ctx context.Context, w *Wallet) error
	GetWallet(ctx context.Context, id string) (*Wallet, error)
	WalletFor(ctx context.Context, owner WalletOwner) (*Wallet, error)
}

// NewAccount builds an account row with a fresh ID.
func NewAccount(email, displayName string, role Role) *Account {
	return &Account{
		ID:          uuid.NewString(),
		Email:       email,
		DisplayName: displayName,
		Role:        role,
		CreatedAt:   time.Now().UTC(),
	}
}

// NewWallet builds a wallet row for an owner.
func NewWallet(owner WalletOwner, address, seed string) *Wallet {
	return &Wallet{
		ID:        uuid.NewString(),
		Owner:     owner,
		Address:   address,
		Seed:      seed,
		CreatedAt: time.Now().UTC(),
	}
}
