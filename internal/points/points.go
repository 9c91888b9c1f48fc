// Package points is the append-only record of point movements.
//
// Balance is always a fold over the entries, never a cached counter:
// corrections are new offsetting entries, and no update or delete path
// exists. On-ledger token balances are a separate, live gateway query.
package points

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fashionpoint/platform/internal/account"
	"github.com/fashionpoint/platform/internal/sysconfig"
	"github.com/fashionpoint/platform/internal/xrpl"
	"github.com/google/uuid"
)

var (
	ErrInvalidAmount = errors.New("points: amount must be a non-negative integer")
	ErrUnknownType   = errors.New("points: unknown entry type")
)

// EntryType classifies a point movement.
type EntryType string

const (
	TypeEarn        EntryType = "EARN"
	TypeUse         EntryType = "USE"
	TypeAdminCredit EntryType = "ADMIN_CREDIT"
	TypeRefund      EntryType = "REFUND"
)

// Sign returns +1 for credit types and -1 for USE.
func (t EntryType) Sign() (int64, error) {
	switch t {
	case TypeEarn, TypeAdminCredit, TypeRefund:
		return 1, nil
	case TypeUse:
		return -1, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownType, t)
}

// Entry is one immutable point movement. Amount is always non-negative;
// direction comes from the type.
type Entry struct {
	ID        string    `json:"id"`
	AccountID string    `json:"accountId"`
	Type      EntryType `json:"type"`
	Amount    int64     `json:"amount"`
	TokenCode string    `json:"tokenCode"`
	Issuer    string    `json:"issuer"`
	Note      string    `json:"note,omitempty"`
	TxHash    string    `json:"txHash,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists ledger entries. Append-only: no update or delete.
type Store interface {
	Append(ctx context.Context, e *Entry) error
	ListByAccount(ctx context.Context, accountID string) ([]*Entry, error)
	// History returns entries newest-first. A non-zero before bound
	// restricts the page to entries created strictly earlier.
	History(ctx context.Context, accountID string, before time.Time, limit int) ([]*Entry, error)
}

// TokenSender is the slice of the ledger gateway the admin credit needs.
type TokenSender interface {
	SubmitTokenTransfer(ctx context.Context, from xrpl.Wallet, to string, issuanceID string, amount int64) (*xrpl.PaymentResult, error)
}

// Service implements points ledger business logic.
type Service struct {
	store     Store
	accounts  account.Store
	sysconfig *sysconfig.Service
	gateway   TokenSender
}

// NewService creates a points service.
func NewService(store Store, accounts account.Store, cfg *sysconfig.Service, gateway TokenSender) *Service {
	return &Service{
		store:     store,
		accounts:  accounts,
		sysconfig: cfg,
		gateway:   gateway,
	}
}

// ParseAmount parses a strict non-negative integer amount string.
func ParseAmount(s string) (int64, error) {
	if s == "" {
		return 0, ErrInvalidAmount
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, ErrInvalidAmount
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return v, nil
}

// Record appends one immutable entry and returns it.
func (s *Service) Record(ctx context.Context, accountID string, typ EntryType, amount int64, note string) (*Entry, error) {
	return s.RecordTx(ctx, accountID, typ, amount, note, "")
}

// RecordTx is Record with an originating ledger transaction hash attached.
func (s *Service) RecordTx(ctx context.Context, accountID string, typ EntryType, amount int64, note, txHash string) (*Entry, error) {
	if amount < 0 {
		return nil, ErrInvalidAmount
	}
	if _, err := typ.Sign(); err != nil {
		return nil, err
	}

	cfg, adminWallet, err := s.sysconfig.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settlement config: %w", err)
	}

	e := &Entry{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Type:      typ,
		Amount:    amount,
		TokenCode: cfg.TokenCode,
		Issuer:    adminWallet.Address,
		Note:      note,
		TxHash:    txHash,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Append(ctx, e); err != nil {
		return nil, fmt.Errorf("append ledger entry: %w", err)
	}
	observeEntry(string(typ))
	return e, nil
}

// Balance folds all entries for an account. Never cached.
func (s *Service) Balance(ctx context.Context, accountID string) (int64, error) {
	entries, err := s.store.ListByAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, e := range entries {
		sign, err := e.Type.Sign()
		if err != nil {
			return 0, fmt.Errorf("entry %s: %w", e.ID, err)
		}
		total += sign * e.Amount
	}
	return total, nil
}

// History returns the most recent entries for an account, newest first.
func (s *Service) History(ctx context.Context, accountID string, before time.Time, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.History(ctx, accountID, before, limit)
}

// AdminCredit moves tokens from the issuing wallet directly to a user,
// bypassing escrow, and records an ADMIN_CREDIT entry. Used for
// out-of-band corrections and operator grants.
func (s *Service) AdminCredit(ctx context.Context, recipientEmail string, amount int64, note string) (*Entry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	recipient, err := s.accounts.GetAccountByEmail(ctx, recipientEmail)
	if err != nil {
		return nil, fmt.Errorf("resolve recipient: %w", err)
	}
	wallet, err := s.accounts.WalletFor(ctx, account.AccountOwner(recipient.ID))
	if err != nil {
		return nil, fmt.Errorf("resolve recipient wallet: %w", err)
	}

	cfg, adminWallet, err := s.sysconfig.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settlement config: %w", err)
	}

	res, err := s.gateway.SubmitTokenTransfer(ctx, adminWallet, wallet.Address, cfg.IssuanceID, amount)
	if err != nil {
		return nil, fmt.Errorf("token transfer: %w", err)
	}

	if note == "" {
		note = fmt.Sprintf("Admin credited %d points", amount)
	}
	return s.RecordTx(ctx, recipient.ID, TypeAdminCredit, amount, note, res.TxHash)
}
