package account

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// PostgresStore persists accounts and wallets in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed account store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateAccount(ctx context.Context, a *Account) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO accounts (id, email, display_name, role, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.Email, a.DisplayName, string(a.Role), a.CreatedAt,
	)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrDuplicateEmail
	}
	return err
}

func (p *PostgresStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, role, created_at
		FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

func (p *PostgresStore) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, role, created_at
		FROM accounts WHERE lower(email) = lower($1)`, email)
	return scanAccount(row)
}

func scanAccount(row *sql.Row) (*Account, error) {
	var a Account
	var role string
	err := row.Scan(&a.ID, &a.Email, &a.DisplayName, &role, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Role = Role(role)
	return &a, nil
}

func (p *PostgresStore) CreateWallet(ctx context.Context, w *Wallet) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO wallets (id, owner_kind, owner_id, address, seed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		w.ID, string(w.Owner.Kind), w.Owner.ID, w.Address, w.Seed, w.CreatedAt,
	)
	return err
}

func (p *PostgresStore) GetWallet(ctx context.Context, id string) (*Wallet, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, owner_kind, owner_id, address, seed, created_at
		FROM wallets WHERE id = $1`, id)
	return scanWallet(row)
}

func (p *PostgresStore) WalletFor(ctx context.Context, owner WalletOwner) (*Wallet, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, owner_kind, owner_id, address, seed, created_at
		FROM wallets WHERE owner_kind = $1 AND owner_id = $2`,
		string(owner.Kind), owner.ID)
	return scanWallet(row)
}

func scanWallet(row *sql.Row) (*Wallet, error) {
	var w Wallet
	var kind string
	err := row.Scan(&w.ID, &kind, &w.Owner.ID, &w.Address, &w.Seed, &w.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	w.Owner.Kind = OwnerKind(kind)
	return &w, nil
}
