package sysconfig

import (
	"context"
	"database/sql"
)

// PostgresStore persists the singleton configuration in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed sysconfig store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Get(ctx context.Context) (*GlobalConfig, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, admin_wallet_id, issuance_id, token_code, created_at
		FROM global_config
		ORDER BY created_at ASC
		LIMIT 1`)

	var cfg GlobalConfig
	err := row.Scan(&cfg.ID, &cfg.AdminWalletID, &cfg.IssuanceID, &cfg.TokenCode, &cfg.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotConfigured
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (p *PostgresStore) Put(ctx context.Context, cfg *GlobalConfig) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO global_config (id, admin_wallet_id, issuance_id, token_code, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		cfg.ID, cfg.AdminWalletID, cfg.IssuanceID, cfg.TokenCode, cfg.CreatedAt,
	)
	return err
}
