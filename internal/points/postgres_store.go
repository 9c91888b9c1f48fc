package points

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists ledger entries in PostgreSQL. The table has no
// UPDATE or DELETE path in application code.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed points ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const entryColumns = `id, account_id, type, amount, token_code, issuer, note, tx_hash, created_at`

func (p *PostgresStore) Append(ctx context.Context, e *Entry) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO point_ledger (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.AccountID, string(e.Type), e.Amount, e.TokenCode, e.Issuer,
		nullString(e.Note), nullString(e.TxHash), e.CreatedAt,
	)
	return err
}

func (p *PostgresStore) ListByAccount(ctx context.Context, accountID string) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM point_ledger
		WHERE account_id = $1
		ORDER BY created_at ASC`, accountID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanEntries(rows)
}

func (p *PostgresStore) History(ctx context.Context, accountID string, before time.Time, limit int) ([]*Entry, error) {
	bound := sql.NullTime{Time: before, Valid: !before.IsZero()}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM point_ledger
		WHERE account_id = $1
		  AND ($2::timestamptz IS NULL OR created_at < $2)
		ORDER BY created_at DESC
		LIMIT $3`, accountID, bound, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var result []*Entry
	for rows.Next() {
		var e Entry
		var typ string
		var note, txHash sql.NullString
		if err := rows.Scan(&e.ID, &e.AccountID, &typ, &e.Amount, &e.TokenCode, &e.Issuer, &note, &txHash, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = EntryType(typ)
		e.Note = note.String
		e.TxHash = txHash.String
		result = append(result, &e)
	}
	return result, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
