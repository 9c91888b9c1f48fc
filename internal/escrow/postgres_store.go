package escrow

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists escrows in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed escrow store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const escrowColumns = `id, kind, order_id, account_id, owner_address, destination,
	issuance_id, amount, create_tx_hash, create_tx_seq, finish_after, cancel_after,
	status, finish_tx_hash, receipt_tag, created_at, resolved_at`

func (p *PostgresStore) Create(ctx context.Context, e *Escrow) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrows (`+escrowColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		e.ID, string(e.Kind), nullString(e.OrderID), e.AccountID, e.OwnerAddress,
		e.Destination, e.IssuanceID, e.Amount, nullString(e.CreateTxHash),
		e.CreateTxSeq, e.FinishAfter, e.CancelAfter, string(e.Status),
		nullString(e.FinishTxHash), nullString(e.ReceiptTag), e.CreatedAt, e.ResolvedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Escrow, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE id = $1`, id)

	e, err := scanEscrow(row)
	if err == sql.ErrNoRows {
		return nil, ErrEscrowNotFound
	}
	return e, err
}

func (p *PostgresStore) Resolve(ctx context.Context, e *Escrow, from Status) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE escrows
		SET status = $2, finish_tx_hash = $3, receipt_tag = $4, resolved_at = $5
		WHERE id = $1 AND status = $6`,
		e.ID, string(e.Status), nullString(e.FinishTxHash), nullString(e.ReceiptTag),
		e.ResolvedAt, string(from),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Zero rows means either a missing row or a lost race.
		if _, err := p.Get(ctx, e.ID); err != nil {
			return err
		}
		return ErrAlreadyResolved
	}
	return nil
}

func (p *PostgresStore) ListByOrder(ctx context.Context, orderID string) ([]*Escrow, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE order_id = $1
		ORDER BY created_at ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanEscrows(rows)
}

func (p *PostgresStore) ListMatured(ctx context.Context, before time.Time, limit int) ([]*Escrow, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE status = $1 AND finish_after <= $2
		ORDER BY finish_after ASC
		LIMIT $3`, string(StatusCreated), before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanEscrows(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEscrow(row rowScanner) (*Escrow, error) {
	var e Escrow
	var orderID, createTxHash, finishTxHash, receiptTag sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(&e.ID, &e.Kind, &orderID, &e.AccountID, &e.OwnerAddress,
		&e.Destination, &e.IssuanceID, &e.Amount, &createTxHash, &e.CreateTxSeq,
		&e.FinishAfter, &e.CancelAfter, &e.Status, &finishTxHash, &receiptTag,
		&e.CreatedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}

	e.OrderID = orderID.String
	e.CreateTxHash = createTxHash.String
	e.FinishTxHash = finishTxHash.String
	e.ReceiptTag = receiptTag.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		e.ResolvedAt = &t
	}
	return &e, nil
}

func scanEscrows(rows *sql.Rows) ([]*Escrow, error) {
	var result []*Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
