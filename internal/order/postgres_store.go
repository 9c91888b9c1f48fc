package order

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore persists orders in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed order store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const orderColumns = `id, buyer_id, product_id, company_id, quantity, unit_price,
	total_amount, points_used, final_amount, points_to_earn, return_days,
	status, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, o *Order) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		o.ID, o.BuyerID, o.ProductID, o.CompanyID, o.Quantity, o.UnitPrice,
		o.TotalAmount, o.PointsUsed, o.FinalAmount, o.PointsToEarn, o.ReturnDays,
		string(o.Status), o.CreatedAt, o.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Order, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1`, id)

	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	return o, err
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, id string, from, to Status) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`,
		id, string(from), string(to))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: order %s not in %s", ErrStatusConflict, id, from)
	}
	return nil
}

func (p *PostgresStore) MarkPaid(ctx context.Context, s *Settlement) error {
	return p.MarkBatchPaid(ctx, []*Settlement{s})
}

// MarkBatchPaid marks each order PAID conditionally on it still being
// CREATED, writing payments and events in the same transaction. A bounded
// lock wait keeps a contended row from stalling the whole request.
func (p *PostgresStore) MarkBatchPaid(ctx context.Context, batch []*Settlement) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	lockTimeout := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", payLockWait.Milliseconds())
	if _, err := tx.ExecContext(ctx, lockTimeout); err != nil {
		return err
	}

	for _, s := range batch {
		res, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET status = $2, updated_at = now()
			WHERE id = $1 AND status = $3`,
			s.OrderID, string(StatusPaid), string(StatusCreated))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: order %s not in CREATED", ErrStatusConflict, s.OrderID)
		}

		if s.Payment != nil {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO payments (id, order_id, tx_hash, amount, created_at)
				VALUES ($1, $2, $3, $4, $5)`,
				s.Payment.ID, s.Payment.OrderID, s.Payment.TxHash,
				s.Payment.Amount, s.Payment.CreatedAt); err != nil {
				return err
			}
		}
		for _, ev := range s.Events {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO order_events (id, order_id, type, note, created_at)
				VALUES ($1, $2, $3, $4, $5)`,
				ev.ID, ev.OrderID, string(ev.Type), ev.Note, ev.CreatedAt); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

func (p *PostgresStore) ListByBuyer(ctx context.Context, buyerID string, limit int) ([]*Order, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE buyer_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, buyerID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanOrders(rows)
}

func (p *PostgresStore) ListPaidBefore(ctx context.Context, before time.Time, limit int) ([]*Order, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3`, string(StatusPaid), before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanOrders(rows)
}

func (p *PostgresStore) AppendEvent(ctx context.Context, ev *Event) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO order_events (id, order_id, type, note, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, ev.OrderID, string(ev.Type), ev.Note, ev.CreatedAt)
	return err
}

func (p *PostgresStore) ListEvents(ctx context.Context, orderID string) ([]*Event, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, order_id, type, note, created_at
		FROM order_events
		WHERE order_id = $1
		ORDER BY created_at ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.OrderID, &ev.Type, &ev.Note, &ev.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &ev)
	}
	return result, rows.Err()
}

func (p *PostgresStore) ListPayments(ctx context.Context, orderID string) ([]*Payment, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, order_id, tx_hash, amount, created_at
		FROM payments
		WHERE order_id = $1
		ORDER BY created_at ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.OrderID, &p.TxHash, &p.Amount, &p.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &p)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.BuyerID, &o.ProductID, &o.CompanyID, &o.Quantity,
		&o.UnitPrice, &o.TotalAmount, &o.PointsUsed, &o.FinalAmount,
		&o.PointsToEarn, &o.ReturnDays, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func scanOrders(rows *sql.Rows) ([]*Order, error) {
	var result []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
}
