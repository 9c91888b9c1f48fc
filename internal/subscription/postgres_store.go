package subscription

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists plans and subscriptions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed subscription store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreatePlan(ctx context.Context, plan *Plan) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO plans (id, name, price_drops, created_at)
		VALUES ($1, $2, $3, $4)`,
		plan.ID, plan.Name, plan.PriceDrops, plan.CreatedAt)
	return err
}

func (p *PostgresStore) GetPlan(ctx context.Context, id string) (*Plan, error) {
	var plan Plan
	err := p.db.QueryRowContext(ctx, `
		SELECT id, name, price_drops, created_at
		FROM plans WHERE id = $1`, id).
		Scan(&plan.ID, &plan.Name, &plan.PriceDrops, &plan.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (p *PostgresStore) ListPlans(ctx context.Context) ([]*Plan, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, price_drops, created_at
		FROM plans ORDER BY price_drops ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Plan
	for rows.Next() {
		var plan Plan
		if err := rows.Scan(&plan.ID, &plan.Name, &plan.PriceDrops, &plan.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &plan)
	}
	return result, rows.Err()
}

const subColumns = `id, company_id, plan_id, status, auto_renew, current_period_end, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, s *Subscription) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO subscriptions (`+subColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.CompanyID, s.PlanID, string(s.Status), s.AutoRenew,
		s.CurrentPeriodEnd, s.CreatedAt, s.UpdatedAt)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Subscription, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+subColumns+`
		FROM subscriptions WHERE id = $1`, id)
	return scanSub(row)
}

func (p *PostgresStore) GetActiveByCompany(ctx context.Context, companyID string) (*Subscription, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+subColumns+`
		FROM subscriptions
		WHERE company_id = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1`, companyID, string(StatusActive))
	return scanSub(row)
}

func (p *PostgresStore) Update(ctx context.Context, s *Subscription) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET status = $2, auto_renew = $3, current_period_end = $4, updated_at = $5
		WHERE id = $1`,
		s.ID, string(s.Status), s.AutoRenew, s.CurrentPeriodEnd, s.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (p *PostgresStore) ListRenewable(ctx context.Context, before time.Time, limit int) ([]*Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+subColumns+`
		FROM subscriptions
		WHERE status = $1 AND auto_renew AND current_period_end < $2
		ORDER BY current_period_end ASC
		LIMIT $3`, string(StatusActive), before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanSubs(rows)
}

func (p *PostgresStore) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+subColumns+`
		FROM subscriptions
		WHERE status = $1 AND current_period_end < $2
		ORDER BY current_period_end ASC
		LIMIT $3`, string(StatusActive), now, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanSubs(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSub(row rowScanner) (*Subscription, error) {
	var s Subscription
	err := row.Scan(&s.ID, &s.CompanyID, &s.PlanID, &s.Status, &s.AutoRenew,
		&s.CurrentPeriodEnd, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func scanSubs(rows *sql.Rows) ([]*Subscription, error) {
	var result []*Subscription
	for rows.Next() {
		s, err := scanSub(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}
