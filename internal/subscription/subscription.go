// Package subscription settles recurring company plans.
//
// An active subscription either renews through a ledger payment shortly
// before its period ends, or falls to PAST_DUE once the period elapses.
// Renewal failures also mark PAST_DUE; the company re-activates by
// subscribing again.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fashionpoint/platform/internal/account"
	"github.com/fashionpoint/platform/internal/logging"
	"github.com/fashionpoint/platform/internal/sysconfig"
	"github.com/fashionpoint/platform/internal/xrpl"
	"github.com/google/uuid"
)

var (
	ErrPlanNotFound         = errors.New("plan not found")
	ErrInvalidPlan          = errors.New("plan needs a name and a positive price")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrAlreadySubscribed    = errors.New("company already has an active subscription")
)

// renewWindow is how close to the period end a subscription becomes
// eligible for auto-renewal.
const renewWindow = 24 * time.Hour

// Status represents the state of a subscription.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusPastDue  Status = "PAST_DUE"
	StatusCanceled Status = "CANCELED"
)

// Plan is a purchasable subscription tier.
type Plan struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	PriceDrops int64     `json:"priceDrops"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Subscription ties a company to a plan for a billing period.
type Subscription struct {
	ID               string    `json:"id"`
	CompanyID        string    `json:"companyId"`
	PlanID           string    `json:"planId"`
	Status           Status    `json:"status"`
	AutoRenew        bool      `json:"autoRenew"`
	CurrentPeriodEnd time.Time `json:"currentPeriodEnd"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Store persists plans and subscriptions.
type Store interface {
	CreatePlan(ctx context.Context, p *Plan) error
	GetPlan(ctx context.Context, id string) (*Plan, error)
	ListPlans(ctx context.Context) ([]*Plan, error)
	Create(ctx context.Context, s *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	GetActiveByCompany(ctx context.Context, companyID string) (*Subscription, error)
	Update(ctx context.Context, s *Subscription) error
	// ListRenewable returns ACTIVE auto-renew subscriptions whose period
	// ends before the given instant.
	ListRenewable(ctx context.Context, before time.Time, limit int) ([]*Subscription, error)
	// ListOverdue returns ACTIVE subscriptions whose period already ended.
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]*Subscription, error)
}

// Payer is the slice of the ledger gateway renewals need.
type Payer interface {
	SubmitPayment(ctx context.Context, from xrpl.Wallet, to string, drops int64) (*xrpl.PaymentResult, error)
}

// Service implements subscription lifecycle and settlement.
type Service struct {
	store     Store
	accounts  account.Store
	gateway   Payer
	sysconfig *sysconfig.Service
}

// NewService creates a subscription service.
func NewService(store Store, accounts account.Store, gateway Payer, cfg *sysconfig.Service) *Service {
	return &Service{
		store:     store,
		accounts:  accounts,
		gateway:   gateway,
		sysconfig: cfg,
	}
}

// CreatePlan registers a new billing plan.
func (s *Service) CreatePlan(ctx context.Context, name string, priceDrops int64) (*Plan, error) {
	if name == "" || priceDrops <= 0 {
		return nil, ErrInvalidPlan
	}
	p := &Plan{
		ID:         uuid.NewString(),
		Name:       name,
		PriceDrops: priceDrops,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.CreatePlan(ctx, p); err != nil {
		return nil, fmt.Errorf("persist plan: %w", err)
	}
	return p, nil
}

// Subscribe starts a one-month subscription, paying the first period
// from the company wallet to the admin wallet up front.
func (s *Service) Subscribe(ctx context.Context, companyID, planID string) (*Subscription, error) {
	if existing, err := s.store.GetActiveByCompany(ctx, companyID); err == nil && existing != nil {
		return nil, ErrAlreadySubscribed
	}

	plan, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	if err := s.charge(ctx, companyID, plan.PriceDrops); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sub := &Subscription{
		ID:               uuid.NewString(),
		CompanyID:        companyID,
		PlanID:           plan.ID,
		Status:           StatusActive,
		AutoRenew:        true,
		CurrentPeriodEnd: now.AddDate(0, 1, 0),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("persist subscription: %w", err)
	}
	return sub, nil
}

// Cancel turns auto-renewal off; the subscription stays usable until the
// period ends.
func (s *Service) Cancel(ctx context.Context, id string) (*Subscription, error) {
	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	sub.AutoRenew = false
	sub.Status = StatusCanceled
	sub.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// charge pays the plan price company → admin via the ledger.
func (s *Service) charge(ctx context.Context, companyID string, drops int64) error {
	_, admin, err := s.sysconfig.Load(ctx)
	if err != nil {
		return fmt.Errorf("load settlement config: %w", err)
	}
	wallet, err := s.accounts.WalletFor(ctx, account.CompanyOwner(companyID))
	if err != nil {
		return fmt.Errorf("resolve company wallet: %w", err)
	}

	from := xrpl.Wallet{Address: wallet.Address, Seed: wallet.Seed}
	res, err := s.gateway.SubmitPayment(ctx, from, admin.Address, drops)
	if err != nil {
		return fmt.Errorf("subscription payment: %w", err)
	}
	if res.TxHash == "" {
		return errors.New("subscription payment: no transaction hash returned")
	}
	return nil
}

// SweepResult counts per-item outcomes of one settlement pass.
type SweepResult struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// RenewDue charges every auto-renew subscription ending within the
// renewal window, extending each period one month. A failed charge marks
// the subscription PAST_DUE without extending it.
func (s *Service) RenewDue(ctx context.Context) SweepResult {
	log := logging.L(ctx)

	due, err := s.store.ListRenewable(ctx, time.Now().UTC().Add(renewWindow), 200)
	if err != nil {
		log.Error("subscription sweep: listing renewable failed", "error", err)
		return SweepResult{}
	}

	result := SweepResult{Total: len(due)}
	for _, sub := range due {
		plan, err := s.store.GetPlan(ctx, sub.PlanID)
		if err != nil {
			result.Failed++
			log.Error("subscription sweep: plan lookup failed",
				"subscriptionId", sub.ID, "planId", sub.PlanID, "error", err)
			continue
		}

		if err := s.charge(ctx, sub.CompanyID, plan.PriceDrops); err != nil {
			result.Failed++
			sub.Status = StatusPastDue
			sub.UpdatedAt = time.Now().UTC()
			if uerr := s.store.Update(ctx, sub); uerr != nil {
				log.Error("subscription sweep: past-due update failed",
					"subscriptionId", sub.ID, "error", uerr)
			}
			log.Warn("subscription renewal failed, marked past due",
				"subscriptionId", sub.ID, "error", err)
			continue
		}

		sub.CurrentPeriodEnd = sub.CurrentPeriodEnd.AddDate(0, 1, 0)
		sub.UpdatedAt = time.Now().UTC()
		if err := s.store.Update(ctx, sub); err != nil {
			result.Failed++
			log.Error("subscription sweep: period extension failed",
				"subscriptionId", sub.ID, "error", err)
			continue
		}
		result.Succeeded++
	}
	return result
}

// ExpireOverdue marks ACTIVE subscriptions past their period end as
// PAST_DUE. Auto-renew subscriptions only reach this once a renewal
// already failed or was never attempted in time.
func (s *Service) ExpireOverdue(ctx context.Context) SweepResult {
	log := logging.L(ctx)

	overdue, err := s.store.ListOverdue(ctx, time.Now().UTC(), 200)
	if err != nil {
		log.Error("subscription sweep: listing overdue failed", "error", err)
		return SweepResult{}
	}

	result := SweepResult{Total: len(overdue)}
	for _, sub := range overdue {
		sub.Status = StatusPastDue
		sub.UpdatedAt = time.Now().UTC()
		if err := s.store.Update(ctx, sub); err != nil {
			result.Failed++
			log.Error("subscription sweep: expiry update failed",
				"subscriptionId", sub.ID, "error", err)
			continue
		}
		result.Succeeded++
	}
	return result
}

// Get loads one subscription.
func (s *Service) Get(ctx context.Context, id string) (*Subscription, error) {
	return s.store.Get(ctx, id)
}
