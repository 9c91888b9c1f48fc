// Package order implements the settlement pipeline.
//
// An order is a finite state machine:
//
//	CREATED --pay--> PAID --complete--> RELEASED --(window elapsed)--> COMPLETED
//	PAID|RELEASED --refund (within return window)--> REFUNDED
//
// State is mutated only through status-conditional updates, so a
// concurrent second pay() observes the precondition failure instead of
// double-charging. Ledger calls always precede the local commit; a
// ledger success followed by a local failure is recovered by the
// reconciliation sweep, never rolled back on the ledger.
package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fashionpoint/platform/internal/account"
	"github.com/fashionpoint/platform/internal/catalog"
	"github.com/fashionpoint/platform/internal/escrow"
	"github.com/fashionpoint/platform/internal/logging"
	"github.com/fashionpoint/platform/internal/points"
	"github.com/fashionpoint/platform/internal/sysconfig"
	"github.com/fashionpoint/platform/internal/xrpl"
	"github.com/google/uuid"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrStatusConflict    = errors.New("order status precondition failed")
	ErrNoMaturedEscrows  = errors.New("no matured escrows to release")
	ErrPaymentFailed     = errors.New("ledger payment failed")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrPointsExceedTotal = errors.New("points applied exceed the order total")
)

// InsufficientPointsError means the buyer asked to spend more points than
// their live on-ledger balance holds.
type InsufficientPointsError struct {
	Requested int64
	Available int64
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("insufficient points: requested %d, available %d", e.Requested, e.Available)
}

// RefundWindowExpiredError means the return window has elapsed.
type RefundWindowExpiredError struct {
	OrderID    string
	ReturnDays int
}

func (e *RefundWindowExpiredError) Error() string {
	return fmt.Sprintf("refund window of %d days expired for order %s", e.ReturnDays, e.OrderID)
}

// Status represents the state of an order.
type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusPaid      Status = "PAID"
	StatusReleased  Status = "RELEASED"
	StatusCompleted Status = "COMPLETED"
	StatusRefunded  Status = "REFUNDED"
)

// Order represents a purchase moving through settlement.
type Order struct {
	ID           string    `json:"id"`
	BuyerID      string    `json:"buyerId"`
	ProductID    string    `json:"productId"`
	CompanyID    string    `json:"companyId"`
	Quantity     int       `json:"quantity"`
	UnitPrice    int64     `json:"unitPrice"`
	TotalAmount  int64     `json:"totalAmount"`
	PointsUsed   int64     `json:"pointsUsed"`
	FinalAmount  int64     `json:"finalAmount"`
	PointsToEarn int64     `json:"pointsToEarn"`
	ReturnDays   int       `json:"returnDays"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// EventType classifies order audit events.
type EventType string

const (
	EventPaymentReceived EventType = "PAYMENT_RECEIVED"
	EventPointsLocked    EventType = "POINTS_LOCKED"
	EventEscrowReleased  EventType = "ESCROW_RELEASED"
	EventCompleted       EventType = "ORDER_COMPLETED"
	EventRefunded        EventType = "ORDER_REFUNDED"
)

// Event is one immutable audit trail entry on an order.
type Event struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"orderId"`
	Type      EventType `json:"type"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Payment records a settled ledger payment for an order.
type Payment struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"orderId"`
	TxHash    string    `json:"txHash"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"createdAt"`
}

// Settlement groups the rows written atomically when an order turns PAID.
type Settlement struct {
	OrderID string
	Payment *Payment
	Events  []*Event
}

// Store persists orders, payments and events. MarkPaid and MarkBatchPaid
// perform the CREATED→PAID transition conditionally inside one local
// transaction, failing with ErrStatusConflict if the order moved on.
type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	// Delete removes a provisional row. Only the batch-create rollback
	// uses it; settled orders are never deleted.
	Delete(ctx context.Context, id string) error
	UpdateStatus(ctx context.Context, id string, from, to Status) error
	MarkPaid(ctx context.Context, s *Settlement) error
	MarkBatchPaid(ctx context.Context, batch []*Settlement) error
	ListByBuyer(ctx context.Context, buyerID string, limit int) ([]*Order, error)
	ListPaidBefore(ctx context.Context, before time.Time, limit int) ([]*Order, error)
	AppendEvent(ctx context.Context, ev *Event) error
	ListEvents(ctx context.Context, orderID string) ([]*Event, error)
	ListPayments(ctx context.Context, orderID string) ([]*Payment, error)
}

// Bounds for the pay() local transaction and its surrounding ledger calls.
const (
	payLockWait  = 5 * time.Second
	payTxTimeout = 30 * time.Second
)

// EarnPoints computes the points earned on a final amount, in basis
// points, truncating once at the end.
func EarnPoints(finalAmount, rateBp int64) int64 {
	return finalAmount * rateBp / 10_000
}

// Service implements the order settlement pipeline.
type Service struct {
	store      Store
	products   catalog.Store
	accounts   account.Store
	escrows    *escrow.Service
	points     *points.Service
	gateway    xrpl.Gateway
	sysconfig  *sysconfig.Service
	earnRateBp int64
}

// NewService creates an order service.
func NewService(store Store, products catalog.Store, accounts account.Store, escrows *escrow.Service, pts *points.Service, gateway xrpl.Gateway, cfg *sysconfig.Service, earnRateBp int64) *Service {
	return &Service{
		store:      store,
		products:   products,
		accounts:   accounts,
		escrows:    escrows,
		points:     pts,
		gateway:    gateway,
		sysconfig:  cfg,
		earnRateBp: earnRateBp,
	}
}

// Create validates and persists a new order in CREATED status. No funds
// move. The points check reads the buyer's live on-ledger balance, never
// a cached one.
func (s *Service) Create(ctx context.Context, buyerID, productID string, quantity int, pointsToUse int64) (*Order, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if pointsToUse < 0 {
		return nil, points.ErrInvalidAmount
	}

	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	total := product.PriceDrops * int64(quantity)
	if pointsToUse > total {
		return nil, ErrPointsExceedTotal
	}
	final := total - pointsToUse

	if pointsToUse > 0 {
		cfg, _, err := s.sysconfig.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load settlement config: %w", err)
		}
		wallet, err := s.accounts.WalletFor(ctx, account.AccountOwner(buyerID))
		if err != nil {
			return nil, fmt.Errorf("resolve buyer wallet: %w", err)
		}
		available, err := s.gateway.QueryTokenBalance(ctx, wallet.Address, cfg.IssuanceID)
		if err != nil {
			return nil, fmt.Errorf("query token balance: %w", err)
		}
		if pointsToUse > available {
			return nil, &InsufficientPointsError{Requested: pointsToUse, Available: available}
		}
	}

	now := time.Now().UTC()
	o := &Order{
		ID:           uuid.NewString(),
		BuyerID:      buyerID,
		ProductID:    product.ID,
		CompanyID:    product.CompanyID,
		Quantity:     quantity,
		UnitPrice:    product.PriceDrops,
		TotalAmount:  total,
		PointsUsed:   pointsToUse,
		FinalAmount:  final,
		PointsToEarn: EarnPoints(final, s.earnRateBp),
		ReturnDays:   product.ReturnDays,
		Status:       StatusCreated,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("persist order: %w", err)
	}
	return o, nil
}

// Pay settles a CREATED order: usage escrow for spent points, ledger
// payment for the remainder, then one local transaction marking the
// order PAID. A concurrent second call fails the CREATED precondition.
func (s *Service) Pay(ctx context.Context, orderID string) (*Order, error) {
	ctx, cancel := context.WithTimeout(ctx, payTxTimeout)
	defer cancel()

	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusCreated {
		return nil, fmt.Errorf("%w: order %s is %s", ErrStatusConflict, o.ID, o.Status)
	}

	cfg, adminWallet, err := s.sysconfig.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settlement config: %w", err)
	}
	buyerWallet, err := s.accounts.WalletFor(ctx, account.AccountOwner(o.BuyerID))
	if err != nil {
		return nil, fmt.Errorf("resolve buyer wallet: %w", err)
	}
	companyWallet, err := s.accounts.WalletFor(ctx, account.CompanyOwner(o.CompanyID))
	if err != nil {
		return nil, fmt.Errorf("resolve company wallet: %w", err)
	}

	buyer := xrpl.Wallet{Address: buyerWallet.Address, Seed: buyerWallet.Seed}

	var usage *escrow.Escrow
	if o.PointsUsed > 0 {
		usage, err = s.escrows.CreateUsageEscrow(ctx, buyer, o.CompanyID,
			companyWallet.Address, cfg.IssuanceID, o.PointsUsed, o.ReturnDays, o.ID)
		if err != nil {
			return nil, err
		}
	}

	var txHash string
	if o.FinalAmount > 0 {
		res, err := s.gateway.SubmitPayment(ctx, buyer, companyWallet.Address, o.FinalAmount)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPaymentFailed, err)
		}
		if res.TxHash == "" {
			return nil, fmt.Errorf("%w: no transaction hash returned", ErrPaymentFailed)
		}
		txHash = res.TxHash
	}

	// The USE entry precedes the status flip: an order can turn PAID only
	// after its debit is on the ledger.
	if o.PointsUsed > 0 {
		usageTx := ""
		if usage != nil {
			usageTx = usage.CreateTxHash
		}
		if _, err := s.points.RecordTx(ctx, o.BuyerID, points.TypeUse, o.PointsUsed,
			"points applied to order "+o.ID, usageTx); err != nil {
			return nil, fmt.Errorf("record use entry: %w", err)
		}
	}

	now := time.Now().UTC()
	settlement := &Settlement{
		OrderID: o.ID,
		Payment: &Payment{
			ID:        uuid.NewString(),
			OrderID:   o.ID,
			TxHash:    txHash,
			Amount:    o.FinalAmount,
			CreatedAt: now,
		},
		Events: []*Event{newEvent(o.ID, EventPaymentReceived,
			fmt.Sprintf("payment of %d settled", o.FinalAmount))},
	}
	if err := s.store.MarkPaid(ctx, settlement); err != nil {
		// The ledger is append-only, so a debit that lost the commit is
		// reversed with a compensating entry, never deleted.
		if o.PointsUsed > 0 {
			if _, rerr := s.points.Record(context.WithoutCancel(ctx), o.BuyerID, points.TypeRefund,
				o.PointsUsed, "pay rollback for order "+o.ID); rerr != nil {
				logging.L(ctx).Error("use compensation failed", "orderId", o.ID, "error", rerr)
			}
		}
		return nil, err
	}
	o.Status = StatusPaid
	o.UpdatedAt = now
	observeTransition(StatusPaid)
	observePayment(o.FinalAmount)

	s.lockReward(ctx, o, adminWallet, buyerWallet.Address, cfg.IssuanceID)
	return o, nil
}

// lockReward creates the earned-points escrow after an order turns PAID.
// Failures are logged, not surfaced: the order is already settled and an
// operator can recreate the reward out of band.
func (s *Service) lockReward(ctx context.Context, o *Order, admin xrpl.Wallet, buyerAddr, issuanceID string) {
	if o.PointsToEarn <= 0 {
		return
	}
	_, err := s.escrows.CreateRewardEscrow(ctx, admin, o.BuyerID, buyerAddr,
		issuanceID, o.PointsToEarn, o.ReturnDays, o.ID)
	if err != nil {
		logging.L(ctx).Error("reward escrow creation failed",
			"orderId", o.ID, "points", o.PointsToEarn, "error", err)
		return
	}
	ev := newEvent(o.ID, EventPointsLocked,
		fmt.Sprintf("%d points locked until escrow release", o.PointsToEarn))
	if err := s.store.AppendEvent(ctx, ev); err != nil {
		logging.L(ctx).Error("points-locked event append failed", "orderId", o.ID, "error", err)
	}
}

// CompleteResult reports the per-escrow outcome of a complete pass.
type CompleteResult struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Complete releases every matured escrow on a PAID order. Partial success
// is allowed: individual failures stay CREATED for the next sweep, and
// the order moves to RELEASED once at least one escrow released.
func (s *Service) Complete(ctx context.Context, orderID string) (*CompleteResult, error) {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusPaid {
		return nil, fmt.Errorf("%w: order %s is %s", ErrStatusConflict, o.ID, o.Status)
	}

	all, err := s.escrows.ListByOrder(ctx, o.ID)
	if err != nil {
		return nil, fmt.Errorf("list escrows: %w", err)
	}

	now := time.Now()
	var matured []*escrow.Escrow
	for _, e := range all {
		if e.Releasable(now) {
			matured = append(matured, e)
		}
	}
	if len(matured) == 0 {
		return nil, ErrNoMaturedEscrows
	}

	result := &CompleteResult{Total: len(matured)}
	for _, e := range matured {
		if _, err := s.escrows.Release(ctx, e); err != nil {
			result.Failed++
			logging.L(ctx).Error("escrow release failed",
				"orderId", o.ID, "escrowId", e.ID, "error", err)
			continue
		}
		result.Succeeded++
	}

	// The release path already moved the order and wrote its event via
	// EscrowReleased; a conflict here just means that happened.
	if result.Succeeded > 0 {
		err := s.store.UpdateStatus(ctx, o.ID, StatusPaid, StatusReleased)
		switch {
		case errors.Is(err, ErrStatusConflict):
		case err != nil:
			return result, fmt.Errorf("mark released: %w", err)
		default:
			observeTransition(StatusReleased)
		}
	}
	return result, nil
}

// EscrowReleased promotes the linked order to RELEASED and records the
// release on its timeline. Called by the escrow manager for every
// order-linked release, whichever path performed it. A second escrow on
// the same order appends its event and leaves the status alone.
func (s *Service) EscrowReleased(ctx context.Context, orderID, note string) error {
	if err := s.store.AppendEvent(ctx, newEvent(orderID, EventEscrowReleased, note)); err != nil {
		return err
	}
	err := s.store.UpdateStatus(ctx, orderID, StatusPaid, StatusReleased)
	if errors.Is(err, ErrStatusConflict) {
		return nil
	}
	if err == nil {
		observeTransition(StatusReleased)
	}
	return err
}

// Refund reverses a PAID or RELEASED order within its return window:
// cancels still-locked escrows, reverses used points, marks REFUNDED.
func (s *Service) Refund(ctx context.Context, orderID, reason string) (*Order, error) {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusPaid && o.Status != StatusReleased {
		return nil, fmt.Errorf("%w: order %s is %s", ErrStatusConflict, o.ID, o.Status)
	}

	window := time.Duration(o.ReturnDays) * 24 * time.Hour
	if time.Now().UTC().Sub(o.CreatedAt.UTC()) > window {
		return nil, &RefundWindowExpiredError{OrderID: o.ID, ReturnDays: o.ReturnDays}
	}

	all, err := s.escrows.ListByOrder(ctx, o.ID)
	if err != nil {
		return nil, fmt.Errorf("list escrows: %w", err)
	}
	for _, e := range all {
		if e.Status != escrow.StatusCreated {
			continue
		}
		if _, err := s.escrows.Cancel(ctx, e); err != nil {
			logging.L(ctx).Error("escrow cancel failed during refund",
				"orderId", o.ID, "escrowId", e.ID, "error", err)
		}
	}

	if err := s.store.UpdateStatus(ctx, o.ID, o.Status, StatusRefunded); err != nil {
		return nil, err
	}

	note := "order refunded"
	if reason != "" {
		note += ": " + reason
	}
	if err := s.store.AppendEvent(ctx, newEvent(o.ID, EventRefunded, note)); err != nil {
		logging.L(ctx).Error("refund event append failed", "orderId", o.ID, "error", err)
	}

	if o.PointsUsed > 0 {
		if _, err := s.points.Record(ctx, o.BuyerID, points.TypeRefund, o.PointsUsed,
			"points returned for order "+o.ID); err != nil {
			return nil, fmt.Errorf("record refund entry: %w", err)
		}
	}

	o.Status = StatusRefunded
	o.UpdatedAt = time.Now().UTC()
	observeTransition(StatusRefunded)
	return o, nil
}

// BatchItem is one line of a batch purchase.
type BatchItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// BatchCreate creates one order per item and settles them with a single
// all-or-nothing multi-destination payment. If the aggregated payment
// fails, every provisional row is deleted: no payment happened, so
// nothing to keep.
func (s *Service) BatchCreate(ctx context.Context, buyerID string, items []BatchItem) ([]*Order, error) {
	if len(items) == 0 {
		return nil, ErrInvalidQuantity
	}

	cfg, adminWallet, err := s.sysconfig.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settlement config: %w", err)
	}
	buyerWallet, err := s.accounts.WalletFor(ctx, account.AccountOwner(buyerID))
	if err != nil {
		return nil, fmt.Errorf("resolve buyer wallet: %w", err)
	}
	buyer := xrpl.Wallet{Address: buyerWallet.Address, Seed: buyerWallet.Seed}

	orders := make([]*Order, 0, len(items))
	destinations := make([]xrpl.BatchItem, 0, len(items))
	rollback := func() {
		for _, o := range orders {
			if err := s.store.Delete(context.WithoutCancel(ctx), o.ID); err != nil {
				logging.L(ctx).Error("batch rollback delete failed", "orderId", o.ID, "error", err)
			}
		}
	}

	for _, item := range items {
		o, err := s.Create(ctx, buyerID, item.ProductID, item.Quantity, 0)
		if err != nil {
			rollback()
			return nil, err
		}
		orders = append(orders, o)

		companyWallet, err := s.accounts.WalletFor(ctx, account.CompanyOwner(o.CompanyID))
		if err != nil {
			rollback()
			return nil, fmt.Errorf("resolve company wallet: %w", err)
		}
		destinations = append(destinations, xrpl.BatchItem{
			Destination: companyWallet.Address,
			Amount:      o.FinalAmount,
		})
	}

	res, err := s.gateway.SubmitBatchPayment(ctx, buyer, destinations)
	if err != nil {
		rollback()
		return nil, fmt.Errorf("%w: %v", ErrPaymentFailed, err)
	}

	now := time.Now().UTC()
	settlements := make([]*Settlement, 0, len(orders))
	for _, o := range orders {
		settlements = append(settlements, &Settlement{
			OrderID: o.ID,
			Payment: &Payment{
				ID:        uuid.NewString(),
				OrderID:   o.ID,
				TxHash:    res.TxHash,
				Amount:    o.FinalAmount,
				CreatedAt: now,
			},
			Events: []*Event{newEvent(o.ID, EventPaymentReceived,
				fmt.Sprintf("batch payment of %d settled", o.FinalAmount))},
		})
	}
	if err := s.store.MarkBatchPaid(ctx, settlements); err != nil {
		return nil, err
	}

	for _, o := range orders {
		o.Status = StatusPaid
		o.UpdatedAt = now
		observeTransition(StatusPaid)
		observePayment(o.FinalAmount)
		s.lockReward(ctx, o, adminWallet, buyerWallet.Address, cfg.IssuanceID)
	}
	return orders, nil
}

// Get loads one order.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.store.Get(ctx, id)
}

// ListByBuyer returns a buyer's orders, newest first.
func (s *Service) ListByBuyer(ctx context.Context, buyerID string, limit int) ([]*Order, error) {
	return s.store.ListByBuyer(ctx, buyerID, limit)
}

// Detail is an order with its settlement timeline.
type Detail struct {
	Order    *Order           `json:"order"`
	Events   []*Event         `json:"events"`
	Payments []*Payment       `json:"payments"`
	Escrows  []*escrow.Escrow `json:"escrows"`
}

// GetDetail loads an order with its events, payments and escrows.
func (s *Service) GetDetail(ctx context.Context, id string) (*Detail, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	events, err := s.store.ListEvents(ctx, id)
	if err != nil {
		return nil, err
	}
	payments, err := s.store.ListPayments(ctx, id)
	if err != nil {
		return nil, err
	}
	escrows, err := s.escrows.ListByOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Detail{Order: o, Events: events, Payments: payments, Escrows: escrows}, nil
}

// ListExpired returns PAID orders older than their return window, scanning
// at most lookback days back. Used by the order expiry sweep.
func (s *Service) ListExpired(ctx context.Context, lookbackDays, limit int) ([]*Order, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -lookbackDays)
	candidates, err := s.store.ListPaidBefore(ctx, cutoff, limit)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var expired []*Order
	for _, o := range candidates {
		window := time.Duration(o.ReturnDays) * 24 * time.Hour
		if now.Sub(o.CreatedAt.UTC()) > window {
			expired = append(expired, o)
		}
	}
	return expired, nil
}

// Expire promotes one PAID order past its return window to COMPLETED.
func (s *Service) Expire(ctx context.Context, o *Order) error {
	window := time.Duration(o.ReturnDays) * 24 * time.Hour
	if time.Now().UTC().Sub(o.CreatedAt.UTC()) <= window {
		return fmt.Errorf("%w: return window still open for order %s", ErrStatusConflict, o.ID)
	}
	if err := s.store.UpdateStatus(ctx, o.ID, StatusPaid, StatusCompleted); err != nil {
		return err
	}
	observeTransition(StatusCompleted)
	return s.store.AppendEvent(ctx, newEvent(o.ID, EventCompleted, "return window elapsed"))
}

func newEvent(orderID string, typ EventType, note string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Type:      typ,
		Note:      note,
		CreatedAt: time.Now().UTC(),
	}
}
