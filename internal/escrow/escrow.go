// Package escrow manages time-locked point transfers.
//
// Every escrow exists twice: as an object on the ledger, addressed by
// (owner address, sequence), and as a local row tracking its lifecycle.
// The local row moves CREATED → RELEASED or CREATED → CANCELED and never
// transitions again. Release is gated by FinishAfter, cancel by
// CancelAfter. The ledger side is authoritative; when it disagrees with
// the local row the release path reconciles instead of failing.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fashionpoint/platform/internal/logging"
	"github.com/fashionpoint/platform/internal/points"
	"github.com/fashionpoint/platform/internal/sysconfig"
	"github.com/fashionpoint/platform/internal/xrpl"
	"github.com/google/uuid"
)

var (
	ErrEscrowNotFound  = errors.New("escrow not found")
	ErrNotReleasable   = errors.New("escrow is not release-eligible")
	ErrAlreadyResolved = errors.New("escrow already resolved")
	ErrBadCreateTx     = errors.New("malformed escrow create reference")
)

// Status represents the local state of an escrow.
type Status string

const (
	StatusCreated  Status = "CREATED"
	StatusReleased Status = "RELEASED"
	StatusCanceled Status = "CANCELED"
)

// Kind distinguishes the two escrow directions the pipeline creates.
type Kind string

const (
	// KindUsage locks points a buyer spends, buyer → company.
	KindUsage Kind = "USAGE"
	// KindReward locks points earned on a purchase, admin → buyer.
	KindReward Kind = "REWARD"
)

// Receipt tags for releases that did not go through a normal ledger finish.
const (
	// TagManualFinish marks a release performed without a ledger call
	// because the escrow row carries no usable (hash, sequence) reference.
	TagManualFinish = "MANUAL_FINISH_NO_SEQUENCE"

	// TagAlreadySettled marks a release where the ledger object was
	// already gone, typically finished directly by the beneficiary.
	TagAlreadySettled = "ALREADY_PROCESSED_ON_CHAIN"
)

// Escrow is the local representation of an on-ledger time-locked transfer.
type Escrow struct {
	ID           string     `json:"id"`
	Kind         Kind       `json:"kind"`
	OrderID      string     `json:"orderId,omitempty"`
	AccountID    string     `json:"accountId"` // beneficiary account credited on release
	OwnerAddress string     `json:"ownerAddress"`
	Destination  string     `json:"destination"`
	IssuanceID   string     `json:"issuanceId"`
	Amount       int64      `json:"amount"`
	CreateTxHash string     `json:"createTxHash,omitempty"`
	CreateTxSeq  uint32     `json:"createTxSeq,omitempty"`
	FinishAfter  time.Time  `json:"finishAfter"`
	CancelAfter  time.Time  `json:"cancelAfter"`
	Status       Status     `json:"status"`
	FinishTxHash string     `json:"finishTxHash,omitempty"`
	ReceiptTag   string     `json:"receiptTag,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	ResolvedAt   *time.Time `json:"resolvedAt,omitempty"`
}

// IsTerminal returns true once the escrow is released or canceled.
func (e *Escrow) IsTerminal() bool {
	return e.Status == StatusReleased || e.Status == StatusCanceled
}

// Releasable reports whether the escrow may be finished at the given time.
func (e *Escrow) Releasable(now time.Time) bool {
	return e.Status == StatusCreated && !now.UTC().Before(e.FinishAfter.UTC())
}

// Cancelable reports whether the escrow may be canceled at the given time.
func (e *Escrow) Cancelable(now time.Time) bool {
	return e.Status == StatusCreated && !now.UTC().Before(e.CancelAfter.UTC())
}

// ParseLegacyCreateTx splits the historical "{hash}:{sequence}" reference
// into its structured parts. Only used when importing old rows.
func ParseLegacyCreateTx(s string) (string, uint32, error) {
	hash, seqStr, ok := strings.Cut(s, ":")
	if !ok || hash == "" {
		return "", 0, fmt.Errorf("%w: %q", ErrBadCreateTx, s)
	}
	seq, err := strconv.ParseUint(seqStr, 10, 32)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %q", ErrBadCreateTx, s)
	}
	return hash, uint32(seq), nil
}

// Receipt is the outcome of a release or cancel.
type Receipt struct {
	TxHash string `json:"txHash,omitempty"`
	Tag    string `json:"tag,omitempty"`
}

// Store persists escrow rows.
type Store interface {
	Create(ctx context.Context, e *Escrow) error
	Get(ctx context.Context, id string) (*Escrow, error)
	// Resolve writes the terminal state of e only while the row is still
	// in the `from` status. A row that already moved on returns
	// ErrAlreadyResolved, so two racing resolutions commit exactly once.
	Resolve(ctx context.Context, e *Escrow, from Status) error
	ListByOrder(ctx context.Context, orderID string) ([]*Escrow, error)
	ListMatured(ctx context.Context, before time.Time, limit int) ([]*Escrow, error)
}

// Ledger is the slice of the gateway the escrow manager uses.
type Ledger interface {
	CreateConditionalTransfer(ctx context.Context, from xrpl.Wallet, to string, issuanceID string, amount int64, finishAfter, cancelAfter time.Time) (*xrpl.EscrowCreateResult, error)
	FinishConditionalTransfer(ctx context.Context, fulfiller xrpl.Wallet, ownerAddr string, sequence uint32, issuanceID string) (*xrpl.TxResult, error)
	CancelConditionalTransfer(ctx context.Context, canceller xrpl.Wallet, ownerAddr string, sequence uint32, issuanceID string) (*xrpl.TxResult, error)
	QueryEscrowStatus(ctx context.Context, ownerAddr string, sequence uint32) (*xrpl.EscrowStatus, error)
}

// Recorder appends point ledger entries on release.
type Recorder interface {
	RecordTx(ctx context.Context, accountID string, typ points.EntryType, amount int64, note, txHash string) (*points.Entry, error)
}

// Orders receives release notifications for order-linked escrows so the
// linked order moves forward no matter which path released the escrow.
type Orders interface {
	EscrowReleased(ctx context.Context, orderID, note string) error
}

// Service implements escrow lifecycle logic.
type Service struct {
	store      Store
	ledger     Ledger
	recorder   Recorder
	orders     Orders
	sysconfig  *sysconfig.Service
	bufferDays int

	// locks serialize resolution per escrow within this process. The
	// store transition is conditional as well, which covers resolutions
	// racing across processes.
	locks sync.Map
}

// NewService creates an escrow service. bufferDays is added on top of the
// lock duration to compute the cancel gate.
func NewService(store Store, ledger Ledger, recorder Recorder, cfg *sysconfig.Service, bufferDays int) *Service {
	return &Service{
		store:      store,
		ledger:     ledger,
		recorder:   recorder,
		sysconfig:  cfg,
		bufferDays: bufferDays,
	}
}

// BindOrders attaches the order pipeline notified on release. Set after
// construction: the order service itself depends on this one.
func (s *Service) BindOrders(o Orders) {
	s.orders = o
}

func (s *Service) lock(id string) func() {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// CreateUsageEscrow locks points a buyer spends on an order, buyer → company.
func (s *Service) CreateUsageEscrow(ctx context.Context, owner xrpl.Wallet, accountID, destination, issuanceID string, amount int64, lockDays int, orderID string) (*Escrow, error) {
	return s.create(ctx, KindUsage, owner, accountID, destination, issuanceID, amount, lockDays, orderID)
}

// CreateRewardEscrow locks points earned on a purchase, admin → buyer.
func (s *Service) CreateRewardEscrow(ctx context.Context, owner xrpl.Wallet, accountID, destination, issuanceID string, amount int64, lockDays int, orderID string) (*Escrow, error) {
	return s.create(ctx, KindReward, owner, accountID, destination, issuanceID, amount, lockDays, orderID)
}

func (s *Service) create(ctx context.Context, kind Kind, owner xrpl.Wallet, accountID, destination, issuanceID string, amount int64, lockDays int, orderID string) (*Escrow, error) {
	if amount <= 0 {
		return nil, points.ErrInvalidAmount
	}

	now := time.Now().UTC()
	finishAfter := now.Add(time.Duration(lockDays) * 24 * time.Hour)
	cancelAfter := finishAfter.Add(time.Duration(s.bufferDays) * 24 * time.Hour)

	res, err := s.ledger.CreateConditionalTransfer(ctx, owner, destination, issuanceID, amount, finishAfter, cancelAfter)
	if err != nil {
		return nil, fmt.Errorf("submit escrow create: %w", err)
	}

	e := &Escrow{
		ID:           uuid.NewString(),
		Kind:         kind,
		OrderID:      orderID,
		AccountID:    accountID,
		OwnerAddress: owner.Address,
		Destination:  destination,
		IssuanceID:   issuanceID,
		Amount:       amount,
		CreateTxHash: res.TxHash,
		CreateTxSeq:  res.Sequence,
		FinishAfter:  finishAfter,
		CancelAfter:  cancelAfter,
		Status:       StatusCreated,
		CreatedAt:    now,
	}
	if err := s.store.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("persist escrow: %w", err)
	}
	observeCreate(kind)
	return e, nil
}

// Release finishes a matured escrow and credits the beneficiary exactly once.
//
// Three outcomes are possible:
//  1. normal ledger finish
//  2. the row carries no usable sequence, release locally (TagManualFinish)
//  3. the ledger object is already gone, reclassified as settled (TagAlreadySettled)
//
// Any other gateway failure leaves the escrow CREATED for the next pass.
//
// Releasing an already-released escrow is a no-op returning the prior
// receipt, never a second credit.
func (s *Service) Release(ctx context.Context, e *Escrow) (*Receipt, error) {
	unlock := s.lock(e.ID)
	defer unlock()

	if e.Status == StatusReleased {
		return &Receipt{TxHash: e.FinishTxHash, Tag: e.ReceiptTag}, nil
	}
	if e.Status == StatusCanceled {
		return nil, ErrAlreadyResolved
	}
	if !e.Releasable(time.Now()) {
		return nil, ErrNotReleasable
	}

	// The caller's copy may predate a concurrent resolution.
	cur, err := s.store.Get(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	if cur.IsTerminal() {
		*e = *cur
		if e.Status == StatusCanceled {
			return nil, ErrAlreadyResolved
		}
		return &Receipt{TxHash: e.FinishTxHash, Tag: e.ReceiptTag}, nil
	}

	if e.CreateTxHash == "" || e.CreateTxSeq == 0 {
		return s.settle(ctx, e, "", TagManualFinish)
	}

	_, admin, err := s.sysconfig.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settlement config: %w", err)
	}

	res, err := s.ledger.FinishConditionalTransfer(ctx, admin, e.OwnerAddress, e.CreateTxSeq, e.IssuanceID)
	if errors.Is(err, xrpl.ErrNotFound) {
		return s.settle(ctx, e, "", TagAlreadySettled)
	}
	if err != nil {
		return nil, fmt.Errorf("submit escrow finish: %w", err)
	}
	return s.settle(ctx, e, res.TxHash, "")
}

// settle marks the escrow released and appends the EARN entry. The
// CREATED→RELEASED transition is conditional in the store; only the
// resolution that wins it records the credit, so the credit happens
// exactly once. The loser adopts the winner's receipt.
func (s *Service) settle(ctx context.Context, e *Escrow, txHash, tag string) (*Receipt, error) {
	now := time.Now().UTC()
	e.Status = StatusReleased
	e.FinishTxHash = txHash
	e.ReceiptTag = tag
	e.ResolvedAt = &now
	if err := s.store.Resolve(ctx, e, StatusCreated); err != nil {
		if errors.Is(err, ErrAlreadyResolved) {
			cur, gerr := s.store.Get(ctx, e.ID)
			if gerr != nil {
				return nil, gerr
			}
			*e = *cur
			if e.Status != StatusReleased {
				return nil, ErrAlreadyResolved
			}
			return &Receipt{TxHash: e.FinishTxHash, Tag: e.ReceiptTag}, nil
		}
		return nil, fmt.Errorf("persist release: %w", err)
	}

	note := "escrow released"
	if e.OrderID != "" {
		note = "escrow released for order " + e.OrderID
	}
	if _, err := s.recorder.RecordTx(ctx, e.AccountID, points.TypeEarn, e.Amount, note, txHash); err != nil {
		return nil, fmt.Errorf("record earn entry: %w", err)
	}

	if e.OrderID != "" && s.orders != nil {
		orderNote := fmt.Sprintf("escrow %s released, %d points credited", e.ID, e.Amount)
		if tag != "" {
			orderNote += " (" + tag + ")"
		}
		if err := s.orders.EscrowReleased(ctx, e.OrderID, orderNote); err != nil {
			logging.L(ctx).Error("order release propagation failed",
				"orderId", e.OrderID, "escrowId", e.ID, "error", err)
		}
	}
	observeRelease(tag)
	return &Receipt{TxHash: txHash, Tag: tag}, nil
}

// Cancel aborts a still-locked escrow. Used by the refund path only; no
// ledger entry is written here. There is no local time gate: the ledger
// decides whether the cancel is permitted and rejects early attempts.
func (s *Service) Cancel(ctx context.Context, e *Escrow) (*Receipt, error) {
	unlock := s.lock(e.ID)
	defer unlock()

	if e.Status == StatusCanceled {
		return &Receipt{TxHash: e.FinishTxHash, Tag: e.ReceiptTag}, nil
	}
	if e.Status == StatusReleased {
		return nil, ErrAlreadyResolved
	}

	cur, err := s.store.Get(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	if cur.IsTerminal() {
		*e = *cur
		if e.Status == StatusReleased {
			return nil, ErrAlreadyResolved
		}
		return &Receipt{TxHash: e.FinishTxHash, Tag: e.ReceiptTag}, nil
	}

	_, admin, err := s.sysconfig.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settlement config: %w", err)
	}

	var txHash, tag string
	res, err := s.ledger.CancelConditionalTransfer(ctx, admin, e.OwnerAddress, e.CreateTxSeq, e.IssuanceID)
	switch {
	case errors.Is(err, xrpl.ErrNotFound):
		tag = TagAlreadySettled
	case err != nil:
		return nil, fmt.Errorf("submit escrow cancel: %w", err)
	default:
		txHash = res.TxHash
	}

	now := time.Now().UTC()
	e.Status = StatusCanceled
	e.FinishTxHash = txHash
	e.ReceiptTag = tag
	e.ResolvedAt = &now
	if err := s.store.Resolve(ctx, e, StatusCreated); err != nil {
		if errors.Is(err, ErrAlreadyResolved) {
			cur, gerr := s.store.Get(ctx, e.ID)
			if gerr != nil {
				return nil, gerr
			}
			*e = *cur
			if e.Status != StatusCanceled {
				return nil, ErrAlreadyResolved
			}
			return &Receipt{TxHash: e.FinishTxHash, Tag: e.ReceiptTag}, nil
		}
		return nil, fmt.Errorf("persist cancel: %w", err)
	}
	observeCancel()
	return &Receipt{TxHash: txHash, Tag: tag}, nil
}

// Status queries the live on-ledger state of an escrow object.
func (s *Service) Status(ctx context.Context, ownerAddr string, sequence uint32) (*xrpl.EscrowStatus, error) {
	return s.ledger.QueryEscrowStatus(ctx, ownerAddr, sequence)
}

// Get loads one escrow row.
func (s *Service) Get(ctx context.Context, id string) (*Escrow, error) {
	return s.store.Get(ctx, id)
}

// ListByOrder returns the escrows tied to an order.
func (s *Service) ListByOrder(ctx context.Context, orderID string) ([]*Escrow, error) {
	return s.store.ListByOrder(ctx, orderID)
}

// ListMatured returns CREATED escrows whose finish gate has opened.
func (s *Service) ListMatured(ctx context.Context, before time.Time, limit int) ([]*Escrow, error) {
	return s.store.ListMatured(ctx, before, limit)
}
