// Package xrpl talks to an XRPL-family ledger over the rippled websocket API.
//
// The platform uses three ledger primitives:
//  1. Payment: native drops between wallets (order payment, subscriptions)
//  2. MPT transfer: issued-token movement (admin point credits)
//  3. Escrow: time-locked conditional transfer keyed by (owner, sequence)
//
// Every operation opens its own session and closes it on all exit paths.
package xrpl

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when the referenced escrow object no longer
	// exists on the ledger (already finished or cancelled).
	ErrNotFound = errors.New("xrpl: ledger object not found")

	// ErrConnect is returned when the websocket session cannot be established.
	ErrConnect = errors.New("xrpl: connection failed")
)

// ResultSuccess is the engine result a transaction must report to be
// considered applied. Anything else is a failure.
const ResultSuccess = "tesSUCCESS"

// rippleEpochOffset is the difference between the ledger epoch
// (2000-01-01T00:00:00Z) and the Unix epoch, in seconds.
const rippleEpochOffset = 946684800

// ToRippleTime converts a time.Time to ledger epoch seconds.
func ToRippleTime(t time.Time) int64 {
	return t.UTC().Unix() - rippleEpochOffset
}

// FromRippleTime converts ledger epoch seconds to a UTC time.Time.
func FromRippleTime(v int64) time.Time {
	return time.Unix(v+rippleEpochOffset, 0).UTC()
}

// SubmitError wraps a rejected or failed transaction submission.
type SubmitError struct {
	Op           string // operation that failed
	TxHash       string // transaction hash if one was assigned
	EngineResult string // ledger engine result code, if any
	Err          error  // underlying error
}

func (e *SubmitError) Error() string {
	if e.EngineResult != "" {
		return fmt.Sprintf("xrpl: %s failed with %s", e.Op, e.EngineResult)
	}
	return fmt.Sprintf("xrpl: %s failed: %v", e.Op, e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }

// Wallet identifies a signing wallet. The seed is only ever sent to the
// local sign-and-submit endpoint, never persisted by this package.
type Wallet struct {
	Address string
	Seed    string
}

// PaymentResult is the outcome of a payment or token transfer.
type PaymentResult struct {
	TxHash       string
	EngineResult string
}

// TxResult is the outcome of an escrow finish or cancel.
type TxResult struct {
	TxHash string
}

// EscrowCreateResult describes a newly created on-ledger escrow. The
// (owner, Sequence) pair addresses the escrow object for finish/cancel.
type EscrowCreateResult struct {
	TxHash      string
	Sequence    uint32
	FinishAfter time.Time
	CancelAfter time.Time
}

// EscrowStatus is the live state of an escrow object on the ledger.
type EscrowStatus struct {
	Exists      bool
	CanFinish   bool
	CanCancel   bool
	FinishAfter time.Time
	CancelAfter time.Time
	Destination string
	Amount      string
}

// BatchItem is one destination of an atomic multi-payment.
type BatchItem struct {
	Destination string
	Amount      int64 // drops
}

// Gateway abstracts the ledger operations the settlement core needs.
type Gateway interface {
	// SubmitPayment moves native drops from one wallet to an address.
	SubmitPayment(ctx context.Context, from Wallet, to string, drops int64) (*PaymentResult, error)

	// SubmitTokenTransfer moves issued points between wallets.
	SubmitTokenTransfer(ctx context.Context, from Wallet, to string, issuanceID string, amount int64) (*PaymentResult, error)

	// SubmitBatchPayment submits one all-or-nothing multi-destination payment.
	SubmitBatchPayment(ctx context.Context, from Wallet, items []BatchItem) (*PaymentResult, error)

	// CreateConditionalTransfer locks tokens in an on-ledger escrow.
	CreateConditionalTransfer(ctx context.Context, from Wallet, to string, issuanceID string, amount int64, finishAfter, cancelAfter time.Time) (*EscrowCreateResult, error)

	// FinishConditionalTransfer releases an escrow addressed by (owner, sequence).
	// Returns ErrNotFound when the object no longer exists on the ledger.
	FinishConditionalTransfer(ctx context.Context, fulfiller Wallet, ownerAddr string, sequence uint32, issuanceID string) (*TxResult, error)

	// CancelConditionalTransfer cancels an escrow addressed by (owner, sequence).
	CancelConditionalTransfer(ctx context.Context, canceller Wallet, ownerAddr string, sequence uint32, issuanceID string) (*TxResult, error)

	// QueryEscrowStatus reads the live escrow object without mutating it.
	QueryEscrowStatus(ctx context.Context, ownerAddr string, sequence uint32) (*EscrowStatus, error)

	// QueryTokenBalance returns an address's issued-token balance.
	QueryTokenBalance(ctx context.Context, addr string, issuanceID string) (int64, error)

	Close() error
}
