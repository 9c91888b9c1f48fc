// Package scheduler runs the recurring reconciliation sweeps.
//
// Two independent scans per pass: matured escrows are released through
// the escrow manager's recovery ladder, and PAID orders past their
// return window are promoted to COMPLETED. A pass is single-flight: if
// the previous one is still running when the next tick fires, the tick
// is skipped, never queued. Each item is processed in isolation; one
// failure never aborts the rest of the sweep.
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fashionpoint/platform/internal/escrow"
	"github.com/fashionpoint/platform/internal/logging"
	"github.com/fashionpoint/platform/internal/order"
)

// sweepBatchSize bounds how many rows one pass picks up. Anything left
// over is handled next tick.
const sweepBatchSize = 200

// SweepResult counts per-item outcomes of one scan.
type SweepResult struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// RunResult is the outcome of one full reconciliation pass.
type RunResult struct {
	Skipped   bool          `json:"skipped"`
	Escrows   SweepResult   `json:"escrows"`
	Orders    SweepResult   `json:"orders"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
}

// Runner executes reconciliation passes. It is safe to trigger from the
// timer and the admin surface concurrently; only one pass runs at a time.
type Runner struct {
	escrows      *escrow.Service
	orders       *order.Service
	lookbackDays int
	inFlight     atomic.Bool
}

// NewRunner creates a reconciliation runner.
func NewRunner(escrows *escrow.Service, orders *order.Service, lookbackDays int) *Runner {
	return &Runner{
		escrows:      escrows,
		orders:       orders,
		lookbackDays: lookbackDays,
	}
}

// Run performs one pass. A pass that finds another still in flight
// returns immediately with Skipped set.
func (r *Runner) Run(ctx context.Context) *RunResult {
	if !r.inFlight.CompareAndSwap(false, true) {
		ticksSkipped.Inc()
		return &RunResult{Skipped: true}
	}
	defer r.inFlight.Store(false)

	start := time.Now()
	result := &RunResult{StartedAt: start.UTC()}
	result.Escrows = r.sweepEscrows(ctx)
	result.Orders = r.sweepOrders(ctx)
	result.Duration = time.Since(start)

	runDuration.Observe(result.Duration.Seconds())
	return result
}

// sweepEscrows releases every matured escrow. The release ladder inside
// the escrow manager decides between a normal finish, a manual release
// and an already-settled reclassification; all three are terminal, so a
// second pass with no time advance finds nothing to do.
func (r *Runner) sweepEscrows(ctx context.Context) SweepResult {
	log := logging.L(ctx)

	matured, err := r.escrows.ListMatured(ctx, time.Now().UTC(), sweepBatchSize)
	if err != nil {
		log.Error("escrow sweep: listing matured escrows failed", "error", err)
		sweepErrors.WithLabelValues("escrow").Inc()
		return SweepResult{}
	}

	result := SweepResult{Total: len(matured)}
	for _, e := range matured {
		if err := r.releaseOne(ctx, e); err != nil {
			result.Failed++
			log.Warn("escrow sweep: release failed, will retry next pass",
				"escrowId", e.ID, "error", err)
			continue
		}
		result.Succeeded++
	}

	if result.Total > 0 {
		log.Info("escrow sweep finished",
			"total", result.Total, "succeeded", result.Succeeded, "failed", result.Failed)
	}
	escrowsSwept.Add(float64(result.Succeeded))
	return result
}

// releaseOne isolates a single release so a panic in one item cannot
// take down the sweep.
func (r *Runner) releaseOne(ctx context.Context, e *escrow.Escrow) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic releasing escrow %s: %v", e.ID, rec)
		}
	}()

	receipt, err := r.escrows.Release(ctx, e)
	if err != nil {
		return err
	}
	if receipt.Tag != "" {
		logging.L(ctx).Info("escrow released via recovery path",
			"escrowId", e.ID, "tag", receipt.Tag)
	}
	return nil
}

// sweepOrders promotes PAID orders past their return window to COMPLETED.
// No ledger interaction, just a time-gated status promotion.
func (r *Runner) sweepOrders(ctx context.Context) SweepResult {
	log := logging.L(ctx)

	expired, err := r.orders.ListExpired(ctx, r.lookbackDays, sweepBatchSize)
	if err != nil {
		log.Error("order sweep: listing expired orders failed", "error", err)
		sweepErrors.WithLabelValues("order").Inc()
		return SweepResult{}
	}

	result := SweepResult{Total: len(expired)}
	for _, o := range expired {
		if err := r.expireOne(ctx, o); err != nil {
			result.Failed++
			log.Warn("order sweep: expiry failed", "orderId", o.ID, "error", err)
			continue
		}
		result.Succeeded++
	}

	if result.Total > 0 {
		log.Info("order sweep finished",
			"total", result.Total, "succeeded", result.Succeeded, "failed", result.Failed)
	}
	ordersExpired.Add(float64(result.Succeeded))
	return result
}

func (r *Runner) expireOne(ctx context.Context, o *order.Order) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic expiring order %s: %v", o.ID, rec)
		}
	}()
	return r.orders.Expire(ctx, o)
}
