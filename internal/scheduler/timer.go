package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Timer drives the runner on a fixed interval. Start and Stop are
// idempotent; the timer is constructed once at process start and shared
// by reference with whatever controls it.
type Timer struct {
	runner   *Runner
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a reconciliation timer.
func NewTimer(runner *Runner, interval time.Duration, logger *slog.Logger) *Timer {
	return &Timer{
		runner:   runner,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the tick loop is active.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start launches the tick loop in its own goroutine. Starting an
// already-running timer is a logged no-op.
func (t *Timer) Start(ctx context.Context) bool {
	if !t.running.CompareAndSwap(false, true) {
		t.logger.Info("scheduler already running, start ignored")
		return false
	}
	t.logger.Info("scheduler started", "interval", t.interval)
	go t.loop(ctx)
	return true
}

// Stop signals the loop to exit. Stopping a stopped timer is a no-op.
func (t *Timer) Stop() {
	if !t.running.Load() {
		return
	}
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) loop(ctx context.Context) {
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("scheduler stopping, context canceled")
			return
		case <-t.stop:
			t.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			t.safeRun(ctx)
		}
	}
}

func (t *Timer) safeRun(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in reconciliation pass", "panic", fmt.Sprint(r))
		}
	}()

	result := t.runner.Run(ctx)
	if result.Skipped {
		t.logger.Warn("reconciliation tick skipped, previous pass still running")
		return
	}
	if result.Escrows.Total > 0 || result.Orders.Total > 0 {
		t.logger.Info("reconciliation pass finished",
			"escrows", result.Escrows, "orders", result.Orders,
			"duration", result.Duration)
	}
}
