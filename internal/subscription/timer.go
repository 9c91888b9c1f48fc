package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Timer drives the renewal and expiry sweeps on a fixed interval.
type Timer struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a subscription settlement timer.
func NewTimer(service *Service, interval time.Duration, logger *slog.Logger) *Timer {
	return &Timer{
		service:  service,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the tick loop is active.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start launches the tick loop in its own goroutine. Idempotent.
func (t *Timer) Start(ctx context.Context) bool {
	if !t.running.CompareAndSwap(false, true) {
		t.logger.Info("subscription timer already running, start ignored")
		return false
	}
	t.logger.Info("subscription timer started", "interval", t.interval)
	go t.loop(ctx)
	return true
}

// Stop signals the loop to exit. Idempotent.
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
			return
		case <-t.stop:
			t.logger.Info("subscription timer stopped")
			return
		case <-ticker.C:
			t.safeSweep(ctx)
		}
	}
}

func (t *Timer) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in subscription sweep", "panic", fmt.Sprint(r))
		}
	}()

	renewed := t.service.RenewDue(ctx)
	expired := t.service.ExpireOverdue(ctx)
	if renewed.Total > 0 || expired.Total > 0 {
		t.logger.Info("subscription sweep finished", "renewed", renewed, "expired", expired)
	}
}
