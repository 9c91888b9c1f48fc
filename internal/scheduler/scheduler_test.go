package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/fashionpoint/platform/internal/account"
	"github.com/fashionpoint/platform/internal/catalog"
	"github.com/fashionpoint/platform/internal/escrow"
	"github.com/fashionpoint/platform/internal/order"
	"github.com/fashionpoint/platform/internal/points"
	"github.com/fashionpoint/platform/internal/sysconfig"
	"github.com/fashionpoint/platform/internal/xrpl"
)

type fakeGateway struct {
	mu        sync.Mutex
	finishErr error
	seq       uint32
	blockCh   chan struct{} // when set, FinishConditionalTransfer blocks until closed
}

func (f *fakeGateway) SubmitPayment(ctx context.Context, from xrpl.Wallet, to string, drops int64) (*xrpl.PaymentResult, error) {
	return &xrpl.PaymentResult{TxHash: "PAY_TX", EngineResult: xrpl.ResultSuccess}, nil
}

func (f *fakeGateway) SubmitTokenTransfer(ctx context.Context, from xrpl.Wallet, to string, issuanceID string, amount int64) (*xrpl.PaymentResult, error) {
	return &xrpl.PaymentResult{TxHash: "MPT_TX", EngineResult: xrpl.ResultSuccess}, nil
}

func (f *fakeGateway) SubmitBatchPayment(ctx context.Context, from xrpl.Wallet, items []xrpl.BatchItem) (*xrpl.PaymentResult, error) {
	return &xrpl.PaymentResult{TxHash: "BATCH_TX", EngineResult: xrpl.ResultSuccess}, nil
}

func (f *fakeGateway) CreateConditionalTransfer(ctx context.Context, from xrpl.Wallet, to string, issuanceID string, amount int64, finishAfter, cancelAfter time.Time) (*xrpl.EscrowCreateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return &xrpl.EscrowCreateResult{TxHash: "ESCROW_TX", Sequence: f.seq}, nil
}

func (f *fakeGateway) FinishConditionalTransfer(ctx context.Context, fulfiller xrpl.Wallet, ownerAddr string, sequence uint32, issuanceID string) (*xrpl.TxResult, error) {
	if f.blockCh != nil {
		<-f.blockCh
	}
	if f.finishErr != nil {
		return nil, f.finishErr
	}
	return &xrpl.TxResult{TxHash: "FINISH_TX"}, nil
}

func (f *fakeGateway) CancelConditionalTransfer(ctx context.Context, canceller xrpl.Wallet, ownerAddr string, sequence uint32, issuanceID string) (*xrpl.TxResult, error) {
	return &xrpl.TxResult{TxHash: "CANCEL_TX"}, nil
}

func (f *fakeGateway) QueryEscrowStatus(ctx context.Context, ownerAddr string, sequence uint32) (*xrpl.EscrowStatus, error) {
	return &xrpl.EscrowStatus{Exists: true}, nil
}

func (f *fakeGateway) QueryTokenBalance(ctx context.Context, addr string, issuanceID string) (int64, error) {
	return 0, nil
}

func (f *fakeGateway) Close() error { return nil }

type fixture struct {
	runner      *Runner
	gateway     *fakeGateway
	escrowStore *escrow.MemoryStore
	orderStore  *order.MemoryStore
	pointsStore *points.MemoryStore
	buyer       *account.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	gateway := &fakeGateway{}

	accounts := account.NewMemoryStore()
	admin := account.NewAccount("admin@fashionpoint.io", "Admin", account.RoleAdmin)
	if err := accounts.CreateAccount(ctx, admin); err != nil {
		t.Fatalf("create admin: %v", err)
	}
	adminWallet := account.NewWallet(account.AccountOwner(admin.ID), "rAdminAddressXXXXXXXXXXXXXXXXXXXXX", "sAdmin")
	if err := accounts.CreateWallet(ctx, adminWallet); err != nil {
		t.Fatalf("create admin wallet: %v", err)
	}
	buyer := account.NewAccount("shopper@example.com", "Shopper", account.RoleUser)
	if err := accounts.CreateAccount(ctx, buyer); err != nil {
		t.Fatalf("create buyer: %v", err)
	}
	if err := accounts.CreateWallet(ctx, account.NewWallet(account.AccountOwner(buyer.ID), "rBuyerAddressXXXXXXXXXXXXXXXXXXXXX", "sBuyer")); err != nil {
		t.Fatalf("create buyer wallet: %v", err)
	}

	cfgSvc := sysconfig.NewService(sysconfig.NewMemoryStore(), accounts)
	if _, err := cfgSvc.Bootstrap(ctx, adminWallet.ID, "00000F4240B1D3A0", "FPT"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	pointsStore := points.NewMemoryStore()
	pointsSvc := points.NewService(pointsStore, accounts, cfgSvc, gateway)

	escrowStore := escrow.NewMemoryStore()
	escrowSvc := escrow.NewService(escrowStore, gateway, pointsSvc, cfgSvc, 7)

	orderStore := order.NewMemoryStore()
	orderSvc := order.NewService(orderStore, catalog.NewMemoryStore(), accounts,
		escrowSvc, pointsSvc, gateway, cfgSvc, 500)
	escrowSvc.BindOrders(orderSvc)

	return &fixture{
		runner:      NewRunner(escrowSvc, orderSvc, 7),
		gateway:     gateway,
		escrowStore: escrowStore,
		orderStore:  orderStore,
		pointsStore: pointsStore,
		buyer:       buyer,
	}
}

func (f *fixture) seedMaturedEscrow(t *testing.T, id string) *escrow.Escrow {
	t.Helper()
	e := &escrow.Escrow{
		ID:           id,
		Kind:         escrow.KindReward,
		AccountID:    f.buyer.ID,
		OwnerAddress: "rAdminAddressXXXXXXXXXXXXXXXXXXXXX",
		Destination:  "rBuyerAddressXXXXXXXXXXXXXXXXXXXXX",
		IssuanceID:   "00000F4240B1D3A0",
		Amount:       25,
		CreateTxHash: "ESCROW_TX",
		CreateTxSeq:  9,
		FinishAfter:  time.Now().UTC().Add(-time.Hour),
		CancelAfter:  time.Now().UTC().Add(6 * 24 * time.Hour),
		Status:       escrow.StatusCreated,
		CreatedAt:    time.Now().UTC().Add(-8 * 24 * time.Hour),
	}
	if err := f.escrowStore.Create(context.Background(), e); err != nil {
		t.Fatalf("seed escrow: %v", err)
	}
	return e
}

// Scenario: an escrow with finishAfter in the past gets released by the
// sweep and one EARN entry appears for the beneficiary.
func TestSweepReleasesMaturedEscrow(t *testing.T) {
	f := newFixture(t)
	e := f.seedMaturedEscrow(t, "esc-1")

	result := f.runner.Run(context.Background())
	if result.Skipped {
		t.Fatal("pass must not be skipped")
	}
	if result.Escrows.Total != 1 || result.Escrows.Succeeded != 1 {
		t.Fatalf("escrow sweep = %+v, want one success", result.Escrows)
	}

	stored, err := f.escrowStore.Get(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != escrow.StatusReleased {
		t.Errorf("status = %s, want RELEASED", stored.Status)
	}

	entries, err := f.pointsStore.ListByAccount(context.Background(), f.buyer.ID)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Type != points.TypeEarn || entries[0].Amount != 25 {
		t.Fatalf("entries = %+v, want one EARN of 25", entries)
	}
}

// Running the sweep twice without time advancing must process zero
// additional escrows the second time.
func TestSweepIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seedMaturedEscrow(t, "esc-1")
	f.seedMaturedEscrow(t, "esc-2")

	first := f.runner.Run(context.Background())
	if first.Escrows.Succeeded != 2 {
		t.Fatalf("first pass = %+v, want 2 released", first.Escrows)
	}

	second := f.runner.Run(context.Background())
	if second.Escrows.Total != 0 {
		t.Fatalf("second pass picked up %d escrows, want 0", second.Escrows.Total)
	}

	entries, _ := f.pointsStore.ListByAccount(context.Background(), f.buyer.ID)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want exactly 2 credits", len(entries))
	}
}

// Ledger reports not-found for a locally CREATED escrow: the sweep marks
// it RELEASED with the synthetic tag and credits exactly one EARN entry.
func TestSweepRecoversAlreadySettledEscrow(t *testing.T) {
	f := newFixture(t)
	f.gateway.finishErr = xrpl.ErrNotFound
	e := f.seedMaturedEscrow(t, "esc-1")

	result := f.runner.Run(context.Background())
	if result.Escrows.Succeeded != 1 {
		t.Fatalf("sweep = %+v, want one success", result.Escrows)
	}

	stored, _ := f.escrowStore.Get(context.Background(), e.ID)
	if stored.Status != escrow.StatusReleased {
		t.Errorf("status = %s, want RELEASED", stored.Status)
	}
	if stored.ReceiptTag != escrow.TagAlreadySettled {
		t.Errorf("tag = %q, want %q", stored.ReceiptTag, escrow.TagAlreadySettled)
	}

	entries, _ := f.pointsStore.ListByAccount(context.Background(), f.buyer.ID)
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want exactly one credit", len(entries))
	}
}

func TestSweepFallsBackToManualRelease(t *testing.T) {
	f := newFixture(t)
	e := f.seedMaturedEscrow(t, "esc-1")
	e.CreateTxHash = ""
	e.CreateTxSeq = 0
	if err := f.escrowStore.Create(context.Background(), e); err != nil {
		t.Fatalf("update: %v", err)
	}

	result := f.runner.Run(context.Background())
	if result.Escrows.Succeeded != 1 {
		t.Fatalf("sweep = %+v, want one success", result.Escrows)
	}

	stored, _ := f.escrowStore.Get(context.Background(), e.ID)
	if stored.ReceiptTag != escrow.TagManualFinish {
		t.Errorf("tag = %q, want %q", stored.ReceiptTag, escrow.TagManualFinish)
	}
}

func TestSweepIsolatesPerItemFailures(t *testing.T) {
	f := newFixture(t)
	f.gateway.finishErr = context.DeadlineExceeded
	f.seedMaturedEscrow(t, "esc-1")

	broken := f.seedMaturedEscrow(t, "esc-2")
	broken.CreateTxHash = ""
	broken.CreateTxSeq = 0
	if err := f.escrowStore.Create(context.Background(), broken); err != nil {
		t.Fatalf("update: %v", err)
	}

	result := f.runner.Run(context.Background())
	if result.Escrows.Total != 2 {
		t.Fatalf("total = %d, want 2", result.Escrows.Total)
	}
	// The ledger-backed escrow fails, the manual one still settles.
	if result.Escrows.Succeeded != 1 || result.Escrows.Failed != 1 {
		t.Fatalf("sweep = %+v, want one success and one failure", result.Escrows)
	}
}

func TestRunSingleFlight(t *testing.T) {
	f := newFixture(t)
	f.gateway.blockCh = make(chan struct{})
	f.seedMaturedEscrow(t, "esc-1")

	done := make(chan *RunResult, 1)
	go func() { done <- f.runner.Run(context.Background()) }()

	// Wait for the first pass to reach the blocking ledger call.
	deadline := time.After(2 * time.Second)
	for !f.runner.inFlight.Load() {
		select {
		case <-deadline:
			t.Fatal("first pass never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	second := f.runner.Run(context.Background())
	if !second.Skipped {
		t.Fatal("concurrent second pass must be skipped, not queued")
	}

	close(f.gateway.blockCh)
	first := <-done
	if first.Skipped || first.Escrows.Succeeded != 1 {
		t.Fatalf("first pass = %+v, want one release", first)
	}
}

func TestTimerStartIsIdempotent(t *testing.T) {
	f := newFixture(t)
	timer := NewTimer(f.runner, 50*time.Millisecond, slog.Default())
	defer timer.Stop()

	if !timer.Start(context.Background()) {
		t.Fatal("first start must succeed")
	}
	if timer.Start(context.Background()) {
		t.Fatal("second start must be a no-op")
	}
	if !timer.Running() {
		t.Fatal("timer must be running")
	}
}

func TestTimerStopClearsLoop(t *testing.T) {
	f := newFixture(t)
	timer := NewTimer(f.runner, 10*time.Millisecond, slog.Default())

	timer.Start(context.Background())
	timer.Stop()

	deadline := time.After(2 * time.Second)
	for timer.Running() {
		select {
		case <-deadline:
			t.Fatal("timer did not stop")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	// Stopping again is harmless, and the timer can start fresh.
	timer.Stop()
	if !timer.Start(context.Background()) {
		t.Fatal("timer must be restartable after stop")
	}
	timer.Stop()
}
