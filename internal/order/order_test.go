package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fashionpoint/platform/internal/account"
	"github.com/fashionpoint/platform/internal/catalog"
	"github.com/fashionpoint/platform/internal/escrow"
	"github.com/fashionpoint/platform/internal/points"
	"github.com/fashionpoint/platform/internal/sysconfig"
	"github.com/fashionpoint/platform/internal/xrpl"
)

// fakeGateway satisfies xrpl.Gateway with scriptable failures.
type fakeGateway struct {
	balance    int64
	payErr     error
	batchErr   error
	escrowSeq  uint32
	payCalls   int
	batchCalls int
}

func (f *fakeGateway) SubmitPayment(ctx context.Context, from xrpl.Wallet, to string, drops int64) (*xrpl.PaymentResult, error) {
	f.payCalls++
	if f.payErr != nil {
		return nil, f.payErr
	}
	return &xrpl.PaymentResult{TxHash: "PAY_TX", EngineResult: xrpl.ResultSuccess}, nil
}

func (f *fakeGateway) SubmitTokenTransfer(ctx context.Context, from xrpl.Wallet, to string, issuanceID string, amount int64) (*xrpl.PaymentResult, error) {
	return &xrpl.PaymentResult{TxHash: "MPT_TX", EngineResult: xrpl.ResultSuccess}, nil
}

func (f *fakeGateway) SubmitBatchPayment(ctx context.Context, from xrpl.Wallet, items []xrpl.BatchItem) (*xrpl.PaymentResult, error) {
	f.batchCalls++
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	return &xrpl.PaymentResult{TxHash: "BATCH_TX", EngineResult: xrpl.ResultSuccess}, nil
}

func (f *fakeGateway) CreateConditionalTransfer(ctx context.Context, from xrpl.Wallet, to string, issuanceID string, amount int64, finishAfter, cancelAfter time.Time) (*xrpl.EscrowCreateResult, error) {
	f.escrowSeq++
	return &xrpl.EscrowCreateResult{
		TxHash:      "ESCROW_TX",
		Sequence:    f.escrowSeq,
		FinishAfter: finishAfter,
		CancelAfter: cancelAfter,
	}, nil
}

func (f *fakeGateway) FinishConditionalTransfer(ctx context.Context, fulfiller xrpl.Wallet, ownerAddr string, sequence uint32, issuanceID string) (*xrpl.TxResult, error) {
	return &xrpl.TxResult{TxHash: "FINISH_TX"}, nil
}

func (f *fakeGateway) CancelConditionalTransfer(ctx context.Context, canceller xrpl.Wallet, ownerAddr string, sequence uint32, issuanceID string) (*xrpl.TxResult, error) {
	return &xrpl.TxResult{TxHash: "CANCEL_TX"}, nil
}

func (f *fakeGateway) QueryEscrowStatus(ctx context.Context, ownerAddr string, sequence uint32) (*xrpl.EscrowStatus, error) {
	return &xrpl.EscrowStatus{Exists: true}, nil
}

func (f *fakeGateway) QueryTokenBalance(ctx context.Context, addr string, issuanceID string) (int64, error) {
	return f.balance, nil
}

func (f *fakeGateway) Close() error { return nil }

type fixture struct {
	svc          *Service
	gateway      *fakeGateway
	store        *MemoryStore
	escrowStore  *escrow.MemoryStore
	escrowSvc    *escrow.Service
	pointsStore  *points.MemoryStore
	pointsSvc    *points.Service
	catalogStore catalog.Store
	accounts     account.Store
	cfgSvc       *sysconfig.Service
	buyer        *account.Account
	product      *catalog.Product
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

	catalogStore := catalog.NewMemoryStore()
	company := catalog.NewCompany("Maison Demo")
	if err := catalogStore.CreateCompany(ctx, company); err != nil {
		t.Fatalf("create company: %v", err)
	}
	if err := accounts.CreateWallet(ctx, account.NewWallet(account.CompanyOwner(company.ID), "rCompanyAddressXXXXXXXXXXXXXXXXXXX", "sCompany")); err != nil {
		t.Fatalf("create company wallet: %v", err)
	}
	product := catalog.NewProduct(company.ID, "Silk Scarf", 100, 7)
	if err := catalogStore.CreateProduct(ctx, product); err != nil {
		t.Fatalf("create product: %v", err)
	}

	cfgSvc := sysconfig.NewService(sysconfig.NewMemoryStore(), accounts)
	if _, err := cfgSvc.Bootstrap(ctx, adminWallet.ID, "00000F4240B1D3A0", "FPT"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	pointsStore := points.NewMemoryStore()
	pointsSvc := points.NewService(pointsStore, accounts, cfgSvc, gateway)

	escrowStore := escrow.NewMemoryStore()
	escrowSvc := escrow.NewService(escrowStore, gateway, pointsSvc, cfgSvc, 7)

	store := NewMemoryStore()
	svc := NewService(store, catalogStore, accounts, escrowSvc, pointsSvc, gateway, cfgSvc, 500)
	escrowSvc.BindOrders(svc)

	return &fixture{
		svc:          svc,
		gateway:      gateway,
		store:        store,
		escrowStore:  escrowStore,
		escrowSvc:    escrowSvc,
		pointsStore:  pointsStore,
		pointsSvc:    pointsSvc,
		catalogStore: catalogStore,
		accounts:     accounts,
		cfgSvc:       cfgSvc,
		buyer:        buyer,
		product:      product,
	}
}

func (f *fixture) backdate(t *testing.T, orderID string, createdAt time.Time) {
	t.Helper()
	o, err := f.store.Get(context.Background(), orderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	o.CreatedAt = createdAt
	if err := f.store.Create(context.Background(), o); err != nil {
		t.Fatalf("rewrite order: %v", err)
	}
}

func TestEarnPoints(t *testing.T) {
	cases := []struct {
		final, rate, want int64
	}{
		{200, 500, 10},
		{0, 500, 0},
		{199, 500, 9},  // truncates once, at the end
		{10000, 500, 500},
		{1, 500, 0},
	}
	for _, tc := range cases {
		if got := EarnPoints(tc.final, tc.rate); got != tc.want {
			t.Errorf("EarnPoints(%d, %d) = %d, want %d", tc.final, tc.rate, got, tc.want)
		}
	}
}

// Scenario: buyer with no points buys quantity 2 of a 100-drop product.
func TestCreateAndPay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.svc.Create(ctx, f.buyer.ID, f.product.ID, 2, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if o.TotalAmount != 200 || o.FinalAmount != 200 {
		t.Errorf("amounts = (%d, %d), want (200, 200)", o.TotalAmount, o.FinalAmount)
	}
	if o.PointsToEarn != 10 {
		t.Errorf("pointsToEarn = %d, want 10", o.PointsToEarn)
	}
	if o.Status != StatusCreated {
		t.Errorf("status = %s, want CREATED", o.Status)
	}

	paid, err := f.svc.Pay(ctx, o.ID)
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if paid.Status != StatusPaid {
		t.Errorf("status = %s, want PAID", paid.Status)
	}

	escrows, err := f.escrowStore.ListByOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("list escrows: %v", err)
	}
	if len(escrows) != 1 {
		t.Fatalf("escrows = %d, want one reward escrow", len(escrows))
	}
	e := escrows[0]
	if e.Kind != escrow.KindReward || e.Amount != 10 {
		t.Errorf("escrow = (%s, %d), want (REWARD, 10)", e.Kind, e.Amount)
	}
	want := time.Now().UTC().Add(7 * 24 * time.Hour)
	if d := e.FinishAfter.Sub(want); d < -time.Minute || d > time.Minute {
		t.Errorf("finishAfter = %v, want about now+7d", e.FinishAfter)
	}
}

func TestCreateWithPointsChecksLiveBalance(t *testing.T) {
	f := newFixture(t)
	f.gateway.balance = 30
	ctx := context.Background()

	_, err := f.svc.Create(ctx, f.buyer.ID, f.product.ID, 1, 50)
	var insufficient *InsufficientPointsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("want InsufficientPointsError, got %v", err)
	}
	if insufficient.Requested != 50 || insufficient.Available != 30 {
		t.Errorf("error = %+v, want requested 50 available 30", insufficient)
	}

	f.gateway.balance = 100
	o, err := f.svc.Create(ctx, f.buyer.ID, f.product.ID, 1, 50)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if o.FinalAmount != 50 {
		t.Errorf("finalAmount = %d, want 50", o.FinalAmount)
	}
}

func TestPayWithPointsCreatesUsageEscrowAndUseEntry(t *testing.T) {
	f := newFixture(t)
	f.gateway.balance = 1000
	ctx := context.Background()

	o, err := f.svc.Create(ctx, f.buyer.ID, f.product.ID, 1, 40)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Pay(ctx, o.ID); err != nil {
		t.Fatalf("pay: %v", err)
	}

	escrows, _ := f.escrowStore.ListByOrder(ctx, o.ID)
	var usage, reward int
	for _, e := range escrows {
		switch e.Kind {
		case escrow.KindUsage:
			usage++
			if e.Amount != 40 {
				t.Errorf("usage amount = %d, want 40", e.Amount)
			}
			if e.CreateTxSeq == 0 {
				t.Error("usage escrow must carry a structured sequence")
			}
		case escrow.KindReward:
			reward++
		}
	}
	if usage != 1 || reward != 1 {
		t.Fatalf("escrows = (usage %d, reward %d), want (1, 1)", usage, reward)
	}

	entries, err := f.pointsStore.ListByAccount(ctx, f.buyer.ID)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Type != points.TypeUse || entries[0].Amount != 40 {
		t.Fatalf("entries = %+v, want one USE of 40", entries)
	}
}

func TestPayRejectsNonCreated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, _ := f.svc.Create(ctx, f.buyer.ID, f.product.ID, 1, 0)
	if _, err := f.svc.Pay(ctx, o.ID); err != nil {
		t.Fatalf("first pay: %v", err)
	}

	if _, err := f.svc.Pay(ctx, o.ID); !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("second pay: want ErrStatusConflict, got %v", err)
	}
	if f.gateway.payCalls != 1 {
		t.Fatalf("pay calls = %d, want 1: the rejected attempt must not reach the ledger", f.gateway.payCalls)
	}
}

func TestPayLedgerFailureLeavesOrderCreated(t *testing.T) {
	f := newFixture(t)
	f.gateway.payErr = errors.New("ledger down")
	ctx := context.Background()

	o, _ := f.svc.Create(ctx, f.buyer.ID, f.product.ID, 1, 0)
	if _, err := f.svc.Pay(ctx, o.ID); !errors.Is(err, ErrPaymentFailed) {
		t.Fatalf("want ErrPaymentFailed, got %v", err)
	}

	stored, _ := f.store.Get(ctx, o.ID)
	if stored.Status != StatusCreated {
		t.Errorf("status = %s, want CREATED", stored.Status)
	}
}

func TestCompleteRequiresMaturedEscrow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, _ := f.svc.Create(ctx, f.buyer.ID, f.product.ID, 1, 0)
	if _, err := f.svc.Pay(ctx, o.ID); err != nil {
		t.Fatalf("pay: %v", err)
	}

	// The reward escrow matures in 7 days; nothing to release yet.
	if _, err := f.svc.Complete(ctx, o.ID); !errors.Is(err, ErrNoMaturedEscrows) {
		t.Fatalf("want ErrNoMaturedEscrows, got %v", err)
	}
}

func TestCompleteReleasesMaturedEscrows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, _ := f.svc.Create(ctx, f.buyer.ID, f.product.ID, 2, 0)
	if _, err := f.svc.Pay(ctx, o.ID); err != nil {
		t.Fatalf("pay: %v", err)
	}

	escrows, _ := f.escrowStore.ListByOrder(ctx, o.ID)
	for _, e := range escrows {
		e.FinishAfter = time.Now().UTC().Add(-time.Hour)
		if err := f.escrowStore.Create(ctx, e); err != nil {
			t.Fatalf("mature escrow: %v", err)
		}
	}

	result, err := f.svc.Complete(ctx, o.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if result.Succeeded != 1 || result.Failed != 0 {
		t.Fatalf("result = %+v, want one success", result)
	}

	stored, _ := f.store.Get(ctx, o.ID)
	if stored.Status != StatusReleased {
		t.Errorf("status = %s, want RELEASED", stored.Status)
	}

	entries, _ := f.pointsStore.ListByAccount(ctx, f.buyer.ID)
	if len(entries) != 1 || entries[0].Type != points.TypeEarn || entries[0].Amount != 10 {
		t.Fatalf("entries = %+v, want one EARN of 10", entries)
	}
}

/// Scenario: 7-day return window; refund on day 8 rejected, day 6 accepted.
func TestRefundWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, _ := f.svc.Create(ctx, f.buyer.ID, f.product.ID, 1, 0)
	if _, err := f.svc.Pay(ctx, o.ID); err != nil {
		t.Fatalf("pay: %v", err)
	}

	f.backdate(t, o.ID, time.Now().UTC().AddDate(0, 0, -8))
	_, err := f.svc.Refund(ctx, o.ID, "changed my mind")
	var expired *RefundWindowExpiredError
	if !errors.As(err, &expired) {
		t.Fatalf("day 8: want RefundWindowExpiredError, got %v", err)
	}

	f.backdate(t, o.ID, time.Now().UTC().AddDate(0, 0, -6))
	refunded, err := f.svc.Refund(ctx, o.ID, "changed my mind")
	if err != nil {
		t.Fatalf("day 6: %v", err)
	}
	if refunded.Status != StatusRefunded {
		t.Errorf("status = %s, want REFUNDED", refunded.Status)
	}

	escrows, _ := f.escrowStore.ListByOrder(ctx, o.ID)
	for _, e := range escrows {
		if e.Status != escrow.StatusCanceled {
			t.Errorf("escrow %s = %s, want CANCELED", e.ID, e.Status)
		}
	}
}

func TestRefundReversesUsedPoints(t *testing.T) {
	f := newFixture(t)
	f.gateway.balance = 1000
	ctx := context.Background()

	o, _ := f.svc.Create(ctx, f.buyer.ID, f.product.ID, 1, 40)
	if _, err := f.svc.Pay(ctx, o.ID); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if _, err := f.svc.Refund(ctx, o.ID, ""); err != nil {
		t.Fatalf("refund: %v", err)
	}

	pointsSvc := points.NewService(f.pointsStore, nil, nil, nil)
	balance, err := pointsSvc.Balance(ctx, f.buyer.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("balance = %d, want 0 (USE fully reversed by REFUND)", balance)
	}
}

// Scenario: batch of 3 where the aggregated payment fails; nothing survives.
func TestBatchCreateRollsBackOnPaymentFailure(t *testing.T) {
	f := newFixture(t)
	f.gateway.batchErr = errors.New("batch rejected")
	ctx := context.Background()

	items := []BatchItem{
		{ProductID: f.product.ID, Quantity: 1},
		{ProductID: f.product.ID, Quantity: 2},
		{ProductID: f.product.ID, Quantity: 3},
	}
	if _, err := f.svc.BatchCreate(ctx, f.buyer.ID, items); !errors.Is(err, ErrPaymentFailed) {
		t.Fatalf("want ErrPaymentFailed, got %v", err)
	}

	orders, _ := f.store.ListByBuyer(ctx, f.buyer.ID, 100)
	if len(orders) != 0 {
		t.Fatalf("orders = %d, want all provisional rows deleted", len(orders))
	}
	entries, _ := f.pointsStore.ListByAccount(ctx, f.buyer.ID)
	if len(entries) != 0 {
		t.Fatalf("entries = %d, want none", len(entries))
	}
}

func TestBatchCreateMarksAllPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	items := []BatchItem{
		{ProductID: f.product.ID, Quantity: 1},
		{ProductID: f.product.ID, Quantity: 2},
	}
	orders, err := f.svc.BatchCreate(ctx, f.buyer.ID, items)
	if err != nil {
		t.Fatalf("batch create: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("orders = %d, want 2", len(orders))
	}
	if f.gateway.batchCalls != 1 {
		t.Fatalf("batch calls = %d, want one aggregated payment", f.gateway.batchCalls)
	}

	for _, o := range orders {
		stored, err := f.store.Get(ctx, o.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if stored.Status != StatusPaid {
			t.Errorf("order %s = %s, want PAID", o.ID, stored.Status)
		}
		payments, _ := f.store.ListPayments(ctx, o.ID)
		if len(payments) != 1 || payments[0].TxHash != "BATCH_TX" {
			t.Errorf("payments for %s = %+v, want one with the batch hash", o.ID, payments)
		}
	}
}

func TestExpirePromotesPaidOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, _ := f.svc.Create(ctx, f.buyer.ID, f.product.ID, 1, 0)
	if _, err := f.svc.Pay(ctx, o.ID); err != nil {
		t.Fatalf("pay: %v", err)
	}
	f.backdate(t, o.ID, time.Now().UTC().AddDate(0, 0, -10))

	expired, err := f.svc.ListExpired(ctx, 7, 100)
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(expired) != 1 {
		t.Fatalf("expired = %d, want 1", len(expired))
	}

	if err := f.svc.Expire(ctx, expired[0]); err != nil {
		t.Fatalf("expire: %v", err)
	}
	stored, _ := f.store.Get(ctx, o.ID)
	if stored.Status != StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", stored.Status)
	}
}

// Scenario: the reconciliation sweep releases the reward escrow without
// going through Complete; the linked order still moves to RELEASED.
func TestSweepReleaseMovesLinkedOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, _ := f.svc.Create(ctx, f.buyer.ID, f.product.ID, 1, 0)
	if _, err := f.svc.Pay(ctx, o.ID); err != nil {
		t.Fatalf("pay: %v", err)
	}

	escrows, _ := f.escrowStore.ListByOrder(ctx, o.ID)
	if len(escrows) != 1 {
		t.Fatalf("escrows = %d, want 1", len(escrows))
	}
	e := escrows[0]
	e.FinishAfter = time.Now().UTC().Add(-time.Hour)
	if err := f.escrowStore.Create(ctx, e); err != nil {
		t.Fatalf("mature escrow: %v", err)
	}

	if _, err := f.escrowSvc.Release(ctx, e); err != nil {
		t.Fatalf("release: %v", err)
	}

	stored, _ := f.store.Get(ctx, o.ID)
	if stored.Status != StatusReleased {
		t.Errorf("status = %s, want RELEASED", stored.Status)
	}

	events, _ := f.store.ListEvents(ctx, o.ID)
	var released bool
	for _, ev := range events {
		if ev.Type == EventEscrowReleased {
			released = true
		}
	}
	if !released {
		t.Error("order timeline must record the escrow release")
	}
}

// failingPayStore rejects the PAID commit to exercise the compensation path.
type failingPayStore struct {
	*MemoryStore
	markPaidErr error
}

func (s *failingPayStore) MarkPaid(ctx context.Context, st *Settlement) error {
	if s.markPaidErr != nil {
		return s.markPaidErr
	}
	return s.MemoryStore.MarkPaid(ctx, st)
}

// Scenario: the local PAID commit fails after the USE debit was written;
// a compensating REFUND brings the buyer's balance back to zero and the
// order stays CREATED.
func TestPayCompensatesUseEntryWhenCommitFails(t *testing.T) {
	f := newFixture(t)
	f.gateway.balance = 1000
	ctx := context.Background()

	o, err := f.svc.Create(ctx, f.buyer.ID, f.product.ID, 1, 40)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	store := &failingPayStore{MemoryStore: f.store, markPaidErr: errors.New("commit refused")}
	svc := NewService(store, f.catalogStore, f.accounts, f.escrowSvc, f.pointsSvc, f.gateway, f.cfgSvc, 500)
	if _, err := svc.Pay(ctx, o.ID); err == nil {
		t.Fatal("want error when the commit fails")
	}

	stored, _ := f.store.Get(ctx, o.ID)
	if stored.Status != StatusCreated {
		t.Errorf("status = %s, want CREATED", stored.Status)
	}

	entries, _ := f.pointsStore.ListByAccount(ctx, f.buyer.ID)
	if len(entries) != 2 {
		t.Fatalf("entries = %+v, want USE plus compensating REFUND", entries)
	}

	balance, err := f.pointsSvc.Balance(ctx, f.buyer.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("balance = %d, want 0 after compensation", balance)
	}
}
