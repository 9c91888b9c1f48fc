package points

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/fashionpoint/platform/internal/account"
	"github.com/fashionpoint/platform/internal/pagination"
	"github.com/fashionpoint/platform/internal/sysconfig"
	"github.com/fashionpoint/platform/internal/xrpl"
	"github.com/google/uuid"
)

type mockSender struct {
	calls  int
	lastTo string
	amount int64
	err    error
}

func (m *mockSender) SubmitTokenTransfer(ctx context.Context, from xrpl.Wallet, to string, issuanceID string, amount int64) (*xrpl.PaymentResult, error) {
	m.calls++
	m.lastTo = to
	m.amount = amount
	if m.err != nil {
		return nil, m.err
	}
	return &xrpl.PaymentResult{TxHash: "ABCD1234", EngineResult: xrpl.ResultSuccess}, nil
}

func newTestService(t *testing.T, sender TokenSender) (*Service, *account.Account) {
	t.Helper()
	ctx := context.Background()

	accounts := account.NewMemoryStore()
	admin := account.NewAccount("admin@fashionpoint.io", "Admin", account.RoleAdmin)
	if err := accounts.CreateAccount(ctx, admin); err != nil {
		t.Fatalf("create admin: %v", err)
	}
	adminWallet := account.NewWallet(account.AccountOwner(admin.ID), "rAdminAddressXXXXXXXXXXXXXXXXXXXXX", "sSeed")
	if err := accounts.CreateWallet(ctx, adminWallet); err != nil {
		t.Fatalf("create admin wallet: %v", err)
	}

	user := account.NewAccount("shopper@example.com", "Shopper", account.RoleUser)
	if err := accounts.CreateAccount(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	userWallet := account.NewWallet(account.AccountOwner(user.ID), "rUserAddressXXXXXXXXXXXXXXXXXXXXXX", "sSeed2")
	if err := accounts.CreateWallet(ctx, userWallet); err != nil {
		t.Fatalf("create user wallet: %v", err)
	}

	cfgService := sysconfig.NewService(sysconfig.NewMemoryStore(), accounts)
	if _, err := cfgService.Bootstrap(ctx, adminWallet.ID, "00000F4240B1D3A0", "FPT"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	return NewService(NewMemoryStore(), accounts, cfgService, sender), user
}

func TestParseAmount(t *testing.T) {
	good := map[string]int64{
		"0":     0,
		"1":     1,
		"10000": 10000,
	}
	for in, want := range good {
		got, err := ParseAmount(in)
		if err != nil {
			t.Errorf("ParseAmount(%q): unexpected error %v", in, err)
		}
		if got != want {
			t.Errorf("ParseAmount(%q) = %d, want %d", in, got, want)
		}
	}

	bad := []string{"", "-1", "1.5", " 10", "10 ", "1e3", "abc", "0x10"}
	for _, in := range bad {
		if _, err := ParseAmount(in); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("ParseAmount(%q): want ErrInvalidAmount, got %v", in, err)
		}
	}
}

func TestRecordRejectsNegativeAmount(t *testing.T) {
	svc, user := newTestService(t, &mockSender{})
	if _, err := svc.Record(context.Background(), user.ID, TypeEarn, -1, ""); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("want ErrInvalidAmount, got %v", err)
	}
}

func TestRecordRejectsUnknownType(t *testing.T) {
	svc, user := newTestService(t, &mockSender{})
	if _, err := svc.Record(context.Background(), user.ID, EntryType("BONUS"), 10, ""); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("want ErrUnknownType, got %v", err)
	}
}

// Balance must equal the signed fold of all entries regardless of the
// order they were appended in.
func TestBalanceFoldOrderIndependent(t *testing.T) {
	type move struct {
		typ    EntryType
		amount int64
	}
	moves := []move{
		{TypeAdminCredit, 10000},
		{TypeEarn, 500},
		{TypeUse, 3000},
		{TypeEarn, 150},
		{TypeRefund, 3000},
		{TypeUse, 7000},
	}
	const want = int64(10000 + 500 - 3000 + 150 + 3000 - 7000)

	rng := rand.New(rand.NewSource(1))
	for perm := 0; perm < 10; perm++ {
		svc, user := newTestService(t, &mockSender{})
		shuffled := append([]move(nil), moves...)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		for _, m := range shuffled {
			if _, err := svc.Record(context.Background(), user.ID, m.typ, m.amount, ""); err != nil {
				t.Fatalf("record %s %d: %v", m.typ, m.amount, err)
			}
		}

		got, err := svc.Balance(context.Background(), user.ID)
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		if got != want {
			t.Fatalf("permutation %d: balance = %d, want %d", perm, got, want)
		}
	}
}

func TestBalanceEmptyLedger(t *testing.T) {
	svc, user := newTestService(t, &mockSender{})
	got, err := svc.Balance(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if got != 0 {
		t.Fatalf("balance = %d, want 0", got)
	}
}

func TestAdminCredit(t *testing.T) {
	sender := &mockSender{}
	svc, user := newTestService(t, sender)

	entry, err := svc.AdminCredit(context.Background(), user.Email, 2500, "welcome bonus")
	if err != nil {
		t.Fatalf("admin credit: %v", err)
	}
	if entry.Type != TypeAdminCredit {
		t.Errorf("entry type = %s, want %s", entry.Type, TypeAdminCredit)
	}
	if entry.Amount != 2500 {
		t.Errorf("entry amount = %d, want 2500", entry.Amount)
	}
	if entry.TxHash == "" {
		t.Error("entry should carry the transfer tx hash")
	}
	if sender.calls != 1 {
		t.Fatalf("sender calls = %d, want 1", sender.calls)
	}
	if sender.amount != 2500 {
		t.Errorf("transferred amount = %d, want 2500", sender.amount)
	}

	balance, err := svc.Balance(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 2500 {
		t.Errorf("balance = %d, want 2500", balance)
	}
}

func TestAdminCreditTransferFailureLeavesLedgerUntouched(t *testing.T) {
	sender := &mockSender{err: errors.New("boom")}
	svc, user := newTestService(t, sender)

	if _, err := svc.AdminCredit(context.Background(), user.Email, 100, ""); err == nil {
		t.Fatal("want error when transfer fails")
	}

	balance, err := svc.Balance(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("balance = %d, want 0 after failed transfer", balance)
	}
}

func TestHistoryCursorPaging(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	accountID := "acct-1"

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		e := &Entry{
			ID:        uuid.NewString(),
			AccountID: accountID,
			Type:      TypeEarn,
			Amount:    int64(i + 1),
			TokenCode: "FPT",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.Append(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	// First page: fetch limit+1, trim down via the cursor helper.
	limit := 2
	entries, err := store.History(ctx, accountID, time.Time{}, limit+1)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	page, next, hasMore := pagination.ComputePage(entries, limit, func(e *Entry) (time.Time, string) {
		return e.CreatedAt, e.ID
	})
	if len(page) != 2 || !hasMore || next == "" {
		t.Fatalf("first page: len=%d hasMore=%v next=%q", len(page), hasMore, next)
	}
	if page[0].Amount != 5 || page[1].Amount != 4 {
		t.Fatalf("first page amounts = %d, %d; want 5, 4", page[0].Amount, page[1].Amount)
	}

	// Second page resumes strictly before the cursor timestamp.
	cursor, err := pagination.Decode(next)
	if err != nil {
		t.Fatalf("decode cursor: %v", err)
	}
	entries, err = store.History(ctx, accountID, cursor.CreatedAt, limit+1)
	if err != nil {
		t.Fatalf("history page 2: %v", err)
	}
	page, _, hasMore = pagination.ComputePage(entries, limit, func(e *Entry) (time.Time, string) {
		return e.CreatedAt, e.ID
	})
	if len(page) != 2 || !hasMore {
		t.Fatalf("second page: len=%d hasMore=%v", len(page), hasMore)
	}
	if page[0].Amount != 3 || page[1].Amount != 2 {
		t.Fatalf("second page amounts = %d, %d; want 3, 2", page[0].Amount, page[1].Amount)
	}
}

func TestAdminCreditRejectsZero(t *testing.T) {
	svc, user := newTestService(t, &mockSender{})
	if _, err := svc.AdminCredit(context.Background(), user.Email, 0, ""); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("want ErrInvalidAmount, got %v", err)
	}
}
