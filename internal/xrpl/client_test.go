package xrpl

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeRippled serves canned rippled responses over a real websocket.
type fakeRippled struct {
	t      *testing.T
	handle func(cmd map[string]any) map[string]any
}

func (f *fakeRippled) server() *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			f.t.Errorf("upgrade failed: %v", err)
			return
		}
		defer func() { _ = conn.Close() }()

		for {
			var cmd map[string]any
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			resp := f.handle(cmd)
			resp["id"] = cmd["id"]
			if _, ok := resp["status"]; !ok {
				resp["status"] = "success"
			}
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func submitOK(hash string, sequence uint32) map[string]any {
	return map[string]any{
		"result": map[string]any{
			"engine_result": "tesSUCCESS",
			"tx_json":       map[string]any{"hash": hash, "Sequence": sequence},
		},
	}
}

func TestRippleTime_RoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	if got := FromRippleTime(ToRippleTime(now)); !got.Equal(now) {
		t.Errorf("round trip mismatch: %v != %v", got, now)
	}
	// 2000-01-01 is the ledger epoch.
	epoch := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	if ToRippleTime(epoch) != 0 {
		t.Errorf("expected ledger epoch to map to 0, got %d", ToRippleTime(epoch))
	}
}

func TestSubmitPayment_Success(t *testing.T) {
	fake := &fakeRippled{t: t, handle: func(cmd map[string]any) map[string]any {
		if cmd["command"] != "submit" {
			t.Errorf("unexpected command %v", cmd["command"])
		}
		tx := cmd["tx_json"].(map[string]any)
		if tx["TransactionType"] != "Payment" || tx["Amount"] != "1500" {
			t.Errorf("unexpected tx_json: %v", tx)
		}
		return submitOK("ABC123", 7)
	}}
	srv := fake.server()
	defer srv.Close()

	c := NewClient(wsURL(srv), 5*time.Second)
	res, err := c.SubmitPayment(context.Background(), Wallet{Address: "rBuyer", Seed: "sSeed"}, "rCompany", 1500)
	if err != nil {
		t.Fatalf("SubmitPayment failed: %v", err)
	}
	if res.TxHash != "ABC123" || res.EngineResult != ResultSuccess {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestSubmitPayment_EngineFailure(t *testing.T) {
	fake := &fakeRippled{t: t, handle: func(cmd map[string]any) map[string]any {
		return map[string]any{
			"result": map[string]any{
				"engine_result": "tecUNFUNDED_PAYMENT",
				"tx_json":       map[string]any{"hash": "DEAD"},
			},
		}
	}}
	srv := fake.server()
	defer srv.Close()

	c := NewClient(wsURL(srv), 5*time.Second)
	_, err := c.SubmitPayment(context.Background(), Wallet{Address: "rBuyer"}, "rCompany", 10)
	if err == nil {
		t.Fatal("expected submit error")
	}
	var subErr *SubmitError
	if !errors.As(err, &subErr) {
		t.Fatalf("expected *SubmitError, got %T", err)
	}
	if subErr.EngineResult != "tecUNFUNDED_PAYMENT" {
		t.Errorf("unexpected engine result %q", subErr.EngineResult)
	}
}

func TestFinish_NotFoundMapsToErrNotFound(t *testing.T) {
	fake := &fakeRippled{t: t, handle: func(cmd map[string]any) map[string]any {
		return map[string]any{
			"result": map[string]any{
				"engine_result": "tecNO_TARGET",
				"tx_json":       map[string]any{},
			},
		}
	}}
	srv := fake.server()
	defer srv.Close()

	c := NewClient(wsURL(srv), 5*time.Second)
	_, err := c.FinishConditionalTransfer(context.Background(), Wallet{Address: "rAdmin"}, "rOwner", 42, "issuance-1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateConditionalTransfer_ReturnsSequence(t *testing.T) {
	fake := &fakeRippled{t: t, handle: func(cmd map[string]any) map[string]any {
		tx := cmd["tx_json"].(map[string]any)
		if tx["TransactionType"] != "EscrowCreate" {
			t.Errorf("expected EscrowCreate, got %v", tx["TransactionType"])
		}
		if tx["FinishAfter"] == nil || tx["CancelAfter"] == nil {
			t.Error("expected both time gates on EscrowCreate")
		}
		return submitOK("E5C40", 99)
	}}
	srv := fake.server()
	defer srv.Close()

	finish := time.Now().Add(7 * 24 * time.Hour)
	cancel := finish.Add(7 * 24 * time.Hour)

	c := NewClient(wsURL(srv), 5*time.Second)
	res, err := c.CreateConditionalTransfer(context.Background(), Wallet{Address: "rAdmin"}, "rUser", "issuance-1", 100, finish, cancel)
	if err != nil {
		t.Fatalf("CreateConditionalTransfer failed: %v", err)
	}
	if res.Sequence != 99 || res.TxHash != "E5C40" {
		t.Errorf("unexpected result: %+v", res)
	}
	if !res.CancelAfter.After(res.FinishAfter) {
		t.Error("CancelAfter must be after FinishAfter")
	}
}

func TestQueryEscrowStatus(t *testing.T) {
	finish := ToRippleTime(time.Now().Add(-time.Hour))
	cancel := ToRippleTime(time.Now().Add(6 * 24 * time.Hour))

	fake := &fakeRippled{t: t, handle: func(cmd map[string]any) map[string]any {
		if cmd["command"] != "account_objects" {
			t.Errorf("unexpected command %v", cmd["command"])
		}
		return map[string]any{
			"result": map[string]any{
				"account_objects": []map[string]any{
					{
						"LedgerEntryType": "Escrow",
						"Destination":     "rUser",
						"FinishAfter":     finish,
						"CancelAfter":     cancel,
						"Sequence":        12,
						"Amount":          map[string]any{"mpt_issuance_id": "issuance-1", "value": "250"},
					},
				},
			},
		}
	}}
	srv := fake.server()
	defer srv.Close()

	c := NewClient(wsURL(srv), 5*time.Second)

	st, err := c.QueryEscrowStatus(context.Background(), "rOwner", 12)
	if err != nil {
		t.Fatalf("QueryEscrowStatus failed: %v", err)
	}
	if !st.Exists || !st.CanFinish || st.CanCancel {
		t.Errorf("unexpected status: %+v", st)
	}
	if st.Amount != "250" || st.Destination != "rUser" {
		t.Errorf("unexpected object fields: %+v", st)
	}

	// A sequence with no matching object reports exists=false, not an error.
	st, err = c.QueryEscrowStatus(context.Background(), "rOwner", 999)
	if err != nil {
		t.Fatalf("QueryEscrowStatus failed: %v", err)
	}
	if st.Exists {
		t.Error("expected exists=false for unknown sequence")
	}
}

func TestQueryTokenBalance(t *testing.T) {
	fake := &fakeRippled{t: t, handle: func(cmd map[string]any) map[string]any {
		return map[string]any{
			"result": map[string]any{
				"account_objects": []map[string]any{
					{"LedgerEntryType": "MPToken", "MPTokenIssuanceID": "issuance-1", "MPTAmount": "4200"},
					{"LedgerEntryType": "MPToken", "MPTokenIssuanceID": "other", "MPTAmount": "1"},
				},
			},
		}
	}}
	srv := fake.server()
	defer srv.Close()

	c := NewClient(wsURL(srv), 5*time.Second)
	bal, err := c.QueryTokenBalance(context.Background(), "rUser", "issuance-1")
	if err != nil {
		t.Fatalf("QueryTokenBalance failed: %v", err)
	}
	if bal != 4200 {
		t.Errorf("expected 4200, got %d", bal)
	}

	bal, err = c.QueryTokenBalance(context.Background(), "rUser", "missing")
	if err != nil {
		t.Fatalf("QueryTokenBalance failed: %v", err)
	}
	if bal != 0 {
		t.Errorf("expected 0 for unknown issuance, got %d", bal)
	}
}

func TestRequest_ServerError(t *testing.T) {
	fake := &fakeRippled{t: t, handle: func(cmd map[string]any) map[string]any {
		return map[string]any{"status": "error", "error": "actNotFound", "result": map[string]any{}}
	}}
	srv := fake.server()
	defer srv.Close()

	c := NewClient(wsURL(srv), 5*time.Second)
	_, err := c.QueryTokenBalance(context.Background(), "rNobody", "issuance-1")
	if err == nil || !strings.Contains(err.Error(), "actNotFound") {
		t.Fatalf("expected actNotFound error, got %v", err)
	}
}
