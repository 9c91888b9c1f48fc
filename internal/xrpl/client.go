package xrpl

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fashionpoint/platform/internal/retry"
)

// Dial retry bounds. Only the dial is retried; submits are not
// idempotent and must fail through to the caller on the first error.
const (
	dialAttempts = 3
	dialBackoff  = 200 * time.Millisecond
)

// Client implements Gateway against a rippled websocket endpoint.
// Each operation dials its own short-lived session so a half-dead
// connection can never leak into the next settlement step.
type Client struct {
	url     string
	timeout time.Duration
	dialer  *websocket.Dialer
	nextID  atomic.Int64
}

// NewClient creates a ledger gateway client for the given websocket URL.
func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		url:     url,
		timeout: timeout,
		dialer:  websocket.DefaultDialer,
	}
}

// Close implements Gateway. Sessions are per-operation, so there is no
// long-lived connection to tear down.
func (c *Client) Close() error { return nil }

// session is a single connect/disconnect bracket around one or more requests.
type session struct {
	conn    *websocket.Conn
	client  *Client
	timeout time.Duration
}

func (c *Client) connect(ctx context.Context) (*session, error) {
	var conn *websocket.Conn
	err := retry.Do(ctx, dialAttempts, dialBackoff, func() error {
		dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		var dialErr error
		conn, _, dialErr = c.dialer.DialContext(dialCtx, c.url, nil)
		return dialErr
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	return &session{conn: conn, client: c, timeout: c.timeout}, nil
}

func (s *session) close() {
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = s.conn.Close()
}

type rpcResponse struct {
	ID     int64           `json:"id"`
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result"`
}

// request sends one command and waits for the matching response.
func (s *session) request(ctx context.Context, cmd map[string]any) (json.RawMessage, error) {
	id := s.client.nextID.Add(1)
	cmd["id"] = id

	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetWriteDeadline(deadline)
	_ = s.conn.SetReadDeadline(deadline)

	if err := s.conn.WriteJSON(cmd); err != nil {
		return nil, fmt.Errorf("xrpl: write %v: %w", cmd["command"], err)
	}

	// Skip unsolicited stream messages until our response arrives.
	for {
		var resp rpcResponse
		if err := s.conn.ReadJSON(&resp); err != nil {
			return nil, fmt.Errorf("xrpl: read %v: %w", cmd["command"], err)
		}
		if resp.ID != id {
			continue
		}
		if resp.Status == "error" || resp.Error != "" {
			return nil, fmt.Errorf("xrpl: %v: %s", cmd["command"], resp.Error)
		}
		return resp.Result, nil
	}
}

type submitResult struct {
	EngineResult string `json:"engine_result"`
	TxJSON       struct {
		Hash     string `json:"hash"`
		Sequence uint32 `json:"Sequence"`
	} `json:"tx_json"`
}

// submit signs and submits a transaction through the session, verifying
// the engine result against the success sentinel.
func (s *session) submit(ctx context.Context, op string, txJSON map[string]any, seed string) (*submitResult, error) {
	raw, err := s.request(ctx, map[string]any{
		"command": "submit",
		"tx_json": txJSON,
		"secret":  seed,
	})
	if err != nil {
		return nil, &SubmitError{Op: op, Err: err}
	}

	var res submitResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, &SubmitError{Op: op, Err: fmt.Errorf("decode submit result: %w", err)}
	}

	if res.EngineResult != ResultSuccess {
		if res.EngineResult == "tecNO_TARGET" {
			return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return nil, &SubmitError{Op: op, TxHash: res.TxJSON.Hash, EngineResult: res.EngineResult}
	}
	if res.TxJSON.Hash == "" {
		return nil, &SubmitError{Op: op, EngineResult: res.EngineResult, Err: fmt.Errorf("no transaction hash returned")}
	}
	return &res, nil
}

// SubmitPayment implements Gateway.
func (c *Client) SubmitPayment(ctx context.Context, from Wallet, to string, drops int64) (*PaymentResult, error) {
	s, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer s.close()

	res, err := s.submit(ctx, "payment", map[string]any{
		"TransactionType": "Payment",
		"Account":         from.Address,
		"Destination":     to,
		"Amount":          strconv.FormatInt(drops, 10),
	}, from.Seed)
	if err != nil {
		return nil, err
	}
	return &PaymentResult{TxHash: res.TxJSON.Hash, EngineResult: res.EngineResult}, nil
}

// SubmitTokenTransfer implements Gateway.
func (c *Client) SubmitTokenTransfer(ctx context.Context, from Wallet, to string, issuanceID string, amount int64) (*PaymentResult, error) {
	s, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer s.close()

	res, err := s.submit(ctx, "token_transfer", map[string]any{
		"TransactionType": "Payment",
		"Account":         from.Address,
		"Destination":     to,
		"Amount": map[string]any{
			"mpt_issuance_id": issuanceID,
			"value":           strconv.FormatInt(amount, 10),
		},
	}, from.Seed)
	if err != nil {
		return nil, err
	}
	return &PaymentResult{TxHash: res.TxJSON.Hash, EngineResult: res.EngineResult}, nil
}

// SubmitBatchPayment implements Gateway. The inner payments carry the
// tfInnerBatchTxn flag and the outer Batch is AllOrNothing, so either
// every destination is paid or none is.
func (c *Client) SubmitBatchPayment(ctx context.Context, from Wallet, items []BatchItem) (*PaymentResult, error) {
	s, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer s.close()

	seq, err := s.accountSequence(ctx, from.Address)
	if err != nil {
		return nil, &SubmitError{Op: "batch_payment", Err: err}
	}

	raw := make([]map[string]any, 0, len(items))
	for i, item := range items {
		raw = append(raw, map[string]any{
			"RawTransaction": map[string]any{
				"TransactionType": "Payment",
				"Flags":           uint32(0x40000000), // tfInnerBatchTxn
				"Account":         from.Address,
				"Destination":     item.Destination,
				"Amount":          strconv.FormatInt(item.Amount, 10),
				"Sequence":        seq + uint32(i) + 1,
				"Fee":             "0",
				"SigningPubKey":   "",
			},
		})
	}

	res, err := s.submit(ctx, "batch_payment", map[string]any{
		"TransactionType": "Batch",
		"Account":         from.Address,
		"Flags":           uint32(0x00010000), // AllOrNothing
		"RawTransactions": raw,
		"Sequence":        seq,
	}, from.Seed)
	if err != nil {
		return nil, err
	}
	return &PaymentResult{TxHash: res.TxJSON.Hash, EngineResult: res.EngineResult}, nil
}

// CreateConditionalTransfer implements Gateway.
func (c *Client) CreateConditionalTransfer(ctx context.Context, from Wallet, to string, issuanceID string, amount int64, finishAfter, cancelAfter time.Time) (*EscrowCreateResult, error) {
	s, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer s.close()

	res, err := s.submit(ctx, "escrow_create", map[string]any{
		"TransactionType": "EscrowCreate",
		"Account":         from.Address,
		"Destination":     to,
		"Amount": map[string]any{
			"mpt_issuance_id": issuanceID,
			"value":           strconv.FormatInt(amount, 10),
		},
		"FinishAfter": ToRippleTime(finishAfter),
		"CancelAfter": ToRippleTime(cancelAfter),
	}, from.Seed)
	if err != nil {
		return nil, err
	}

	return &EscrowCreateResult{
		TxHash:      res.TxJSON.Hash,
		Sequence:    res.TxJSON.Sequence,
		FinishAfter: finishAfter.UTC().Truncate(time.Second),
		CancelAfter: cancelAfter.UTC().Truncate(time.Second),
	}, nil
}

// FinishConditionalTransfer implements Gateway.
func (c *Client) FinishConditionalTransfer(ctx context.Context, fulfiller Wallet, ownerAddr string, sequence uint32, issuanceID string) (*TxResult, error) {
	s, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer s.close()

	res, err := s.submit(ctx, "escrow_finish", map[string]any{
		"TransactionType":   "EscrowFinish",
		"Account":           fulfiller.Address,
		"Owner":             ownerAddr,
		"OfferSequence":     sequence,
		"MPTokenIssuanceID": issuanceID,
	}, fulfiller.Seed)
	if err != nil {
		return nil, err
	}
	return &TxResult{TxHash: res.TxJSON.Hash}, nil
}

// CancelConditionalTransfer implements Gateway.
func (c *Client) CancelConditionalTransfer(ctx context.Context, canceller Wallet, ownerAddr string, sequence uint32, issuanceID string) (*TxResult, error) {
	s, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer s.close()

	res, err := s.submit(ctx, "escrow_cancel", map[string]any{
		"TransactionType":   "EscrowCancel",
		"Account":           canceller.Address,
		"Owner":             ownerAddr,
		"OfferSequence":     sequence,
		"MPTokenIssuanceID": issuanceID,
	}, canceller.Seed)
	if err != nil {
		return nil, err
	}
	return &TxResult{TxHash: res.TxJSON.Hash}, nil
}

type accountObjects struct {
	AccountObjects []struct {
		LedgerEntryType   string `json:"LedgerEntryType"`
		Destination       string `json:"Destination"`
		FinishAfter       int64  `json:"FinishAfter"`
		CancelAfter       int64  `json:"CancelAfter"`
		PreviousTxnLgrSeq uint32 `json:"PreviousTxnLgrSeq"`
		Sequence          uint32 `json:"Sequence"`
		MPTAmount         struct {
			IssuanceID string `json:"mpt_issuance_id"`
			Value      string `json:"value"`
		} `json:"Amount"`
	} `json:"account_objects"`
}

// QueryEscrowStatus implements Gateway. Exists=false is a normal answer,
// not an error: finished and cancelled escrows simply vanish.
func (c *Client) QueryEscrowStatus(ctx context.Context, ownerAddr string, sequence uint32) (*EscrowStatus, error) {
	s, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer s.close()

	raw, err := s.request(ctx, map[string]any{
		"command": "account_objects",
		"account": ownerAddr,
		"type":    "escrow",
	})
	if err != nil {
		return nil, fmt.Errorf("query escrow status: %w", err)
	}

	var objs accountObjects
	if err := json.Unmarshal(raw, &objs); err != nil {
		return nil, fmt.Errorf("decode account objects: %w", err)
	}

	now := time.Now().UTC()
	for _, obj := range objs.AccountObjects {
		if obj.Sequence != sequence {
			continue
		}
		finishAfter := FromRippleTime(obj.FinishAfter)
		cancelAfter := FromRippleTime(obj.CancelAfter)
		return &EscrowStatus{
			Exists:      true,
			CanFinish:   !now.Before(finishAfter),
			CanCancel:   !now.Before(cancelAfter),
			FinishAfter: finishAfter,
			CancelAfter: cancelAfter,
			Destination: obj.Destination,
			Amount:      obj.MPTAmount.Value,
		}, nil
	}

	return &EscrowStatus{Exists: false}, nil
}

type mptokenObjects struct {
	AccountObjects []struct {
		LedgerEntryType   string `json:"LedgerEntryType"`
		MPTokenIssuanceID string `json:"MPTokenIssuanceID"`
		MPTAmount         string `json:"MPTAmount"`
	} `json:"account_objects"`
}

// QueryTokenBalance implements Gateway. An address with no token object
// for the issuance has balance zero.
func (c *Client) QueryTokenBalance(ctx context.Context, addr string, issuanceID string) (int64, error) {
	s, err := c.connect(ctx)
	if err != nil {
		return 0, err
	}
	defer s.close()

	raw, err := s.request(ctx, map[string]any{
		"command": "account_objects",
		"account": addr,
		"type":    "mptoken",
	})
	if err != nil {
		return 0, fmt.Errorf("query token balance: %w", err)
	}

	var objs mptokenObjects
	if err := json.Unmarshal(raw, &objs); err != nil {
		return 0, fmt.Errorf("decode token objects: %w", err)
	}

	for _, obj := range objs.AccountObjects {
		if obj.MPTokenIssuanceID != issuanceID {
			continue
		}
		v, err := strconv.ParseInt(obj.MPTAmount, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse token amount %q: %w", obj.MPTAmount, err)
		}
		return v, nil
	}
	return 0, nil
}

type accountInfo struct {
	AccountData struct {
		Sequence uint32 `json:"Sequence"`
	} `json:"account_data"`
}

func (s *session) accountSequence(ctx context.Context, addr string) (uint32, error) {
	raw, err := s.request(ctx, map[string]any{
		"command": "account_info",
		"account": addr,
	})
	if err != nil {
		return 0, err
	}
	var info accountInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return 0, fmt.Errorf("decode account info: %w", err)
	}
	return info.AccountData.Sequence, nil
}
