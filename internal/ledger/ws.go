package ledger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/gptmeet/walletcore/internal/xrpl"
)

const (
	defaultRequestTimeout = 15 * time.Second
	maxFeeDrops           = 2 * xrpl.DropsPerXRP
	maxLinePages          = 10
)

// WSConfig configures the websocket ledger client.
type WSConfig struct {
	URL               string
	Asset             Asset
	RequestsPerSecond float64
	RequestTimeout    time.Duration
	FinalityTimeout   time.Duration
	PollInterval      time.Duration
}

// WSClient speaks the rippled JSON websocket API. Each operation dials its
// own connection, so the client is safe for concurrent use.
type WSClient struct {
	cfg     WSConfig
	dialer  websocket.Dialer
	limiter *rate.Limiter
	logger  *slog.Logger
	nextID  atomic.Uint64
}

// NewWSClient constructs a client against cfg.URL.
func NewWSClient(cfg WSConfig, logger *slog.Logger) *WSClient {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.FinalityTimeout <= 0 {
		cfg.FinalityTimeout = 90 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &WSClient{
		cfg:     cfg,
		dialer:  websocket.Dialer{HandshakeTimeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(limit, 4),
		logger:  logger,
	}
}

type rpcResponse struct {
	ID           uint64          `json:"id"`
	Status       string          `json:"status"`
	Type         string          `json:"type"`
	Result       json.RawMessage `json:"result"`
	Error        string          `json:"error"`
	ErrorMessage string          `json:"error_message"`
}

// RPCError is an error status returned by the server.
type RPCError struct {
	Code    string
	Message string
}

func (e *RPCError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("rpc %s: %s", e.Code, e.Message)
	}
	return "rpc " + e.Code
}

func isRPCError(err error, code string) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == code
}

func (c *WSClient) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: dial %s: %v", ErrTimeout, c.cfg.URL, err)
		}
		return nil, fmt.Errorf("%w: dial %s: %v", ErrUnreachable, c.cfg.URL, err)
	}
	return conn, nil
}

// call sends one command and waits for the response carrying the same id.
func (c *WSClient) call(ctx context.Context, conn *websocket.Conn, command string, params map[string]any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %v", ErrTimeout, err)
	}

	id := c.nextID.Add(1)
	req := map[string]any{"id": id, "command": command}
	for k, v := range params {
		req[k] = v
	}

	deadline := time.Now().Add(c.cfg.RequestTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.SetReadDeadline(deadline)

	if err := conn.WriteJSON(req); err != nil {
		return c.transportErr(ctx, command, err)
	}
	for {
		var resp rpcResponse
		if err := conn.ReadJSON(&resp); err != nil {
			return c.transportErr(ctx, command, err)
		}
		if resp.ID != id {
			continue
		}
		if resp.Status == "error" || resp.Error != "" {
			return &RPCError{Code: resp.Error, Message: resp.ErrorMessage}
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", command, err)
		}
		return nil
	}
}

func (c *WSClient) transportErr(ctx context.Context, command string, err error) error {
	var netErr net.Error
	if ctx.Err() != nil || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, command, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrUnreachable, command, err)
}

type accountInfoResult struct {
	AccountData struct {
		Balance  string `json:"Balance"`
		Sequence uint32 `json:"Sequence"`
	} `json:"account_data"`
	LedgerCurrentIndex uint32 `json:"ledger_current_index"`
}

type accountLinesResult struct {
	Lines []struct {
		Account  string `json:"account"`
		Balance  string `json:"balance"`
		Currency string `json:"currency"`
		Limit    string `json:"limit"`
	} `json:"lines"`
	Marker json.RawMessage `json:"marker"`
}

func (c *WSClient) accountInfo(ctx context.Context, conn *websocket.Conn, address string) (accountInfoResult, error) {
	var res accountInfoResult
	err := c.call(ctx, conn, "account_info", map[string]any{
		"account":      address,
		"ledger_index": "current",
	}, &res)
	return res, err
}

func (c *WSClient) accountLines(ctx context.Context, conn *websocket.Conn, address, peer string) ([]TrustLine, error) {
	var lines []TrustLine
	var marker json.RawMessage
	for page := 0; page < maxLinePages; page++ {
		params := map[string]any{"account": address, "ledger_index": "validated"}
		if peer != "" {
			params["peer"] = peer
		}
		if len(marker) > 0 {
			params["marker"] = marker
		}
		var res accountLinesResult
		if err := c.call(ctx, conn, "account_lines", params, &res); err != nil {
			return nil, err
		}
		for _, raw := range res.Lines {
			balance, err := decimal.NewFromString(raw.Balance)
			if err != nil {
				return nil, fmt.Errorf("parse line balance %q: %w", raw.Balance, err)
			}
			limit, err := decimal.NewFromString(raw.Limit)
			if err != nil {
				return nil, fmt.Errorf("parse line limit %q: %w", raw.Limit, err)
			}
			lines = append(lines, TrustLine{Peer: raw.Account, Currency: raw.Currency, Balance: balance, Limit: limit})
		}
		if len(res.Marker) == 0 || string(res.Marker) == "null" {
			return lines, nil
		}
		marker = res.Marker
	}
	return lines, nil
}

func (c *WSClient) GetBalances(ctx context.Context, address string) (Balances, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return Balances{}, err
	}
	defer conn.Close()

	info, err := c.accountInfo(ctx, conn, address)
	if err != nil {
		if isRPCError(err, "actNotFound") {
			return Balances{Primary: decimal.Zero, Issued: decimal.Zero}, nil
		}
		return Balances{}, err
	}
	drops, err := decimal.NewFromString(info.AccountData.Balance)
	if err != nil {
		return Balances{}, fmt.Errorf("parse balance %q: %w", info.AccountData.Balance, err)
	}

	lines, err := c.accountLines(ctx, conn, address, c.cfg.Asset.Issuer)
	if err != nil {
		return Balances{}, err
	}
	issued := decimal.Zero
	for _, line := range lines {
		if line.Peer == c.cfg.Asset.Issuer && xrpl.SameCurrency(line.Currency, c.cfg.Asset.Currency) {
			issued = issued.Add(line.Balance)
		}
	}
	return Balances{
		Primary: drops.Div(decimal.NewFromInt(xrpl.DropsPerXRP)),
		Issued:  issued,
		Exists:  true,
	}, nil
}

func (c *WSClient) GetTrustLines(ctx context.Context, address, issuer string) ([]TrustLine, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	lines, err := c.accountLines(ctx, conn, address, issuer)
	if isRPCError(err, "actNotFound") {
		return nil, nil
	}
	return lines, err
}

type feeResult struct {
	Drops struct {
		OpenLedgerFee string `json:"open_ledger_fee"`
		BaseFee       string `json:"base_fee"`
	} `json:"drops"`
	LedgerCurrentIndex uint32 `json:"ledger_current_index"`
}

func (c *WSClient) SequencingInfo(ctx context.Context, address string) (SequencingInfo, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return SequencingInfo{}, err
	}
	defer conn.Close()

	info, err := c.accountInfo(ctx, conn, address)
	if err != nil {
		if isRPCError(err, "actNotFound") {
			return SequencingInfo{}, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
		}
		return SequencingInfo{}, err
	}
	var fee feeResult
	if err := c.call(ctx, conn, "fee", nil, &fee); err != nil {
		return SequencingInfo{}, err
	}

	current := info.LedgerCurrentIndex
	if fee.LedgerCurrentIndex > current {
		current = fee.LedgerCurrentIndex
	}
	return SequencingInfo{
		Sequence:           info.AccountData.Sequence,
		Fee:                clampFee(fee.Drops.OpenLedgerFee, fee.Drops.BaseFee),
		LastLedgerSequence: current + LastLedgerOffset,
	}, nil
}

func clampFee(candidates ...string) uint64 {
	for _, s := range candidates {
		v, err := decimal.NewFromString(s)
		if err != nil || !v.IsPositive() {
			continue
		}
		drops := v.IntPart()
		switch {
		case drops < MinimumFee:
			return MinimumFee
		case drops > maxFeeDrops:
			return maxFeeDrops
		default:
			return uint64(drops)
		}
	}
	return MinimumFee
}

type submitResult struct {
	EngineResult        string `json:"engine_result"`
	EngineResultMessage string `json:"engine_result_message"`
	TxJSON              struct {
		Hash string `json:"hash"`
	} `json:"tx_json"`
}

type txResult struct {
	Validated   bool   `json:"validated"`
	LedgerIndex uint32 `json:"ledger_index"`
	Meta        struct {
		TransactionResult string `json:"TransactionResult"`
	} `json:"meta"`
}

type ledgerResult struct {
	LedgerIndex uint32 `json:"ledger_index"`
}

// Submit sends the blob and waits until the transaction is validated, its
// LastLedgerSequence has passed, or the finality timeout elapses. Only the
// latter returns ErrTimeout; the transaction may still land.
func (c *WSClient) Submit(ctx context.Context, signed SignedTransaction) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.FinalityTimeout)
	defer cancel()

	conn, err := c.dial(ctx)
	if err != nil {
		return Outcome{}, err
	}
	defer conn.Close()

	var res submitResult
	if err := c.call(ctx, conn, "submit", map[string]any{
		"tx_blob": strings.ToUpper(hex.EncodeToString(signed.Blob)),
	}, &res); err != nil {
		// the blob may have been relayed before the call failed
		return Outcome{Hash: signed.Hash}, err
	}
	hash := signed.Hash
	if res.TxJSON.Hash != "" {
		hash = res.TxJSON.Hash
	}
	c.logger.Info("transaction submitted",
		slog.String("hash", hash),
		slog.String("engine_result", res.EngineResult),
	)

	switch code := res.EngineResult; {
	case strings.HasPrefix(code, "tem"), strings.HasPrefix(code, "tef"), strings.HasPrefix(code, "tel"):
		out := Rejected(code)
		out.Hash = hash
		return out, nil
	}

	return c.waitForValidation(ctx, conn, hash, signed.Tx.Base().LastLedgerSequence)
}

func (c *WSClient) waitForValidation(ctx context.Context, conn *websocket.Conn, hash string, lastLedger uint32) (Outcome, error) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Outcome{Hash: hash}, fmt.Errorf("%w: transaction %s not validated in time", ErrTimeout, hash)
		case <-ticker.C:
			var tx txResult
			err := c.call(ctx, conn, "tx", map[string]any{"transaction": hash}, &tx)
			switch {
			case err == nil && tx.Validated:
				if code := tx.Meta.TransactionResult; code != "tesSUCCESS" {
					out := Rejected(code)
					out.Hash = hash
					return out, nil
				}
				return Success(hash), nil
			case err != nil && !isRPCError(err, "txnNotFound"):
				if ctx.Err() != nil {
					return Outcome{Hash: hash}, fmt.Errorf("%w: transaction %s not validated in time", ErrTimeout, hash)
				}
				return Outcome{Hash: hash}, err
			}

			if lastLedger == 0 {
				continue
			}
			var validated ledgerResult
			if err := c.call(ctx, conn, "ledger", map[string]any{"ledger_index": "validated"}, &validated); err != nil {
				continue
			}
			if validated.LedgerIndex > lastLedger {
				out := Failed(ReasonUnknown, "tefMAX_LEDGER", "Transaction expired before it was included in a validated ledger")
				out.Hash = hash
				return out, nil
			}
		}
	}
}
