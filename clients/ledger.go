package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"

	"github.com/raid-guild/payment-watcher-go/types"
)

// DialRPC dials the ledger JSON-RPC endpoint. This function can be overridden in tests.
var DialRPC = func(ctx context.Context, rpcURL string) (*rpc.Client, error) {
	return rpc.DialContext(ctx, rpcURL)
}

// LedgerConfig are the configuration parameters for the ledger client.
type LedgerConfig struct {
	RPCURL string
	// Commitment is the confirmation level queried, e.g. "confirmed" or "finalized".
	Commitment string
	// RateLimit is the maximum number of calls per second. Zero disables limiting.
	RateLimit float64
	Burst     int
}

// RPCLedger reads signatures and transactions from a ledger node over JSON-RPC.
type RPCLedger struct {
	client     *rpc.Client
	commitment string
	limiter    *rate.Limiter
}

// NewRPCLedger dials the ledger node described by c.
func NewRPCLedger(ctx context.Context, c LedgerConfig) (*RPCLedger, error) {

	// Verify the RPC URL is set
	if c.RPCURL == "" {
		return nil, errors.New("rpc url is not set")
	}

	// Dial the JSON-RPC client
	client, err := DialRPC(ctx, c.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial ledger RPC client: %w", err)
	}

	return NewRPCLedgerWithClient(client, c), nil
}

// NewRPCLedgerWithClient wraps an already dialed client.
func NewRPCLedgerWithClient(client *rpc.Client, c LedgerConfig) *RPCLedger {
	commitment := c.Commitment
	if commitment == "" {
		commitment = "confirmed"
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if c.RateLimit > 0 {
		burst := c.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(c.RateLimit), burst)
	}

	return &RPCLedger{
		client:     client,
		commitment: commitment,
		limiter:    limiter,
	}
}

// Close closes the underlying RPC client.
func (l *RPCLedger) Close() {
	l.client.Close()
}

func (l *RPCLedger) call(ctx context.Context, result any, method string, args ...any) error {

	// Wait for a rate limit token
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", method, err)
	}

	if err := l.client.CallContext(ctx, result, method, args...); err != nil {
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) {
			return fmt.Errorf("%s failed with code %d: %w", method, rpcErr.ErrorCode(), err)
		}
		return fmt.Errorf("%s failed: %w", method, err)
	}
	return nil
}

type signatureResult struct {
	Signature string          `json:"signature"`
	Slot      uint64          `json:"slot"`
	Err       json.RawMessage `json:"err"`
	BlockTime *int64          `json:"blockTime"`
}

// ListSignatures returns up to limit signatures involving address, most recent first.
func (l *RPCLedger) ListSignatures(ctx context.Context, address string, limit int) ([]types.SignatureInfo, error) {
	var results []signatureResult
	opts := map[string]any{
		"limit":      limit,
		"commitment": l.commitment,
	}
	if err := l.call(ctx, &results, "getSignaturesForAddress", address, opts); err != nil {
		return nil, err
	}

	infos := make([]types.SignatureInfo, 0, len(results))
	for _, r := range results {
		infos = append(infos, types.SignatureInfo{
			Signature: r.Signature,
			Slot:      r.Slot,
			Failed:    !isNullJSON(r.Err),
			BlockTime: unixTime(r.BlockTime),
		})
	}
	return infos, nil
}

type uiTokenAmount struct {
	Amount   string `json:"amount"`
	Decimals int32  `json:"decimals"`
}

type tokenBalanceResult struct {
	AccountIndex  int           `json:"accountIndex"`
	Mint          string        `json:"mint"`
	Owner         string        `json:"owner"`
	UITokenAmount uiTokenAmount `json:"uiTokenAmount"`
}

type transactionResult struct {
	Slot      uint64 `json:"slot"`
	BlockTime *int64 `json:"blockTime"`
	Meta      *struct {
		Err               json.RawMessage      `json:"err"`
		PreBalances       []uint64             `json:"preBalances"`
		PostBalances      []uint64             `json:"postBalances"`
		PreTokenBalances  []tokenBalanceResult `json:"preTokenBalances"`
		PostTokenBalances []tokenBalanceResult `json:"postTokenBalances"`
		LoadedAddresses   *struct {
			Writable []string `json:"writable"`
			Readonly []string `json:"readonly"`
		} `json:"loadedAddresses"`
	} `json:"meta"`
	Transaction struct {
		Message struct {
			AccountKeys []string `json:"accountKeys"`
		} `json:"message"`
	} `json:"transaction"`
}

// GetTransaction returns the transaction for a signature, or nil if the node
// does not have it at the configured commitment yet.
func (l *RPCLedger) GetTransaction(ctx context.Context, signature string) (*types.Transaction, error) {
	var result *transactionResult
	opts := map[string]any{
		"encoding":                       "json",
		"commitment":                     l.commitment,
		"maxSupportedTransactionVersion": 0,
	}
	if err := l.call(ctx, &result, "getTransaction", signature, opts); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}

	tx := &types.Transaction{
		Signature:   signature,
		Slot:        result.Slot,
		BlockTime:   unixTime(result.BlockTime),
		AccountKeys: result.Transaction.Message.AccountKeys,
	}

	// Transactions without meta cannot be resolved
	if result.Meta == nil {
		return tx, nil
	}

	if !isNullJSON(result.Meta.Err) {
		tx.Err = string(result.Meta.Err)
	}
	tx.PreBalances = result.Meta.PreBalances
	tx.PostBalances = result.Meta.PostBalances
	tx.PreTokenBalances = tokenBalances(result.Meta.PreTokenBalances)
	tx.PostTokenBalances = tokenBalances(result.Meta.PostTokenBalances)

	// Versioned transactions list lookup table accounts after the static keys
	if loaded := result.Meta.LoadedAddresses; loaded != nil {
		tx.AccountKeys = append(tx.AccountKeys, loaded.Writable...)
		tx.AccountKeys = append(tx.AccountKeys, loaded.Readonly...)
	}
	return tx, nil
}

// Health returns an error if the node reports itself unhealthy.
func (l *RPCLedger) Health(ctx context.Context) error {
	var status string
	if err := l.call(ctx, &status, "getHealth"); err != nil {
		return err
	}
	if status != "ok" {
		return fmt.Errorf("ledger node unhealthy: %s", status)
	}
	return nil
}

func tokenBalances(in []tokenBalanceResult) []types.TokenBalance {
	out := make([]types.TokenBalance, 0, len(in))
	for _, b := range in {
		out = append(out, types.TokenBalance{
			AccountIndex: b.AccountIndex,
			Mint:         b.Mint,
			Owner:        b.Owner,
			Amount:       b.UITokenAmount.Amount,
			Decimals:     b.UITokenAmount.Decimals,
		})
	}
	return out
}

func isNullJSON(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func unixTime(seconds *int64) *time.Time {
	if seconds == nil {
		return nil
	}
	t := time.Unix(*seconds, 0).UTC()
	return &t
}
