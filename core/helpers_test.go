package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/raid-guild/payment-watcher-go/fee"
	"github.com/raid-guild/payment-watcher-go/types"
)

const (
	usdcMint  = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	merchant  = "MerchantWallet1111111111111111111111111111"
	payer     = "PayerWallet11111111111111111111111111111111"
	reference = "Ref1111111111111111111111111111111111111111"
)

var usdc = types.Currency{Kind: types.AssetKindToken, Code: "USDC", Mint: usdcMint, Decimals: 6}

// fakeLedger is an in-memory LedgerClient. Hooks override the defaults.
type fakeLedger struct {
	mu           sync.Mutex
	signatures   map[string][]types.SignatureInfo
	transactions map[string]*types.Transaction
	calls        map[string]int

	listHook   func(ctx context.Context, address string) ([]types.SignatureInfo, error)
	getHook    func(ctx context.Context, signature string) (*types.Transaction, error)
	healthHook func(ctx context.Context) error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		signatures:   make(map[string][]types.SignatureInfo),
		transactions: make(map[string]*types.Transaction),
		calls:        make(map[string]int),
	}
}

// addTransfer registers a transaction newest first under the reference.
func (f *fakeLedger) addTransfer(ref string, tx *types.Transaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signatures[ref] = append([]types.SignatureInfo{{Signature: tx.Signature, Slot: tx.Slot, Failed: tx.Failed()}}, f.signatures[ref]...)
	f.transactions[tx.Signature] = tx
}

func (f *fakeLedger) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeLedger) ListSignatures(ctx context.Context, address string, limit int) ([]types.SignatureInfo, error) {
	f.mu.Lock()
	f.calls["getSignaturesForAddress"]++
	hook := f.listHook
	sigs := append([]types.SignatureInfo(nil), f.signatures[address]...)
	f.mu.Unlock()

	if hook != nil {
		return hook(ctx, address)
	}
	if len(sigs) > limit {
		sigs = sigs[:limit]
	}
	return sigs, nil
}

func (f *fakeLedger) GetTransaction(ctx context.Context, signature string) (*types.Transaction, error) {
	f.mu.Lock()
	f.calls["getTransaction"]++
	hook := f.getHook
	tx := f.transactions[signature]
	f.mu.Unlock()

	if hook != nil {
		return hook(ctx, signature)
	}
	return tx, nil
}

func (f *fakeLedger) Health(ctx context.Context) error {
	f.mu.Lock()
	f.calls["getHealth"]++
	hook := f.healthHook
	f.mu.Unlock()

	if hook != nil {
		return hook(ctx)
	}
	return nil
}

// failingNotifier fails the first n publishes.
type failingNotifier struct {
	mu        sync.Mutex
	remaining int
	events    []types.Event
}

func (n *failingNotifier) Publish(ctx context.Context, reference string, event types.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.remaining > 0 {
		n.remaining--
		return errors.New("broker unavailable")
	}
	n.events = append(n.events, event)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func usdcTransfer(signature string, amount string) *types.Transaction {
	blockTime := time.Now()
	return &types.Transaction{
		Signature:   signature,
		Slot:        100,
		BlockTime:   &blockTime,
		AccountKeys: []string{payer, "PayerTokenAccount", "MerchantTokenAccount", reference},
		PreTokenBalances: []types.TokenBalance{
			{AccountIndex: 1, Mint: usdcMint, Owner: payer, Amount: "100000000", Decimals: 6},
			{AccountIndex: 2, Mint: usdcMint, Owner: merchant, Amount: "0", Decimals: 6},
		},
		PostTokenBalances: []types.TokenBalance{
			{AccountIndex: 1, Mint: usdcMint, Owner: payer, Amount: decimal.RequireFromString("100000000").Sub(decimal.RequireFromString(amount)).String(), Decimals: 6},
			{AccountIndex: 2, Mint: usdcMint, Owner: merchant, Amount: amount, Decimals: 6},
		},
	}
}

func failedTransfer(signature string) *types.Transaction {
	tx := usdcTransfer(signature, "50000000")
	tx.Err = `{"InstructionError":[0,"Custom"]}`
	return tx
}

func pendingRequest(amount string) types.PaymentRequest {
	return types.PaymentRequest{
		Reference: reference,
		Recipient: merchant,
		Amount:    decimal.RequireFromString(amount),
		Currency:  usdc,
		Status:    types.RequestStatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

func calculator() *fee.Calculator {
	return fee.NewCalculator(&fee.Rate{
		RatePercent: decimal.RequireFromString("2.9"),
		Fixed:       decimal.RequireFromString("0.30"),
		Decimals:    2,
	}, nil)
}
