// Package resolver extracts the paid amount from a ledger transaction.
//
// The amount is inferred from balance deltas rather than from a structured
// payment instruction. A transaction that moves funds to several accounts can
// therefore be misattributed; callers verify the result against what the
// payment request expected before trusting it.
package resolver

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/raid-guild/payment-watcher-go/types"
)

var (
	// ErrNoTransfer means the transaction carries no transfer for the reference.
	// It is an expected outcome for unrelated signatures, not a failure.
	ErrNoTransfer = errors.New("no transfer found")

	// ErrTransactionFailed means the ledger recorded an error for the transaction.
	ErrTransactionFailed = errors.New("transaction failed")
)

// Resolution is a transfer amount extracted from a transaction.
type Resolution struct {
	// Amount is in display units of the currency.
	Amount decimal.Decimal
	// BaseUnits is the same amount in the currency's smallest unit.
	BaseUnits decimal.Decimal
	Decimals  int32
	// Account is the account credited, when the ledger reports it.
	Account string
	// Currency is the currency code the amount is denominated in.
	Currency string
}

// Resolver extracts a transfer amount from a transaction.
type Resolver interface {
	Resolve(tx *types.Transaction) (Resolution, error)
}

// ForReference returns the resolver variant matching the reference's currency.
func ForReference(w types.WatchedReference) (Resolver, error) {
	switch w.Currency.Kind {
	case types.AssetKindNative:
		return NativeTransfer{Recipient: w.Recipient, Currency: w.Currency}, nil
	case types.AssetKindToken:
		if w.Currency.Mint == "" {
			return nil, fmt.Errorf("token currency %s has no mint", w.Currency.Code)
		}
		return TokenTransfer{Recipient: w.Recipient, Currency: w.Currency}, nil
	default:
		return nil, fmt.Errorf("unsupported asset kind %q", w.Currency.Kind)
	}
}

func newResolution(base decimal.Decimal, decimals int32, account, currency string) Resolution {
	return Resolution{
		Amount:    base.Shift(-decimals),
		BaseUnits: base,
		Decimals:  decimals,
		Account:   account,
		Currency:  currency,
	}
}
