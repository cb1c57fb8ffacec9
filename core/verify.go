package core

import (
	"github.com/shopspring/decimal"

	"github.com/raid-guild/payment-watcher-go/resolver"
	"github.com/raid-guild/payment-watcher-go/types"
)

// VerifyConfig is the configuration for the verify operation.
type VerifyConfig struct {
	// RequireAmount rejects transfers below the expected amount.
	RequireAmount bool
	// AmountTolerance is how far below the expected amount a transfer may be.
	AmountTolerance decimal.Decimal
}

// Verdict is the result of the verify operation.
type Verdict struct {
	IsValid       bool
	InvalidReason types.InvalidReason
}

func invalid(reason types.InvalidReason) Verdict {
	return Verdict{IsValid: false, InvalidReason: reason}
}

// Verify checks a resolved transfer against what the watched reference expects.
func Verify(c VerifyConfig, w types.WatchedReference, tx *types.Transaction, res resolver.Resolution) Verdict {

	// Verify the transfer is in the expected currency
	if res.Currency != w.Currency.Code {
		return invalid(types.InvalidReasonCurrencyMismatch)
	}

	// Verify the amount is positive
	if !res.Amount.IsPositive() {
		return invalid(types.InvalidReasonNoTransfer)
	}

	// Verify the credited account is the recipient when the ledger reports it
	if w.Recipient != "" && res.Account != "" && res.Account != w.Recipient {
		return invalid(types.InvalidReasonRecipientMismatch)
	}

	// Verify the amount covers the expected amount within tolerance
	if c.RequireAmount && w.ExpectedAmount.IsPositive() {
		floor := w.ExpectedAmount.Sub(c.AmountTolerance)
		if res.Amount.LessThan(floor) {
			return invalid(types.InvalidReasonAmountMismatch)
		}
	}

	// Verify the transfer landed before the request expired
	if tx.BlockTime != nil && w.Expired(*tx.BlockTime) {
		return invalid(types.InvalidReasonExpired)
	}

	return Verdict{IsValid: true}
}
