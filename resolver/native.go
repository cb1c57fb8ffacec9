package resolver

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/raid-guild/payment-watcher-go/types"
)

// NativeTransfer resolves transfers of the ledger's native currency from
// per-account balance deltas.
type NativeTransfer struct {
	Recipient string
	Currency  types.Currency
}

// Resolve implements Resolver.
//
// When the recipient appears in the transaction's account keys, its delta is
// the amount. Otherwise the smallest positive delta is taken: the sender's
// delta is negative and any fee payer is debited, so the smallest credit is
// the recipient side of a simple transfer.
func (n NativeTransfer) Resolve(tx *types.Transaction) (Resolution, error) {

	// Failed transactions carry no transfer
	if tx.Failed() {
		return Resolution{}, ErrTransactionFailed
	}

	count := min(len(tx.PreBalances), len(tx.PostBalances))

	// Use the recipient's own delta when the ledger lists account keys
	if n.Recipient != "" && len(tx.AccountKeys) > 0 {
		for i, key := range tx.AccountKeys {
			if key != n.Recipient || i >= count {
				continue
			}
			delta := balanceDelta(tx.PreBalances[i], tx.PostBalances[i])
			if !delta.IsPositive() {
				return Resolution{}, ErrNoTransfer
			}
			return newResolution(delta, n.Currency.Decimals, key, n.Currency.Code), nil
		}
		return Resolution{}, ErrNoTransfer
	}

	// Otherwise take the smallest positive delta
	best := -1
	var bestDelta decimal.Decimal
	for i := 0; i < count; i++ {
		delta := balanceDelta(tx.PreBalances[i], tx.PostBalances[i])
		if !delta.IsPositive() {
			continue
		}
		if best < 0 || delta.LessThan(bestDelta) {
			best = i
			bestDelta = delta
		}
	}
	if best < 0 {
		return Resolution{}, ErrNoTransfer
	}

	var account string
	if best < len(tx.AccountKeys) {
		account = tx.AccountKeys[best]
	}
	return newResolution(bestDelta, n.Currency.Decimals, account, n.Currency.Code), nil
}

func balanceDelta(pre, post uint64) decimal.Decimal {
	p := decimal.NewFromBigInt(new(big.Int).SetUint64(post), 0)
	return p.Sub(decimal.NewFromBigInt(new(big.Int).SetUint64(pre), 0))
}
