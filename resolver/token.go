package resolver

import (
	"github.com/shopspring/decimal"

	"github.com/raid-guild/payment-watcher-go/types"
)

// TokenTransfer resolves transfers of a fungible token from token balance deltas.
type TokenTransfer struct {
	Recipient string
	Currency  types.Currency
}

// Resolve implements Resolver. Only token accounts of the expected mint are
// considered; the first positive delta in ledger order is the amount.
func (t TokenTransfer) Resolve(tx *types.Transaction) (Resolution, error) {

	// Failed transactions carry no transfer
	if tx.Failed() {
		return Resolution{}, ErrTransactionFailed
	}

	// Index pre balances of the expected mint by account
	pre := make(map[int]decimal.Decimal, len(tx.PreTokenBalances))
	for _, b := range tx.PreTokenBalances {
		if b.Mint != t.Currency.Mint {
			continue
		}
		amount, err := decimal.NewFromString(b.Amount)
		if err != nil {
			continue
		}
		pre[b.AccountIndex] = amount
	}

	for _, b := range tx.PostTokenBalances {
		if b.Mint != t.Currency.Mint {
			continue
		}

		// Skip accounts owned by someone else when the owner is reported
		if t.Recipient != "" && b.Owner != "" && b.Owner != t.Recipient {
			continue
		}

		post, err := decimal.NewFromString(b.Amount)
		if err != nil {
			continue
		}

		// Accounts created by the transaction have no pre balance
		delta := post.Sub(pre[b.AccountIndex])
		if !delta.IsPositive() {
			continue
		}

		decimals := b.Decimals
		if decimals == 0 {
			decimals = t.Currency.Decimals
		}
		// The token account key is not the wallet, so only the owner is reported
		return newResolution(delta, decimals, b.Owner, t.Currency.Code), nil
	}

	return Resolution{}, ErrNoTransfer
}
