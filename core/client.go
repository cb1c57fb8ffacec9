package core

import (
	"context"

	"github.com/raid-guild/payment-watcher-go/types"
)

// LedgerClient defines the ledger capability the watcher consumes.
type LedgerClient interface {
	// ListSignatures returns up to limit signatures involving address, most recent first.
	ListSignatures(ctx context.Context, address string, limit int) ([]types.SignatureInfo, error)

	// GetTransaction returns the transaction for a signature, or nil if the
	// ledger does not have it yet.
	GetTransaction(ctx context.Context, signature string) (*types.Transaction, error)

	// Health returns an error if the ledger endpoint cannot serve requests.
	Health(ctx context.Context) error
}
