// Package store persists payment requests and settlements.
package store

import (
	"context"
	"errors"

	"github.com/raid-guild/payment-watcher-go/types"
)

var (
	// ErrNotFound is returned when a payment request does not exist.
	ErrNotFound = errors.New("payment request not found")

	// ErrExists is returned when a payment request for the reference exists.
	ErrExists = errors.New("payment request already exists")

	// ErrAlreadyRecorded is returned when a settlement for the signature exists.
	ErrAlreadyRecorded = errors.New("settlement already recorded")

	// ErrNotPending is returned when a status transition targets a request
	// that is no longer pending.
	ErrNotPending = errors.New("payment request is not pending")

	// ErrInvalidStatus is returned for a status that is unknown or that a
	// request cannot move to.
	ErrInvalidStatus = errors.New("invalid payment request status")
)

// Store is the durable store of payment requests and settlements.
type Store interface {
	// CreateRequest inserts a new payment request. It returns ErrExists if
	// the reference is taken.
	CreateRequest(ctx context.Context, req types.PaymentRequest) error

	// GetRequest returns the payment request for a reference or ErrNotFound.
	GetRequest(ctx context.Context, reference string) (types.PaymentRequest, error)

	// ListPendingRequests returns every request with status pending.
	ListPendingRequests(ctx context.Context) ([]types.PaymentRequest, error)

	// UpdateRequestStatus moves a pending request to status. It returns
	// ErrNotPending if the request already left pending.
	UpdateRequestStatus(ctx context.Context, reference string, status types.RequestStatus) error

	// SettlementExists reports whether a settlement exists for the signature.
	SettlementExists(ctx context.Context, signature string) (bool, error)

	// GetSettlement returns the settlement recorded for a reference, or nil.
	GetSettlement(ctx context.Context, reference string) (*types.Settlement, error)

	// RecordSettlement inserts the settlement and confirms its request in one
	// commit. It returns ErrAlreadyRecorded if the signature is present and
	// ErrNotPending if the request already left pending; neither write is
	// applied in those cases.
	RecordSettlement(ctx context.Context, s types.Settlement) error
}
