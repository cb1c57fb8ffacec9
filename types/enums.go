package types

// RequestStatus is the payment request status enum.
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusConfirmed RequestStatus = "confirmed"
	RequestStatusFailed    RequestStatus = "failed"
	RequestStatusExpired   RequestStatus = "expired"
)

// Terminal reports whether the status can no longer change.
func (s RequestStatus) Terminal() bool {
	return s != RequestStatusPending
}

// Valid reports whether the status is one of the known values.
func (s RequestStatus) Valid() bool {
	switch s {
	case RequestStatusPending, RequestStatusConfirmed, RequestStatusFailed, RequestStatusExpired:
		return true
	}
	return false
}

// SettlementStatus is the settlement status enum.
type SettlementStatus string

const (
	SettlementStatusConfirmed SettlementStatus = "confirmed"
	SettlementStatusFailed    SettlementStatus = "failed"
)

// AssetKind is the asset kind enum.
type AssetKind string

const (
	AssetKindNative AssetKind = "native"
	AssetKindToken  AssetKind = "token"
)

// EventType is the notification event type enum.
type EventType string

const (
	EventTypeConfirmed EventType = "confirmed"
	EventTypeFailed    EventType = "failed"
	EventTypeExpired   EventType = "expired"
)

// InvalidReason is the reason a resolved transaction was not accepted as the payment.
type InvalidReason string

const (
	InvalidReasonNoTransfer         InvalidReason = "no_transfer_found"
	InvalidReasonTransactionFailed  InvalidReason = "transaction_failed"
	InvalidReasonTransactionMissing InvalidReason = "transaction_missing"
	InvalidReasonCurrencyMismatch   InvalidReason = "currency_mismatch"
	InvalidReasonAmountMismatch     InvalidReason = "amount_mismatch"
	InvalidReasonRecipientMismatch  InvalidReason = "recipient_mismatch"
	InvalidReasonExpired            InvalidReason = "request_expired"
	InvalidReasonUnresolvable       InvalidReason = "unresolvable"
)
