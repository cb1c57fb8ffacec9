package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Currency identifies what a payment request is denominated in.
type Currency struct {
	Kind AssetKind `json:"kind"`
	// Code is the display symbol, e.g. "SOL" or "USDC".
	Code string `json:"code"`
	// Mint is the token identifier. Empty for the native currency.
	Mint string `json:"mint,omitempty"`
	// Decimals is the number of decimal places of the smallest unit.
	Decimals int32 `json:"decimals"`
}

// PaymentRequest is a merchant's ask for payment.
type PaymentRequest struct {
	Reference string          `json:"reference"`
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  Currency        `json:"currency"`
	Label     string          `json:"label,omitempty"`
	Message   string          `json:"message,omitempty"`
	Status    RequestStatus   `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
	ExpiresAt time.Time       `json:"expiresAt,omitempty"`
}

// Watched returns the registry record for the request.
func (p PaymentRequest) Watched() WatchedReference {
	return WatchedReference{
		Reference:      p.Reference,
		Recipient:      p.Recipient,
		Currency:       p.Currency,
		ExpectedAmount: p.Amount,
		ExpiresAt:      p.ExpiresAt,
	}
}

// Settlement is one confirmed on-chain transfer matched to a request.
type Settlement struct {
	Signature   string           `json:"signature"`
	Reference   string           `json:"reference"`
	GrossAmount decimal.Decimal  `json:"grossAmount"`
	Currency    string           `json:"currency"`
	FeeAmount   decimal.Decimal  `json:"feeAmount"`
	NetAmount   decimal.Decimal  `json:"netAmount"`
	Status      SettlementStatus `json:"status"`
	RecordedAt  time.Time        `json:"recordedAt"`
}

// WatchedReference is the registry membership record for a reference.
type WatchedReference struct {
	Reference      string          `json:"reference"`
	Recipient      string          `json:"recipient"`
	Currency       Currency        `json:"currency"`
	ExpectedAmount decimal.Decimal `json:"expectedAmount"`
	ExpiresAt      time.Time       `json:"expiresAt,omitempty"`
}

// Expired reports whether the reference has expired at the given time.
func (w WatchedReference) Expired(at time.Time) bool {
	return !w.ExpiresAt.IsZero() && !at.Before(w.ExpiresAt)
}

// SignatureInfo is one entry of the ledger's address signature index.
type SignatureInfo struct {
	Signature string     `json:"signature"`
	Slot      uint64     `json:"slot"`
	Failed    bool       `json:"failed"`
	BlockTime *time.Time `json:"blockTime,omitempty"`
}

// TokenBalance is a token account balance before or after a transaction.
type TokenBalance struct {
	AccountIndex int    `json:"accountIndex"`
	Mint         string `json:"mint"`
	Owner        string `json:"owner,omitempty"`
	// Amount is the raw amount in the token's smallest unit.
	Amount   string `json:"amount"`
	Decimals int32  `json:"decimals"`
}

// Transaction is the resolved transaction detail returned by the ledger.
type Transaction struct {
	Signature string     `json:"signature"`
	Slot      uint64     `json:"slot"`
	BlockTime *time.Time `json:"blockTime,omitempty"`
	// Err is the ledger-level error. A non-empty value means the transaction failed.
	Err               string         `json:"err,omitempty"`
	AccountKeys       []string       `json:"accountKeys"`
	PreBalances       []uint64       `json:"preBalances"`
	PostBalances      []uint64       `json:"postBalances"`
	PreTokenBalances  []TokenBalance `json:"preTokenBalances"`
	PostTokenBalances []TokenBalance `json:"postTokenBalances"`
}

// Failed reports whether the ledger recorded an error for the transaction.
func (t *Transaction) Failed() bool {
	return t.Err != ""
}

// Event is the payload published to subscribers of a reference.
type Event struct {
	ID          string           `json:"id"`
	Type        EventType        `json:"type"`
	Reference   string           `json:"reference"`
	Signature   string           `json:"signature,omitempty"`
	GrossAmount *decimal.Decimal `json:"grossAmount,omitempty"`
	FeeAmount   *decimal.Decimal `json:"feeAmount,omitempty"`
	NetAmount   *decimal.Decimal `json:"netAmount,omitempty"`
	Currency    string           `json:"currency,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	OccurredAt  time.Time        `json:"occurredAt"`
}

// AddReferenceRequest is the request body of the add reference operation.
type AddReferenceRequest struct {
	Reference string          `json:"reference"`
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Label     string          `json:"label,omitempty"`
	Message   string          `json:"message,omitempty"`
	ExpiresAt time.Time       `json:"expiresAt,omitempty"`
}

// ReferencesResponse is the response of the list references operation.
type ReferencesResponse struct {
	References []WatchedReference `json:"references"`
}

// RequestStatusResponse is the response of the get request operation.
type RequestStatusResponse struct {
	Request    PaymentRequest `json:"request"`
	Settlement *Settlement    `json:"settlement,omitempty"`
	Watched    bool           `json:"watched"`
}

// QuoteResponse is the response of the quote operation.
type QuoteResponse struct {
	Currency         string          `json:"currency"`
	Requested        decimal.Decimal `json:"requested"`
	FeeAmount        decimal.Decimal `json:"feeAmount"`
	Total            decimal.Decimal `json:"total"`
	MerchantReceives decimal.Decimal `json:"merchantReceives"`
}

// SupportedCurrency describes one currency the watcher can settle.
type SupportedCurrency struct {
	Currency    Currency        `json:"currency"`
	RatePercent decimal.Decimal `json:"ratePercent"`
	FixedFee    decimal.Decimal `json:"fixedFee"`
}

// SupportedResponse is the response of the supported operation.
type SupportedResponse struct {
	Currencies []SupportedCurrency `json:"currencies"`
}
