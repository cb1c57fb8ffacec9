// Package fee computes platform fees for settled payments.
//
// Fees are computed with decimal arithmetic and rounded to the smallest
// unit of the currency, half away from zero.
package fee

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// ErrUnknownCurrency is returned when no fee schedule entry exists for a currency.
var ErrUnknownCurrency = errors.New("unknown currency")

// Rate is the fee schedule entry for one currency.
type Rate struct {
	// RatePercent is the variable part, in percent of the amount (2.9 means 2.9%).
	RatePercent decimal.Decimal
	// Fixed is added to every fee, in display units of the currency.
	Fixed decimal.Decimal
	// Decimals is the number of decimal places of the currency's smallest unit.
	Decimals int32
}

// Breakdown is the fee split of a settled payment.
type Breakdown struct {
	GrossAmount decimal.Decimal
	FeeAmount   decimal.Decimal
	NetAmount   decimal.Decimal
}

// Quote is the customer-facing price of a request.
type Quote struct {
	Requested        decimal.Decimal
	FeeAmount        decimal.Decimal
	Total            decimal.Decimal
	MerchantReceives decimal.Decimal
}

// Fee computes the fee for an amount: amount * rate/100 + fixed, rounded to the
// smallest unit of the currency.
func (r Rate) Fee(amount decimal.Decimal) decimal.Decimal {
	f := amount.Mul(r.RatePercent).Shift(-2).Add(r.Fixed)
	return f.Round(r.Decimals)
}

// Settle returns the fee split of a payment of paid against a request for
// requested. The fee is priced on requested, the same as Quote, so a customer
// paying the quoted total leaves the recipient a net of exactly requested.
func (r Rate) Settle(requested, paid decimal.Decimal) Breakdown {
	feeAmount := r.Fee(requested)
	return Breakdown{
		GrossAmount: paid,
		FeeAmount:   feeAmount,
		NetAmount:   paid.Sub(feeAmount),
	}
}

// Quote returns the total to charge a customer when the merchant asks for
// requested and the fee is added on top.
func (r Rate) Quote(requested decimal.Decimal) Quote {
	feeAmount := r.Fee(requested)
	return Quote{
		Requested:        requested,
		FeeAmount:        feeAmount,
		Total:            requested.Add(feeAmount),
		MerchantReceives: requested,
	}
}

// Calculator maps currencies to fee rates.
type Calculator struct {
	def   *Rate
	rates map[string]Rate
}

// NewCalculator creates a calculator. def is used for currencies without an
// explicit entry; pass nil to reject unknown currencies.
func NewCalculator(def *Rate, rates map[string]Rate) *Calculator {
	c := &Calculator{
		def:   def,
		rates: make(map[string]Rate, len(rates)),
	}
	for code, r := range rates {
		c.rates[code] = r
	}
	return c
}

// Rate returns the fee rate for a currency code.
func (c *Calculator) Rate(currency string) (Rate, error) {
	if r, ok := c.rates[currency]; ok {
		return r, nil
	}
	if c.def != nil {
		return *c.def, nil
	}
	return Rate{}, fmt.Errorf("%w: %s", ErrUnknownCurrency, currency)
}

// Settle returns the fee split of a payment in the given currency.
func (c *Calculator) Settle(currency string, requested, paid decimal.Decimal) (Breakdown, error) {
	r, err := c.Rate(currency)
	if err != nil {
		return Breakdown{}, err
	}
	return r.Settle(requested, paid), nil
}

// Quote returns the customer-facing price of a request in the given currency.
func (c *Calculator) Quote(currency string, requested decimal.Decimal) (Quote, error) {
	r, err := c.Rate(currency)
	if err != nil {
		return Quote{}, err
	}
	return r.Quote(requested), nil
}

// Currencies returns the currency codes with an explicit entry, sorted.
func (c *Calculator) Currencies() []string {
	codes := make([]string, 0, len(c.rates))
	for code := range c.rates {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
