package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/raid-guild/payment-watcher-go/fee"
	"github.com/raid-guild/payment-watcher-go/types"
	"github.com/raid-guild/payment-watcher-go/utils"
)

// Quote returns what a customer pays for a requested amount.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {

	// Parse the query parameters
	code := r.URL.Query().Get("currency")
	currency, ok := h.currency(code)
	if !ok {
		http.Error(w, fmt.Sprintf("unsupported currency %q", code), http.StatusBadRequest)
		return
	}
	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil || !amount.IsPositive() {
		http.Error(w, "amount must be a positive decimal", http.StatusBadRequest)
		return
	}

	// Compute the quote
	quote, err := h.fees.Quote(currency.Code, amount)
	if errors.Is(err, fee.ErrUnknownCurrency) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, types.QuoteResponse{
		Currency:         currency.Code,
		Requested:        quote.Requested,
		FeeAmount:        quote.FeeAmount,
		Total:            quote.Total,
		MerchantReceives: quote.MerchantReceives,
	})
}
