package handler

import (
	"net/http"

	"github.com/raid-guild/payment-watcher-go/types"
)

// Supported lists the currencies the watcher can settle and their fees.
func (h *Handler) Supported(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.buildSupportedResponse())
}

// buildSupportedResponse builds the supported response.
func (h *Handler) buildSupportedResponse() types.SupportedResponse {
	currencies := make([]types.SupportedCurrency, 0, len(h.catalogue))

	// Add every currency with a fee rate, in code order
	for _, code := range h.fees.Currencies() {
		currency, ok := h.catalogue[code]
		if !ok {
			continue
		}
		rate, err := h.fees.Rate(code)
		if err != nil {
			continue
		}
		currencies = append(currencies, types.SupportedCurrency{
			Currency:    currency,
			RatePercent: rate.RatePercent,
			FixedFee:    rate.Fixed,
		})
	}

	return types.SupportedResponse{
		Currencies: currencies,
	}
}
