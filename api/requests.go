package handler

import (
	"errors"
	"net/http"

	"github.com/raid-guild/payment-watcher-go/store"
	"github.com/raid-guild/payment-watcher-go/types"
	"github.com/raid-guild/payment-watcher-go/utils"
)

// GetRequest returns a payment request with its settlement, if any.
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	reference := r.PathValue("reference")

	// Load the payment request
	req, err := h.store.GetRequest(r.Context(), reference)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to load payment request", "reference", reference, "error", err)
		utils.WriteError(w, err)
		return
	}

	// Load the settlement
	settlement, err := h.store.GetSettlement(r.Context(), reference)
	if err != nil {
		h.logger.Error("failed to load settlement", "reference", reference, "error", err)
		utils.WriteError(w, err)
		return
	}

	_, watched := h.registry.Get(reference)
	h.writeJSON(w, http.StatusOK, types.RequestStatusResponse{
		Request:    req,
		Settlement: settlement,
		Watched:    watched,
	})
}
