package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/raid-guild/payment-watcher-go/core"
	"github.com/raid-guild/payment-watcher-go/store"
	"github.com/raid-guild/payment-watcher-go/types"
	"github.com/raid-guild/payment-watcher-go/utils"
)

// AddReference stores a payment request and starts watching its reference.
// Adding a reference that is already pending only ensures it is watched.
func (h *Handler) AddReference(w http.ResponseWriter, r *http.Request) {

	// Decode the request body
	var body types.AddReferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("failed to decode request body: %v", err), http.StatusBadRequest)
		return
	}

	// Validate the request body
	req, err := h.paymentRequest(body)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	// Store the payment request
	err = h.store.CreateRequest(r.Context(), req)
	status := http.StatusCreated
	if errors.Is(err, store.ErrExists) {

		// Check the existing request is still pending
		existing, getErr := h.store.GetRequest(r.Context(), req.Reference)
		if getErr != nil {
			h.logger.Error("failed to load payment request", "reference", req.Reference, "error", getErr)
			utils.WriteError(w, getErr)
			return
		}
		if existing.Status.Terminal() {
			http.Error(w, fmt.Sprintf("payment request is %s", existing.Status), http.StatusConflict)
			return
		}
		req, err, status = existing, nil, http.StatusOK
	}
	if err != nil {
		h.logger.Error("failed to create payment request", "reference", req.Reference, "error", err)
		utils.WriteError(w, err)
		return
	}

	// Watch the reference
	if h.registry.Add(req.Watched()) {
		h.logger.Info("reference added", "reference", req.Reference, "amount", req.Amount.String(), "currency", req.Currency.Code)
	}

	h.writeJSON(w, status, req)
}

// paymentRequest validates the add reference body and builds the request.
func (h *Handler) paymentRequest(body types.AddReferenceRequest) (types.PaymentRequest, error) {

	// Check the reference and recipient are set
	body.Reference = strings.TrimSpace(body.Reference)
	if body.Reference == "" {
		return types.PaymentRequest{}, badRequest("reference is required")
	}
	body.Recipient = strings.TrimSpace(body.Recipient)
	if body.Recipient == "" {
		return types.PaymentRequest{}, badRequest("recipient is required")
	}

	// Check the currency is supported
	currency, ok := h.currency(body.Currency)
	if !ok {
		return types.PaymentRequest{}, badRequest(fmt.Sprintf("unsupported currency %q", body.Currency))
	}

	// Check the amount is positive and representable in the currency
	if !body.Amount.IsPositive() {
		return types.PaymentRequest{}, badRequest("amount must be positive")
	}
	if !body.Amount.Equal(body.Amount.Truncate(currency.Decimals)) {
		return types.PaymentRequest{}, badRequest(fmt.Sprintf("amount has more than %d decimal places", currency.Decimals))
	}

	// Check the expiry is in the future
	now := h.now().UTC()
	if !body.ExpiresAt.IsZero() && !body.ExpiresAt.After(now) {
		return types.PaymentRequest{}, badRequest("expiresAt must be in the future")
	}

	return types.PaymentRequest{
		Reference: body.Reference,
		Recipient: body.Recipient,
		Amount:    body.Amount,
		Currency:  currency,
		Label:     body.Label,
		Message:   body.Message,
		Status:    types.RequestStatusPending,
		CreatedAt: now,
		ExpiresAt: body.ExpiresAt,
	}, nil
}

// RemoveReference stops watching a reference. The stored request keeps its status.
func (h *Handler) RemoveReference(w http.ResponseWriter, r *http.Request) {
	reference := r.PathValue("reference")

	if h.registry.Remove(reference) {
		h.logger.Info("reference removed", "reference", reference)
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExpireReference moves a pending request to expired and stops watching it.
func (h *Handler) ExpireReference(w http.ResponseWriter, r *http.Request) {
	reference := r.PathValue("reference")

	// Expire the stored request
	result, err := h.recorder.Expire(r.Context(), reference)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to expire payment request", "reference", reference, "error", err)
		utils.WriteError(w, err)
		return
	}

	// Stop watching the reference
	h.registry.Remove(reference)

	// Check the request was still pending
	if result.Outcome == core.OutcomeNotPending {
		http.Error(w, "payment request is not pending", http.StatusConflict)
		return
	}

	req, err := h.store.GetRequest(r.Context(), reference)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, req)
}

// ListReferences returns every watched reference.
func (h *Handler) ListReferences(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, types.ReferencesResponse{
		References: h.registry.Snapshot(),
	})
}

func badRequest(msg string) error {
	return utils.NewStatusError(errors.New(msg), http.StatusBadRequest)
}
