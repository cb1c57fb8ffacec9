package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/raid-guild/payment-watcher-go/auth"
	"github.com/raid-guild/payment-watcher-go/core"
	"github.com/raid-guild/payment-watcher-go/fee"
	"github.com/raid-guild/payment-watcher-go/registry"
	"github.com/raid-guild/payment-watcher-go/store"
	"github.com/raid-guild/payment-watcher-go/types"
)

// Config holds the dependencies of the management API.
type Config struct {
	Store     store.Store
	Registry  *registry.Registry
	Recorder  *core.Recorder
	Fees      *fee.Calculator
	Catalogue map[string]types.Currency
	Auth      *auth.Authenticator
	// Ready reports whether the watcher can serve; nil means always ready.
	Ready  func(ctx context.Context) error
	Logger *slog.Logger
	Now    func() time.Time
}

// Handler serves the management API.
type Handler struct {
	store     store.Store
	registry  *registry.Registry
	recorder  *core.Recorder
	fees      *fee.Calculator
	catalogue map[string]types.Currency
	auth      *auth.Authenticator
	ready     func(ctx context.Context) error
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a new handler.
func New(c Config) *Handler {
	h := &Handler{
		store:     c.Store,
		registry:  c.Registry,
		recorder:  c.Recorder,
		fees:      c.Fees,
		catalogue: c.Catalogue,
		auth:      c.Auth,
		ready:     c.Ready,
		logger:    c.Logger,
		now:       c.Now,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	h.logger = h.logger.With("component", "api")
	if h.now == nil {
		h.now = time.Now
	}
	if h.auth == nil {
		h.auth, _ = auth.NewAuthenticator("", nil)
	}
	return h
}

// Routes returns the HTTP routes of the management API.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// Management routes require an API key when one is configured
	protected := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, h.auth.Middleware(fn))
	}
	protected("POST /v1/references", h.AddReference)
	protected("GET /v1/references", h.ListReferences)
	protected("DELETE /v1/references/{reference}", h.RemoveReference)
	protected("POST /v1/references/{reference}/expire", h.ExpireReference)
	protected("GET /v1/requests/{reference}", h.GetRequest)

	// Public routes
	mux.HandleFunc("GET /v1/quote", h.Quote)
	mux.HandleFunc("GET /v1/supported", h.Supported)
	mux.HandleFunc("GET /healthz", h.Health)

	return mux
}

// Health reports whether the watcher can serve.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"references": h.registry.Len(),
	})
}

// currency looks up a currency code case-insensitively.
func (h *Handler) currency(code string) (types.Currency, bool) {
	c, ok := h.catalogue[strings.ToUpper(strings.TrimSpace(code))]
	return c, ok
}

// writeJSON writes a JSON response body with the given status.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {

	// Marshal the response to JSON bytes
	responseBytes, err := json.Marshal(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Set the content type and write the status code
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	// Write the response bytes to the response body
	if _, err := w.Write(responseBytes); err != nil {
		// Header already written so we log the error
		h.logger.Warn("failed to write response", "error", err)
	}
}
