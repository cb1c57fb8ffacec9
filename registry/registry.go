// Package registry holds the set of payment references being watched.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/raid-guild/payment-watcher-go/types"
)

// PendingLister lists the payment requests still awaiting payment.
type PendingLister interface {
	ListPendingRequests(ctx context.Context) ([]types.PaymentRequest, error)
}

// Registry is a concurrency safe set of watched references.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]types.WatchedReference
	logger  *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]types.WatchedReference),
		logger:  logger.With("component", "registry"),
	}
}

// Add starts watching a reference. Adding a watched reference again is a
// no-op and reports false.
func (r *Registry) Add(w types.WatchedReference) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[w.Reference]; ok {
		return false
	}
	r.entries[w.Reference] = w
	return true
}

// Remove stops watching a reference. Removing an absent reference is a no-op
// and reports false.
func (r *Registry) Remove(reference string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[reference]; !ok {
		return false
	}
	delete(r.entries, reference)
	return true
}

// Get returns the watched record for a reference.
func (r *Registry) Get(reference string) (types.WatchedReference, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.entries[reference]
	return w, ok
}

// Len returns the number of watched references.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

// Snapshot returns a point-in-time copy of the watched set, sorted by
// reference. The copy is safe to iterate while Add and Remove proceed.
func (r *Registry) Snapshot() []types.WatchedReference {
	r.mu.RLock()
	out := make([]types.WatchedReference, 0, len(r.entries))
	for _, w := range r.entries {
		out = append(out, w)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Reference < out[j].Reference
	})
	return out
}

// Warm adds every pending request from the store and returns how many
// references were added.
func (r *Registry) Warm(ctx context.Context, store PendingLister) (int, error) {
	requests, err := store.ListPendingRequests(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending requests: %w", err)
	}

	added := 0
	for _, req := range requests {
		if req.Status != types.RequestStatusPending {
			continue
		}
		if r.Add(req.Watched()) {
			added++
		}
	}

	r.logger.InfoContext(ctx, "registry warmed", "pending", len(requests), "added", added)
	return added, nil
}
