package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/raid-guild/payment-watcher-go/types"
)

// MemoryStore implements Store in process memory. It is used for local runs
// without a database and in tests.
type MemoryStore struct {
	mu          sync.Mutex
	requests    map[string]types.PaymentRequest
	settlements map[string]types.Settlement
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:    make(map[string]types.PaymentRequest),
		settlements: make(map[string]types.Settlement),
	}
}

// CreateRequest implements Store.
func (m *MemoryStore) CreateRequest(ctx context.Context, req types.PaymentRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.requests[req.Reference]; ok {
		return ErrExists
	}
	if req.Status == "" {
		req.Status = types.RequestStatusPending
	}
	m.requests[req.Reference] = req
	return nil
}

// GetRequest implements Store.
func (m *MemoryStore) GetRequest(ctx context.Context, reference string) (types.PaymentRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[reference]
	if !ok {
		return types.PaymentRequest{}, ErrNotFound
	}
	return req, nil
}

// ListPendingRequests implements Store.
func (m *MemoryStore) ListPendingRequests(ctx context.Context) ([]types.PaymentRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []types.PaymentRequest
	for _, req := range m.requests {
		if req.Status == types.RequestStatusPending {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateRequestStatus implements Store.
func (m *MemoryStore) UpdateRequestStatus(ctx context.Context, reference string, status types.RequestStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.updateStatusLocked(reference, status)
}

func (m *MemoryStore) updateStatusLocked(reference string, status types.RequestStatus) error {
	if !status.Valid() || !status.Terminal() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	req, ok := m.requests[reference]
	if !ok {
		return ErrNotFound
	}
	if req.Status.Terminal() {
		return ErrNotPending
	}
	req.Status = status
	m.requests[reference] = req
	return nil
}

// SettlementExists implements Store.
func (m *MemoryStore) SettlementExists(ctx context.Context, signature string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.settlements[signature]
	return ok, nil
}

// GetSettlement implements Store.
func (m *MemoryStore) GetSettlement(ctx context.Context, reference string) (*types.Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var found *types.Settlement
	for _, s := range m.settlements {
		if s.Reference != reference || s.Status != types.SettlementStatusConfirmed {
			continue
		}
		if found == nil || s.RecordedAt.Before(found.RecordedAt) {
			s := s
			found = &s
		}
	}
	return found, nil
}

// RecordSettlement implements Store.
func (m *MemoryStore) RecordSettlement(ctx context.Context, s types.Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.settlements[s.Signature]; ok {
		return ErrAlreadyRecorded
	}
	if err := m.updateStatusLocked(s.Reference, types.RequestStatusConfirmed); err != nil {
		return err
	}
	m.settlements[s.Signature] = s
	return nil
}

// Settlements returns every settlement recorded, sorted by signature.
func (m *MemoryStore) Settlements() []types.Settlement {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]types.Settlement, 0, len(m.settlements))
	for _, s := range m.settlements {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Signature < out[j].Signature
	})
	return out
}
