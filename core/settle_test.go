package core

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raid-guild/payment-watcher-go/notify"
	"github.com/raid-guild/payment-watcher-go/resolver"
	"github.com/raid-guild/payment-watcher-go/store"
	"github.com/raid-guild/payment-watcher-go/types"
)

func setupRecorder(t *testing.T) (*Recorder, *store.MemoryStore, *notify.MemoryNotifier) {
	t.Helper()
	s := store.NewMemoryStore()
	require.NoError(t, s.CreateRequest(context.Background(), pendingRequest("50.00")))
	n := notify.NewMemoryNotifier(discardLogger(), notify.WithHistory(100))
	return NewRecorder(s, calculator(), n, nil, discardLogger()), s, n
}

func fiftyUSDC() resolver.Resolution {
	return resolver.Resolution{
		Amount:    decimal.RequireFromString("50"),
		BaseUnits: decimal.RequireFromString("50000000"),
		Decimals:  6,
		Account:   merchant,
		Currency:  "USDC",
	}
}

func TestRecorder_Record(t *testing.T) {
	ctx := context.Background()

	t.Run("records settlement with fee breakdown", func(t *testing.T) {
		r, s, n := setupRecorder(t)
		w := pendingRequest("50.00").Watched()

		result, err := r.Record(ctx, "sig-1", w, fiftyUSDC())
		require.NoError(t, err)
		assert.Equal(t, OutcomeConfirmed, result.Outcome)
		assert.True(t, result.Notified)
		require.NotNil(t, result.Settlement)
		assert.Equal(t, "50", result.Settlement.GrossAmount.String())
		assert.Equal(t, "1.75", result.Settlement.FeeAmount.String())
		assert.Equal(t, "48.25", result.Settlement.NetAmount.String())

		req, err := s.GetRequest(ctx, reference)
		require.NoError(t, err)
		assert.Equal(t, types.RequestStatusConfirmed, req.Status)

		events := n.Published(reference)
		require.Len(t, events, 1)
		assert.Equal(t, types.EventTypeConfirmed, events[0].Type)
		assert.Equal(t, "sig-1", events[0].Signature)
	})

	t.Run("paying the quoted total nets the requested amount", func(t *testing.T) {
		r, _, _ := setupRecorder(t)
		w := pendingRequest("50.00").Watched()
		quote, err := calculator().Quote("USDC", w.ExpectedAmount)
		require.NoError(t, err)

		res := fiftyUSDC()
		res.Amount = quote.Total
		result, err := r.Record(ctx, "sig-1", w, res)
		require.NoError(t, err)
		require.NotNil(t, result.Settlement)
		assert.Equal(t, "51.75", result.Settlement.GrossAmount.String())
		assert.Equal(t, "1.75", result.Settlement.FeeAmount.String())
		assert.True(t, result.Settlement.NetAmount.Equal(quote.MerchantReceives), result.Settlement.NetAmount.String())
	})

	t.Run("second record of the same signature is a duplicate", func(t *testing.T) {
		r, s, _ := setupRecorder(t)
		w := pendingRequest("50.00").Watched()

		_, err := r.Record(ctx, "sig-1", w, fiftyUSDC())
		require.NoError(t, err)
		result, err := r.Record(ctx, "sig-1", w, fiftyUSDC())
		require.NoError(t, err)
		assert.Equal(t, OutcomeDuplicate, result.Outcome)
		assert.Len(t, s.Settlements(), 1)
	})

	t.Run("another signature after confirmation is not pending", func(t *testing.T) {
		r, s, _ := setupRecorder(t)
		w := pendingRequest("50.00").Watched()

		_, err := r.Record(ctx, "sig-1", w, fiftyUSDC())
		require.NoError(t, err)
		result, err := r.Record(ctx, "sig-2", w, fiftyUSDC())
		require.NoError(t, err)
		assert.Equal(t, OutcomeNotPending, result.Outcome)
		assert.Len(t, s.Settlements(), 1)
	})

	t.Run("concurrent records settle once", func(t *testing.T) {
		r, s, _ := setupRecorder(t)
		w := pendingRequest("50.00").Watched()

		var wg sync.WaitGroup
		outcomes := make(chan Outcome, 16)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				result, err := r.Record(ctx, "sig-1", w, fiftyUSDC())
				assert.NoError(t, err)
				outcomes <- result.Outcome
			}()
		}
		wg.Wait()
		close(outcomes)

		confirmed := 0
		for o := range outcomes {
			if o == OutcomeConfirmed {
				confirmed++
			}
		}
		assert.Equal(t, 1, confirmed)
		assert.Len(t, s.Settlements(), 1)
	})

	t.Run("failed publish keeps the settlement", func(t *testing.T) {
		s := store.NewMemoryStore()
		require.NoError(t, s.CreateRequest(ctx, pendingRequest("50.00")))
		n := &failingNotifier{remaining: 1}
		r := NewRecorder(s, calculator(), n, nil, discardLogger())
		w := pendingRequest("50.00").Watched()

		result, err := r.Record(ctx, "sig-1", w, fiftyUSDC())
		require.NoError(t, err)
		assert.Equal(t, OutcomeConfirmed, result.Outcome)
		assert.False(t, result.Notified)
		assert.Len(t, s.Settlements(), 1)

		// The retry republishes the stored confirmation
		result, err = r.Record(ctx, "sig-1", w, fiftyUSDC())
		require.NoError(t, err)
		assert.Equal(t, OutcomeDuplicate, result.Outcome)
		assert.True(t, result.Notified)
		require.Len(t, n.events, 1)
		assert.Equal(t, types.EventTypeConfirmed, n.events[0].Type)
	})
}

func TestRecorder_Transitions(t *testing.T) {
	ctx := context.Background()

	t.Run("fail", func(t *testing.T) {
		r, s, n := setupRecorder(t)

		result, err := r.Fail(ctx, reference, "sig-1", types.InvalidReasonTransactionFailed)
		require.NoError(t, err)
		assert.Equal(t, OutcomeFailed, result.Outcome)

		req, err := s.GetRequest(ctx, reference)
		require.NoError(t, err)
		assert.Equal(t, types.RequestStatusFailed, req.Status)

		events := n.Published(reference)
		require.Len(t, events, 1)
		assert.Equal(t, types.EventTypeFailed, events[0].Type)
		assert.Equal(t, string(types.InvalidReasonTransactionFailed), events[0].Reason)
	})

	t.Run("expire", func(t *testing.T) {
		r, s, n := setupRecorder(t)

		result, err := r.Expire(ctx, reference)
		require.NoError(t, err)
		assert.Equal(t, OutcomeExpired, result.Outcome)

		req, err := s.GetRequest(ctx, reference)
		require.NoError(t, err)
		assert.Equal(t, types.RequestStatusExpired, req.Status)
		assert.Len(t, n.Published(reference), 1)
	})

	t.Run("terminal requests do not move", func(t *testing.T) {
		r, s, n := setupRecorder(t)
		_, err := r.Expire(ctx, reference)
		require.NoError(t, err)

		result, err := r.Fail(ctx, reference, "", types.InvalidReasonUnresolvable)
		require.NoError(t, err)
		assert.Equal(t, OutcomeNotPending, result.Outcome)

		req, err := s.GetRequest(ctx, reference)
		require.NoError(t, err)
		assert.Equal(t, types.RequestStatusExpired, req.Status)
		assert.Len(t, n.Published(reference), 1)
	})

	t.Run("missing request", func(t *testing.T) {
		r, _, _ := setupRecorder(t)

		_, err := r.Expire(ctx, "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}
