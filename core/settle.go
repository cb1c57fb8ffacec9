package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raid-guild/payment-watcher-go/fee"
	"github.com/raid-guild/payment-watcher-go/notify"
	"github.com/raid-guild/payment-watcher-go/resolver"
	"github.com/raid-guild/payment-watcher-go/store"
	"github.com/raid-guild/payment-watcher-go/telemetry"
	"github.com/raid-guild/payment-watcher-go/types"
)

// Outcome is the result of a settlement attempt.
type Outcome string

const (
	// OutcomeConfirmed means this call recorded the settlement.
	OutcomeConfirmed Outcome = "confirmed"
	// OutcomeDuplicate means a settlement for the signature already existed.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeNotPending means the request left pending before this call.
	OutcomeNotPending Outcome = "not_pending"
	// OutcomeFailed means this call moved the request to failed.
	OutcomeFailed Outcome = "failed"
	// OutcomeExpired means this call moved the request to expired.
	OutcomeExpired Outcome = "expired"
)

// Result is returned by the recorder operations.
type Result struct {
	Outcome    Outcome
	Settlement *types.Settlement
	// Notified reports whether the matching event was published.
	Notified bool
}

// Recorder writes settlement and status transitions to the store and
// publishes the matching events once the write has committed.
type Recorder struct {
	store    store.Store
	fees     *fee.Calculator
	notifier notify.Notifier
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	locks    *keyedMutex
	now      func() time.Time
}

// NewRecorder creates a new recorder.
func NewRecorder(s store.Store, fees *fee.Calculator, n notify.Notifier, metrics *telemetry.Metrics, logger *slog.Logger) *Recorder {
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:    s,
		fees:     fees,
		notifier: n,
		metrics:  metrics,
		logger:   logger.With("component", "recorder"),
		locks:    newKeyedMutex(),
		now:      time.Now,
	}
}

// Record persists the settlement of a verified transfer. Recording the same
// signature again is a no-op that republishes the confirmation.
func (r *Recorder) Record(ctx context.Context, signature string, w types.WatchedReference, res resolver.Resolution) (Result, error) {
	unlock := r.locks.Lock(signature)
	defer unlock()

	logger := r.logger.With("reference", w.Reference, "signature", signature)

	// Check the signature has not been recorded already
	exists, err := r.store.SettlementExists(ctx, signature)
	if err != nil {
		return Result{}, fmt.Errorf("failed to check settlement: %w", err)
	}
	if exists {
		return r.duplicate(ctx, w.Reference, logger)
	}

	// Compute the fee breakdown against the requested amount
	breakdown, err := r.fees.Settle(res.Currency, w.ExpectedAmount, res.Amount)
	if err != nil {
		return Result{}, fmt.Errorf("failed to compute fee: %w", err)
	}

	settlement := types.Settlement{
		Signature:   signature,
		Reference:   w.Reference,
		GrossAmount: breakdown.GrossAmount,
		Currency:    res.Currency,
		FeeAmount:   breakdown.FeeAmount,
		NetAmount:   breakdown.NetAmount,
		Status:      types.SettlementStatusConfirmed,
		RecordedAt:  r.now().UTC(),
	}

	// Record the settlement and confirm the request in one commit
	err = r.store.RecordSettlement(ctx, settlement)
	switch {
	case errors.Is(err, store.ErrAlreadyRecorded):
		return r.duplicate(ctx, w.Reference, logger)
	case errors.Is(err, store.ErrNotPending):
		logger.Info("request is no longer pending, settlement skipped")
		r.metrics.Outcome(ctx, string(OutcomeNotPending))
		return Result{Outcome: OutcomeNotPending}, nil
	case err != nil:
		return Result{}, fmt.Errorf("failed to record settlement: %w", err)
	}

	logger.Info("settlement recorded",
		"gross", settlement.GrossAmount.String(),
		"fee", settlement.FeeAmount.String(),
		"net", settlement.NetAmount.String(),
		"currency", settlement.Currency,
	)
	r.metrics.Outcome(ctx, string(OutcomeConfirmed))

	notified := r.publish(ctx, w.Reference, notify.Confirmed(settlement), logger)
	return Result{Outcome: OutcomeConfirmed, Settlement: &settlement, Notified: notified}, nil
}

// duplicate republishes the stored confirmation for a reference.
func (r *Recorder) duplicate(ctx context.Context, reference string, logger *slog.Logger) (Result, error) {
	r.metrics.Outcome(ctx, string(OutcomeDuplicate))

	settlement, err := r.store.GetSettlement(ctx, reference)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load settlement: %w", err)
	}
	if settlement == nil {
		return Result{Outcome: OutcomeDuplicate}, nil
	}

	logger.Debug("settlement already recorded")
	notified := r.publish(ctx, reference, notify.Confirmed(*settlement), logger)
	return Result{Outcome: OutcomeDuplicate, Settlement: settlement, Notified: notified}, nil
}

// Fail moves a pending request to failed and publishes the failure.
func (r *Recorder) Fail(ctx context.Context, reference, signature string, reason types.InvalidReason) (Result, error) {
	logger := r.logger.With("reference", reference, "signature", signature, "reason", reason)
	return r.transition(ctx, reference, types.RequestStatusFailed, OutcomeFailed, notify.Failed(reference, signature, reason), logger)
}

// Expire moves a pending request to expired and publishes the expiry.
func (r *Recorder) Expire(ctx context.Context, reference string) (Result, error) {
	logger := r.logger.With("reference", reference)
	return r.transition(ctx, reference, types.RequestStatusExpired, OutcomeExpired, notify.Expired(reference), logger)
}

func (r *Recorder) transition(ctx context.Context, reference string, status types.RequestStatus, outcome Outcome, event types.Event, logger *slog.Logger) (Result, error) {
	err := r.store.UpdateRequestStatus(ctx, reference, status)
	switch {
	case errors.Is(err, store.ErrNotPending):
		logger.Debug("request is no longer pending, transition skipped", "status", status)
		return Result{Outcome: OutcomeNotPending}, nil
	case err != nil:
		return Result{}, fmt.Errorf("failed to update request status: %w", err)
	}

	logger.Info("request status updated", "status", status)
	r.metrics.Outcome(ctx, string(outcome))

	notified := r.publish(ctx, reference, event, logger)
	return Result{Outcome: outcome, Notified: notified}, nil
}

// publish sends an event after its write committed. A failed publish is
// logged and reported to the caller, never rolled back.
func (r *Recorder) publish(ctx context.Context, reference string, event types.Event, logger *slog.Logger) bool {
	if r.notifier == nil {
		return true
	}
	if err := r.notifier.Publish(ctx, reference, event); err != nil {
		logger.Warn("failed to publish event", "event", event.Type, "error", err)
		return false
	}
	return true
}
