// Package notify publishes settlement outcomes to subscribers of a reference.
//
// Delivery is at least once. Subscribers may see the same outcome more than
// once and should dedupe on the event's signature or id.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/raid-guild/payment-watcher-go/types"
)

// Notifier publishes events to the topic of a reference.
type Notifier interface {
	Publish(ctx context.Context, reference string, event types.Event) error
}

// Subscriber delivers the events published to a reference. The returned
// cancel function releases the subscription.
type Subscriber interface {
	Subscribe(ctx context.Context, reference string) (<-chan types.Event, func(), error)
}

// Confirmed builds the event for a committed settlement.
func Confirmed(s types.Settlement) types.Event {
	gross, feeAmount, net := s.GrossAmount, s.FeeAmount, s.NetAmount
	return types.Event{
		ID:          uuid.NewString(),
		Type:        types.EventTypeConfirmed,
		Reference:   s.Reference,
		Signature:   s.Signature,
		GrossAmount: &gross,
		FeeAmount:   &feeAmount,
		NetAmount:   &net,
		Currency:    s.Currency,
		OccurredAt:  s.RecordedAt,
	}
}

// Failed builds the event for a request marked failed.
func Failed(reference, signature string, reason types.InvalidReason) types.Event {
	return types.Event{
		ID:         uuid.NewString(),
		Type:       types.EventTypeFailed,
		Reference:  reference,
		Signature:  signature,
		Reason:     string(reason),
		OccurredAt: time.Now().UTC(),
	}
}

// Expired builds the event for a request marked expired.
func Expired(reference string) types.Event {
	return types.Event{
		ID:         uuid.NewString(),
		Type:       types.EventTypeExpired,
		Reference:  reference,
		Reason:     string(types.InvalidReasonExpired),
		OccurredAt: time.Now().UTC(),
	}
}
