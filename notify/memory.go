package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/raid-guild/payment-watcher-go/types"
)

// MemoryNotifier implements Notifier and Subscriber in process. Slow
// subscribers miss events rather than block the publisher.
type MemoryNotifier struct {
	mu        sync.Mutex
	subs      map[string]map[int]chan types.Event
	nextID    int
	history   int
	published []types.Event
	logger    *slog.Logger
}

// MemoryOption configures a MemoryNotifier.
type MemoryOption func(*MemoryNotifier)

// WithHistory keeps the last limit published events for Published. Without it
// events are only fanned out to subscribers.
func WithHistory(limit int) MemoryOption {
	return func(n *MemoryNotifier) {
		if limit > 0 {
			n.history = limit
		}
	}
}

// NewMemoryNotifier creates an in-process notifier.
func NewMemoryNotifier(logger *slog.Logger, opts ...MemoryOption) *MemoryNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	n := &MemoryNotifier{
		subs:   make(map[string]map[int]chan types.Event),
		logger: logger.With("component", "notify"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Publish implements Notifier.
func (n *MemoryNotifier) Publish(ctx context.Context, reference string, event types.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.history > 0 {
		n.published = append(n.published, event)
		if over := len(n.published) - n.history; over > 0 {
			n.published = n.published[over:]
		}
	}
	for _, ch := range n.subs[reference] {
		select {
		case ch <- event:
		default:
			n.logger.WarnContext(ctx, "subscriber buffer full, dropping event", "reference", reference, "type", event.Type)
		}
	}
	return nil
}

// Subscribe implements Subscriber.
func (n *MemoryNotifier) Subscribe(ctx context.Context, reference string) (<-chan types.Event, func(), error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	ch := make(chan types.Event, 16)
	if n.subs[reference] == nil {
		n.subs[reference] = make(map[int]chan types.Event)
	}
	n.subs[reference][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.subs[reference], id)
			if len(n.subs[reference]) == 0 {
				delete(n.subs, reference)
			}
			close(ch)
		})
	}
	return ch, cancel, nil
}

// Published returns the retained events of a reference, in order. It is
// empty unless the notifier was created WithHistory.
func (n *MemoryNotifier) Published(reference string) []types.Event {
	n.mu.Lock()
	defer n.mu.Unlock()

	var out []types.Event
	for _, e := range n.published {
		if e.Reference == reference {
			out = append(out, e)
		}
	}
	return out
}
