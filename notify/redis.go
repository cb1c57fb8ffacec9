package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/raid-guild/payment-watcher-go/types"
)

// DefaultChannelPrefix prefixes the Redis channel of every reference.
const DefaultChannelPrefix = "paywatch:"

// RedisNotifier implements Notifier and Subscriber using Redis pub/sub.
type RedisNotifier struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// RedisOptions configures a RedisNotifier.
type RedisOptions struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
}

// NewRedisNotifier creates a notifier connected to Redis.
func NewRedisNotifier(opts RedisOptions, logger *slog.Logger) *RedisNotifier {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewRedisNotifierWithClient(rdb, opts.ChannelPrefix, logger)
}

// NewRedisNotifierWithClient creates a notifier from an existing client.
func NewRedisNotifierWithClient(client *redis.Client, prefix string, logger *slog.Logger) *RedisNotifier {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisNotifier{
		client: client,
		prefix: prefix,
		logger: logger.With("component", "notify"),
	}
}

// Channel returns the Redis channel of a reference.
func (n *RedisNotifier) Channel(reference string) string {
	return n.prefix + reference
}

// Publish implements Notifier.
func (n *RedisNotifier) Publish(ctx context.Context, reference string, event types.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	receivers, err := n.client.Publish(ctx, n.Channel(reference), payload).Result()
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	n.logger.DebugContext(ctx, "event published",
		"reference", reference,
		"type", event.Type,
		"receivers", receivers,
	)
	return nil
}

// Subscribe implements Subscriber.
func (n *RedisNotifier) Subscribe(ctx context.Context, reference string) (<-chan types.Event, func(), error) {
	pubsub := n.client.Subscribe(ctx, n.Channel(reference))

	// Wait for the subscription to be confirmed before returning
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan types.Event, 16)
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(out)
		defer func() { _ = pubsub.Close() }()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event types.Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					n.logger.WarnContext(ctx, "dropping malformed event", "channel", msg.Channel, "error", err)
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, cancel, nil
}

// Close closes the Redis client.
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
