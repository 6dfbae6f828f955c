package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisNotifier carries change signals over redis Pub/Sub so every instance
// serving the same owner refetches after a write.
type RedisNotifier struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisNotifier(rdb *redis.Client, logger *zap.Logger) *RedisNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisNotifier{rdb: rdb, logger: logger}
}

// Publish sends a change signal on topic.
func (n *RedisNotifier) Publish(ctx context.Context, topic string) error {
	if err := n.rdb.Publish(ctx, topic, "changed").Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe opens a redis subscription on topic. Messages are coalesced into
// the returned Subscription.
func (n *RedisNotifier) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	ps := n.rdb.Subscribe(ctx, topic)
	// Wait for the subscribe confirmation so no publish issued after we return is missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	done := make(chan struct{})
	sub := newSubscription(func() error {
		err := ps.Close()
		<-done
		return err
	})

	go func() {
		defer close(done)
		for range ps.Channel() {
			sub.signal()
		}
		n.logger.Debug("redis subscription closed", zap.String("topic", topic))
	}()
	return sub, nil
}

// Close closes the underlying client.
func (n *RedisNotifier) Close() error {
	return n.rdb.Close()
}
