package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Hub is the in-process notifier
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}
	logger *zap.Logger
}

// NewHub creates a new Hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		topics: make(map[string]map[*Subscription]struct{}),
		logger: logger,
	}
}

// Subscribe registers a subscriber on topic
func (h *Hub) Subscribe(_ context.Context, topic string) (*Subscription, error) {
	var sub *Subscription
	sub = newSubscription(func() error {
		h.unregister(topic, sub)
		return nil
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	h.logger.Debug("notify subscriber registered", zap.String("topic", topic), zap.Int("total", len(subs)))
	return sub, nil
}

func (h *Hub) unregister(topic string, sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.topics[topic]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
}

// Publish signals every subscriber of topic without blocking.
func (h *Hub) Publish(_ context.Context, topic string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.topics[topic] {
		sub.signal()
	}
	return nil
}

// Close drops every subscriber.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.topics = make(map[string]map[*Subscription]struct{})
	return nil
}
