// Package notify fans out "collection changed" signals to live subscribers,
// either inside one process (Hub) or across instances over redis Pub/Sub.
package notify

import (
	"context"
	"sync"
)

// Notifier publishes change signals on a topic and hands out subscriptions.
type Notifier interface {
	Publish(ctx context.Context, topic string) error
	Subscribe(ctx context.Context, topic string) (*Subscription, error)
	Close() error
}

// Topic names the change channel of one collection of one owner.
func Topic(userID, collection string) string {
	return "vsir:" + userID + ":" + collection
}

// Subscription delivers coalesced change signals. A signal raised while a
// previous one is still pending is dropped.
type Subscription struct {
	c       chan struct{}
	once    sync.Once
	closeFn func() error
	err     error
}

func newSubscription(closeFn func() error) *Subscription {
	return &Subscription{c: make(chan struct{}, 1), closeFn: closeFn}
}

// C returns the signal channel.
func (s *Subscription) C() <-chan struct{} {
	return s.c
}

func (s *Subscription) signal() {
	select {
	case s.c <- struct{}{}:
	default:
	}
}

// Close stops delivery. Safe to call more than once.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		if s.closeFn != nil {
			s.err = s.closeFn()
		}
	})
	return s.err
}
