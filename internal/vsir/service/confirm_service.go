package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sooshee9/AIR01/internal/vsir/reconcile"
)

var ErrConfirmationNotFound = errors.New("confirmation not found or already answered")

// PendingConfirmation is a bulk plan waiting for the operator.
type PendingConfirmation struct {
	ID        string           `json:"id"`
	Prompt    reconcile.Prompt `json:"prompt"`
	CreatedAt time.Time        `json:"created_at"`
	ExpiresAt time.Time        `json:"expires_at"`
}

type pending struct {
	userID string
	info   PendingConfirmation
	answer chan bool
}

// ConfirmService routes prompts to operators and waits for their answer.
// An unanswered prompt is declined when the timeout elapses.
type ConfirmService struct {
	mu      sync.Mutex
	pending map[string]*pending
	timeout time.Duration
	notify  func(userID string, p PendingConfirmation)
	logger  *zap.Logger
}

func NewConfirmService(timeout time.Duration, notify func(userID string, p PendingConfirmation), logger *zap.Logger) *ConfirmService {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConfirmService{
		pending: make(map[string]*pending),
		timeout: timeout,
		notify:  notify,
		logger:  logger,
	}
}

// For returns a Confirmer bound to one operator.
func (s *ConfirmService) For(userID string) reconcile.Confirmer {
	return reconcile.ConfirmFunc(func(ctx context.Context, p reconcile.Prompt) bool {
		return s.Ask(ctx, userID, p)
	})
}

// Ask blocks until the operator answers, the timeout elapses or ctx ends.
// Anything but an explicit accept is a decline.
func (s *ConfirmService) Ask(ctx context.Context, userID string, p reconcile.Prompt) bool {
	now := time.Now()
	pc := &pending{
		userID: userID,
		info: PendingConfirmation{
			ID:        uuid.New().String()[:32],
			Prompt:    p,
			CreatedAt: now,
			ExpiresAt: now.Add(s.timeout),
		},
		answer: make(chan bool, 1),
	}

	s.mu.Lock()
	s.pending[pc.info.ID] = pc
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, pc.info.ID)
		s.mu.Unlock()
	}()

	if s.notify != nil {
		s.notify(userID, pc.info)
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case ok := <-pc.answer:
		return ok
	case <-timer.C:
		s.logger.Info("confirmation timed out",
			zap.String("user_id", userID),
			zap.String("rule", p.Rule),
			zap.String("confirmation_id", pc.info.ID))
		return false
	case <-ctx.Done():
		return false
	}
}

// Answer resolves one of the operator's pending confirmations.
func (s *ConfirmService) Answer(userID, id string, accept bool) error {
	s.mu.Lock()
	pc, ok := s.pending[id]
	if ok && pc.userID == userID {
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if !ok || pc.userID != userID {
		return ErrConfirmationNotFound
	}
	pc.answer <- accept
	return nil
}

// List returns the operator's pending confirmations, oldest first.
func (s *ConfirmService) List(userID string) []PendingConfirmation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingConfirmation, 0)
	for _, pc := range s.pending {
		if pc.userID == userID {
			out = append(out, pc.info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
