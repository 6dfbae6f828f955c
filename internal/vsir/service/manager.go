package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sooshee9/AIR01/internal/vsir/reconcile"
	"github.com/sooshee9/AIR01/internal/vsir/store"
)

// Options wires a Manager.
type Options struct {
	Records        store.RecordStore
	Documents      store.DocumentStore
	Dispatcher     reconcile.Dispatcher
	Publisher      Publisher
	Activity       *ActivityService
	ConfirmTimeout time.Duration
	EventBuffer    int
	Logger         *zap.Logger
}

// Manager owns one Session per signed-in operator.
type Manager struct {
	opts     Options
	confirms *ConfirmService
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Publisher == nil {
		opts.Publisher = nopPublisher{}
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 64
	}
	m := &Manager{
		opts:     opts,
		logger:   opts.Logger,
		sessions: make(map[string]*Session),
	}
	m.confirms = NewConfirmService(opts.ConfirmTimeout, opts.Publisher.Confirm, opts.Logger)
	return m
}

func (m *Manager) Confirmations() *ConfirmService {
	return m.confirms
}

func (m *Manager) Activity() *ActivityService {
	return m.opts.Activity
}

// Login opens the operator's session, or returns the one already open.
func (m *Manager) Login(ctx context.Context, userID string) (*Session, error) {
	if userID == "" {
		return nil, ErrNotAuthenticated
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[userID]; ok {
		return s, nil
	}
	s := newSession(userID, sessionDeps{
		records:    m.opts.Records,
		docs:       m.opts.Documents,
		dispatcher: m.opts.Dispatcher,
		confirms:   m.confirms,
		publisher:  m.opts.Publisher,
		audit:      m.opts.Activity,
		logger:     m.logger,
		buffer:     m.opts.EventBuffer,
	})
	if err := s.start(); err != nil {
		s.stop()
		return nil, fmt.Errorf("open vsir session: %w", err)
	}
	m.sessions[userID] = s
	m.logger.Info("vsir session opened", zap.String("user_id", userID), zap.Int("sessions", len(m.sessions)))
	return s, nil
}

// Logout closes the operator's session. Its subscriptions are released
// before Logout returns.
func (m *Manager) Logout(ctx context.Context, userID string) error {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()
	if !ok {
		return ErrNotAuthenticated
	}
	s.stop()
	m.logger.Info("vsir session closed", zap.String("user_id", userID))
	return nil
}

// Get returns the operator's open session.
func (m *Manager) Get(userID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		return nil, ErrNotAuthenticated
	}
	return s, nil
}

// Close ends every session.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	for _, s := range sessions {
		s.stop()
	}
}
