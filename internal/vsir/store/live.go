package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sooshee9/AIR01/internal/vsir/entity"
	"github.com/sooshee9/AIR01/internal/vsir/store/notify"
)

// watch delivers fetch() to fn once at start and again after every change
// signal on topic. Deliveries are serialized; none happen after the returned
// Unsubscribe has returned.
func watch[T any](ctx context.Context, n notify.Notifier, topic string, fetch func(context.Context) ([]T, error), fn func([]T), logger *zap.Logger) (Unsubscribe, error) {
	sub, err := n.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}

	wctx, cancel := context.WithCancel(context.Background())
	var (
		mu     sync.Mutex
		closed bool
		done   = make(chan struct{})
	)

	deliver := func() {
		items, err := fetch(wctx)
		if err != nil {
			if wctx.Err() == nil {
				logger.Warn("snapshot fetch failed", zap.String("topic", topic), zap.Error(err))
			}
			return
		}
		if items == nil {
			items = []T{}
		}
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			fn(items)
		}
	}

	go func() {
		defer close(done)
		deliver()
		for {
			select {
			case <-wctx.Done():
				return
			case _, ok := <-sub.C():
				if !ok {
					return
				}
				deliver()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			mu.Lock()
			closed = true
			mu.Unlock()
			cancel()
			sub.Close()
			<-done
		})
	}, nil
}

// Records is a RecordStore over a repository and a change notifier.
type Records struct {
	repo     RecordRepository
	notifier notify.Notifier
	logger   *zap.Logger
}

func NewRecords(repo RecordRepository, n notify.Notifier, logger *zap.Logger) *Records {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Records{repo: repo, notifier: n, logger: logger}
}

func (s *Records) topic(userID string) string {
	return notify.Topic(userID, string(entity.CollectionRecords))
}

func (s *Records) changed(ctx context.Context, userID string) {
	if err := s.notifier.Publish(ctx, s.topic(userID)); err != nil {
		s.logger.Warn("change notify failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *Records) Subscribe(ctx context.Context, userID string, fn func([]entity.Record)) (Unsubscribe, error) {
	fetch := func(ctx context.Context) ([]entity.Record, error) {
		return s.repo.FindAll(ctx, userID)
	}
	return watch(ctx, s.notifier, s.topic(userID), fetch, fn, s.logger)
}

// Add creates r under userID. An empty ID is assigned here.
func (s *Records) Add(ctx context.Context, userID string, r *entity.Record) error {
	if r.ID == "" {
		r.ID = uuid.New().String()[:32]
	}
	r.UserID = userID
	if err := s.repo.Create(ctx, r); err != nil {
		return fmt.Errorf("create record: %w", err)
	}
	s.changed(ctx, userID)
	return nil
}

func (s *Records) Update(ctx context.Context, userID, id string, fields map[string]interface{}) error {
	if err := s.repo.Update(ctx, userID, id, entity.NormalizeFields(fields)); err != nil {
		return fmt.Errorf("update record %s: %w", id, err)
	}
	s.changed(ctx, userID)
	return nil
}

func (s *Records) Delete(ctx context.Context, userID, id string) error {
	if err := s.repo.Delete(ctx, userID, id); err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	s.changed(ctx, userID)
	return nil
}

func (s *Records) GetAll(ctx context.Context, userID string) ([]entity.Record, error) {
	return s.repo.FindAll(ctx, userID)
}

// Documents is a DocumentStore over a repository and a change notifier.
type Documents struct {
	repo     DocumentRepository
	notifier notify.Notifier
	logger   *zap.Logger
}

func NewDocuments(repo DocumentRepository, n notify.Notifier, logger *zap.Logger) *Documents {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Documents{repo: repo, notifier: n, logger: logger}
}

func (s *Documents) changed(ctx context.Context, userID string, c entity.Collection) {
	if err := s.notifier.Publish(ctx, notify.Topic(userID, string(c))); err != nil {
		s.logger.Warn("change notify failed", zap.String("user_id", userID), zap.String("collection", string(c)), zap.Error(err))
	}
}

func (s *Documents) Subscribe(ctx context.Context, userID string, c entity.Collection, fn func([]entity.Document)) (Unsubscribe, error) {
	fetch := func(ctx context.Context) ([]entity.Document, error) {
		return s.repo.FindAll(ctx, userID, c)
	}
	return watch(ctx, s.notifier, notify.Topic(userID, string(c)), fetch, fn, s.logger)
}

func (s *Documents) Add(ctx context.Context, userID string, d *entity.Document) error {
	if d.ID == "" {
		d.ID = uuid.New().String()[:32]
	}
	d.UserID = userID
	if err := s.repo.Create(ctx, d); err != nil {
		return fmt.Errorf("create %s document: %w", d.Collection, err)
	}
	s.changed(ctx, userID, d.Collection)
	return nil
}

func (s *Documents) Update(ctx context.Context, userID string, c entity.Collection, id string, data map[string]interface{}) error {
	if err := s.repo.Update(ctx, userID, c, id, data); err != nil {
		return fmt.Errorf("update %s document %s: %w", c, id, err)
	}
	s.changed(ctx, userID, c)
	return nil
}

func (s *Documents) Delete(ctx context.Context, userID string, c entity.Collection, id string) error {
	if err := s.repo.Delete(ctx, userID, c, id); err != nil {
		return fmt.Errorf("delete %s document %s: %w", c, id, err)
	}
	s.changed(ctx, userID, c)
	return nil
}

func (s *Documents) GetAll(ctx context.Context, userID string, c entity.Collection) ([]entity.Document, error) {
	return s.repo.FindAll(ctx, userID, c)
}
