package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sooshee9/AIR01/internal/vsir/entity"
	"github.com/sooshee9/AIR01/internal/vsir/reconcile"
	"github.com/sooshee9/AIR01/internal/vsir/store"
)

// ActivityService 操作日志
type ActivityService struct {
	repo   store.ActivityLogRepository
	logger *zap.Logger
	wg     sync.WaitGroup
}

func NewActivityService(repo store.ActivityLogRepository, logger *zap.Logger) *ActivityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActivityService{repo: repo, logger: logger}
}

// Log writes an audit row in the background. Failures are only logged.
func (s *ActivityService) Log(userID, action, entityType, entityID, content string, meta entity.JSONB) {
	if s == nil || s.repo == nil {
		return
	}
	row := &entity.ActivityLog{
		ID:         uuid.New().String()[:32],
		UserID:     userID,
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Content:    content,
		Metadata:   meta,
		CreatedAt:  time.Now(),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.repo.Create(ctx, row); err != nil {
			s.logger.Warn("write activity log failed", zap.String("action", action), zap.Error(err))
		}
	}()
}

// LogResult records a successful rule write.
func (s *ActivityService) LogResult(res reconcile.Result) {
	if res.Err != nil {
		return
	}
	var action string
	switch res.Rule {
	case reconcile.RuleAutoImport:
		action = entity.ActionAutoImport
	case reconcile.RuleAutoDeleteAll:
		action = entity.ActionAutoDelete
	default:
		action = entity.ActionAutoFill
	}
	content := fmt.Sprintf("%s %s by %s", res.Op, res.RecordID, res.Rule)
	if res.Key != "" {
		content += " (" + res.Key + ")"
	}
	meta := entity.JSONB{"rule": res.Rule, "op": string(res.Op)}
	if len(res.Fields) > 0 {
		meta["fields"] = map[string]interface{}(res.Fields)
	}
	s.Log(res.UserID, action, "record", res.RecordID, content, meta)
}

func (s *ActivityService) List(ctx context.Context, userID string, limit int) ([]entity.ActivityLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	logs, err := s.repo.FindByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity logs: %w", err)
	}
	return logs, nil
}

// Wait blocks until queued writes finish.
func (s *ActivityService) Wait() {
	if s != nil {
		s.wg.Wait()
	}
}
