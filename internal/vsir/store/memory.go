package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sooshee9/AIR01/internal/vsir/entity"
)

// MemoryRecords is an in-memory RecordRepository. Rows keep insertion order.
// The Fail* hooks let tests make single operations reject.
type MemoryRecords struct {
	mu    sync.RWMutex
	rows  []entity.Record
	nowFn func() time.Time

	FailCreate func(r *entity.Record) error
	FailUpdate func(id string) error
	FailDelete func(id string) error
}

func NewMemoryRecords() *MemoryRecords {
	return &MemoryRecords{nowFn: func() time.Time { return time.Now().UTC() }}
}

func (m *MemoryRecords) indexOf(userID, id string) int {
	for i := range m.rows {
		if m.rows[i].ID == id && m.rows[i].UserID == userID {
			return i
		}
	}
	return -1
}

func (m *MemoryRecords) Create(_ context.Context, r *entity.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCreate != nil {
		if err := m.FailCreate(r); err != nil {
			return err
		}
	}
	if m.indexOf(r.UserID, r.ID) >= 0 {
		return fmt.Errorf("duplicate id %s", r.ID)
	}
	now := m.nowFn()
	r.CreatedAt, r.UpdatedAt = now, now
	m.rows = append(m.rows, *r)
	return nil
}

func (m *MemoryRecords) Update(_ context.Context, userID, id string, fields map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailUpdate != nil {
		if err := m.FailUpdate(id); err != nil {
			return err
		}
	}
	i := m.indexOf(userID, id)
	if i < 0 {
		return ErrNotFound
	}
	m.rows[i].Apply(fields)
	m.rows[i].UpdatedAt = m.nowFn()
	return nil
}

func (m *MemoryRecords) Delete(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailDelete != nil {
		if err := m.FailDelete(id); err != nil {
			return err
		}
	}
	i := m.indexOf(userID, id)
	if i < 0 {
		return ErrNotFound
	}
	m.rows = append(m.rows[:i], m.rows[i+1:]...)
	return nil
}

func (m *MemoryRecords) FindAll(_ context.Context, userID string) ([]entity.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]entity.Record, 0, len(m.rows))
	for _, r := range m.rows {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

// MemoryDocuments is an in-memory DocumentRepository.
type MemoryDocuments struct {
	mu    sync.RWMutex
	rows  []entity.Document
	nowFn func() time.Time
}

func NewMemoryDocuments() *MemoryDocuments {
	return &MemoryDocuments{nowFn: func() time.Time { return time.Now().UTC() }}
}

func cloneData(in entity.JSONB) entity.JSONB {
	if in == nil {
		return nil
	}
	out := make(entity.JSONB, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (m *MemoryDocuments) indexOf(userID string, c entity.Collection, id string) int {
	for i := range m.rows {
		d := &m.rows[i]
		if d.ID == id && d.UserID == userID && d.Collection == c {
			return i
		}
	}
	return -1
}

func (m *MemoryDocuments) Create(_ context.Context, d *entity.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.indexOf(d.UserID, d.Collection, d.ID) >= 0 {
		return fmt.Errorf("duplicate id %s", d.ID)
	}
	now := m.nowFn()
	d.CreatedAt, d.UpdatedAt = now, now
	cp := *d
	cp.Data = cloneData(d.Data)
	m.rows = append(m.rows, cp)
	return nil
}

func (m *MemoryDocuments) Update(_ context.Context, userID string, c entity.Collection, id string, data map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(userID, c, id)
	if i < 0 {
		return ErrNotFound
	}
	merged := cloneData(m.rows[i].Data)
	if merged == nil {
		merged = entity.JSONB{}
	}
	for k, v := range data {
		merged[k] = v
	}
	m.rows[i].Data = merged
	m.rows[i].UpdatedAt = m.nowFn()
	return nil
}

func (m *MemoryDocuments) Delete(_ context.Context, userID string, c entity.Collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(userID, c, id)
	if i < 0 {
		return ErrNotFound
	}
	m.rows = append(m.rows[:i], m.rows[i+1:]...)
	return nil
}

func (m *MemoryDocuments) FindAll(_ context.Context, userID string, c entity.Collection) ([]entity.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]entity.Document, 0)
	for _, d := range m.rows {
		if d.UserID == userID && d.Collection == c {
			cp := d
			cp.Data = cloneData(d.Data)
			out = append(out, cp)
		}
	}
	return out, nil
}

// MemoryActivityLogs is an in-memory ActivityLogRepository.
type MemoryActivityLogs struct {
	mu   sync.RWMutex
	rows []entity.ActivityLog
}

func NewMemoryActivityLogs() *MemoryActivityLogs {
	return &MemoryActivityLogs{}
}

func (m *MemoryActivityLogs) Create(_ context.Context, log *entity.ActivityLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	m.rows = append(m.rows, *log)
	return nil
}

// FindByUser returns the newest rows first.
func (m *MemoryActivityLogs) FindByUser(_ context.Context, userID string, limit int) ([]entity.ActivityLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []entity.ActivityLog
	for i := len(m.rows) - 1; i >= 0; i-- {
		if m.rows[i].UserID != userID {
			continue
		}
		out = append(out, m.rows[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
