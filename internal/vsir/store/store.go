// Package store is the collection store the VSIR module reads and writes:
// owner-scoped CRUD plus live subscriptions delivering full snapshots.
package store

import (
	"context"
	"errors"
	"sync"

	"github.com/sooshee9/AIR01/internal/vsir/entity"
)

var ErrNotFound = errors.New("record not found")

// Unsubscribe stops a live subscription. When it returns no further snapshot
// is delivered.
type Unsubscribe func()

// RecordStore is the primary shipment-receipt collection.
type RecordStore interface {
	Subscribe(ctx context.Context, userID string, fn func([]entity.Record)) (Unsubscribe, error)
	Add(ctx context.Context, userID string, r *entity.Record) error
	Update(ctx context.Context, userID, id string, fields map[string]interface{}) error
	Delete(ctx context.Context, userID, id string) error
	GetAll(ctx context.Context, userID string) ([]entity.Record, error)
}

// DocumentStore holds the reference collections owned by other modules.
type DocumentStore interface {
	Subscribe(ctx context.Context, userID string, c entity.Collection, fn func([]entity.Document)) (Unsubscribe, error)
	Add(ctx context.Context, userID string, d *entity.Document) error
	Update(ctx context.Context, userID string, c entity.Collection, id string, data map[string]interface{}) error
	Delete(ctx context.Context, userID string, c entity.Collection, id string) error
	GetAll(ctx context.Context, userID string, c entity.Collection) ([]entity.Document, error)
}

// RecordRepository is the persistence backend under a RecordStore.
type RecordRepository interface {
	Create(ctx context.Context, r *entity.Record) error
	Update(ctx context.Context, userID, id string, fields map[string]interface{}) error
	Delete(ctx context.Context, userID, id string) error
	FindAll(ctx context.Context, userID string) ([]entity.Record, error)
}

// DocumentRepository is the persistence backend under a DocumentStore.
type DocumentRepository interface {
	Create(ctx context.Context, d *entity.Document) error
	Update(ctx context.Context, userID string, c entity.Collection, id string, data map[string]interface{}) error
	Delete(ctx context.Context, userID string, c entity.Collection, id string) error
	FindAll(ctx context.Context, userID string, c entity.Collection) ([]entity.Document, error)
}

// ActivityLogRepository stores audit rows.
type ActivityLogRepository interface {
	Create(ctx context.Context, log *entity.ActivityLog) error
	FindByUser(ctx context.Context, userID string, limit int) ([]entity.ActivityLog, error)
}

// Group owns a set of live subscriptions released together.
type Group struct {
	mu   sync.Mutex
	subs []Unsubscribe
}

// Add places u under the group.
func (g *Group) Add(u Unsubscribe) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subs = append(g.subs, u)
}

// Len returns the number of held subscriptions.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs)
}

// Release synchronously stops every subscription of the group and empties it.
func (g *Group) Release() {
	g.mu.Lock()
	subs := g.subs
	g.subs = nil
	g.mu.Unlock()
	for _, u := range subs {
		u()
	}
}
