package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sooshee9/AIR01/internal/vsir/entity"
	"github.com/sooshee9/AIR01/internal/vsir/store"
)

// DocumentRepository reference documents, one table for every collection
type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(ctx context.Context, d *entity.Document) error {
	if d.ID == "" {
		d.ID = uuid.New().String()[:32]
	}
	return r.db.WithContext(ctx).Create(d).Error
}

// Update merges data into the stored body.
func (r *DocumentRepository) Update(ctx context.Context, userID string, c entity.Collection, id string, data map[string]interface{}) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc entity.Document
		err := tx.Where("id = ? AND user_id = ? AND collection = ?", id, userID, c).First(&doc).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return store.ErrNotFound
			}
			return err
		}
		if doc.Data == nil {
			doc.Data = entity.JSONB{}
		}
		for k, v := range data {
			doc.Data[k] = v
		}
		return tx.Model(&entity.Document{}).
			Where("id = ? AND user_id = ? AND collection = ?", id, userID, c).
			Updates(map[string]interface{}{
				"data":       doc.Data,
				"updated_at": time.Now(),
			}).Error
	})
}

func (r *DocumentRepository) Delete(ctx context.Context, userID string, c entity.Collection, id string) error {
	result := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ? AND collection = ?", id, userID, c).
		Delete(&entity.Document{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *DocumentRepository) FindAll(ctx context.Context, userID string, c entity.Collection) ([]entity.Document, error) {
	var items []entity.Document
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND collection = ?", userID, c).
		Order("created_at ASC, id ASC").
		Find(&items).Error
	return items, err
}
