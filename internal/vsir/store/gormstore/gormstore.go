// Package gormstore is the postgres backend of the VSIR store.
package gormstore

import (
	"gorm.io/gorm"

	"github.com/sooshee9/AIR01/internal/vsir/entity"
)

// Repositories VSIR仓库集合
type Repositories struct {
	Record      *RecordRepository
	Document    *DocumentRepository
	ActivityLog *ActivityLogRepository
}

func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Record:      NewRecordRepository(db),
		Document:    NewDocumentRepository(db),
		ActivityLog: NewActivityLogRepository(db),
	}
}

// AutoMigrate creates or updates the VSIR tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&entity.Record{},
		&entity.Document{},
		&entity.ActivityLog{},
	)
}
