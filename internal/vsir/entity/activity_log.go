package entity

import "time"

// ActivityLog VSIR audit row
type ActivityLog struct {
	ID         string `json:"id" gorm:"primaryKey;size:32" bson:"_id"`
	UserID     string `json:"user_id" gorm:"size:64;not null;index" bson:"user_id"`
	EntityType string `json:"entity_type" gorm:"size:50;not null" bson:"entity_type"` // record/batch
	EntityID   string `json:"entity_id" gorm:"size:32" bson:"entity_id"`

	Action  string `json:"action" gorm:"size:50;not null" bson:"action"` // submit/auto_import/auto_delete/auto_fill
	Content string `json:"content" gorm:"type:text" bson:"content"`

	Metadata  JSONB     `json:"metadata" gorm:"type:jsonb" bson:"metadata"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

func (ActivityLog) TableName() string {
	return "vsir_activity_logs"
}

// Activity actions
const (
	ActionSubmitCreate = "submit_create"
	ActionSubmitUpdate = "submit_update"
	ActionDelete       = "delete"
	ActionAutoImport   = "auto_import"
	ActionAutoDelete   = "auto_delete"
	ActionAutoFill     = "auto_fill"
)
