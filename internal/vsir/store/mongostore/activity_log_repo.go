package mongostore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sooshee9/AIR01/internal/vsir/entity"
)

type ActivityLogRepository struct {
	coll *mongo.Collection
}

func NewActivityLogRepository(db *mongo.Database) *ActivityLogRepository {
	return &ActivityLogRepository{coll: db.Collection(logsCollection)}
}

func (r *ActivityLogRepository) Create(ctx context.Context, log *entity.ActivityLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()[:32]
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	_, err := r.coll.InsertOne(ctx, bson.M{
		"_id":         log.ID,
		"user_id":     log.UserID,
		"entity_type": log.EntityType,
		"entity_id":   log.EntityID,
		"action":      log.Action,
		"content":     log.Content,
		"metadata":    bson.M(log.Metadata),
		"created_at":  log.CreatedAt,
	})
	return err
}

func (r *ActivityLogRepository) FindByUser(ctx context.Context, userID string, limit int) ([]entity.ActivityLog, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := r.coll.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []entity.ActivityLog
	for cur.Next(ctx) {
		var row struct {
			ID         string    `bson:"_id"`
			UserID     string    `bson:"user_id"`
			EntityType string    `bson:"entity_type"`
			EntityID   string    `bson:"entity_id"`
			Action     string    `bson:"action"`
			Content    string    `bson:"content"`
			Metadata   bson.M    `bson:"metadata"`
			CreatedAt  time.Time `bson:"created_at"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		l := entity.ActivityLog{
			ID:         row.ID,
			UserID:     row.UserID,
			EntityType: row.EntityType,
			EntityID:   row.EntityID,
			Action:     row.Action,
			Content:    row.Content,
			CreatedAt:  row.CreatedAt,
		}
		if row.Metadata != nil {
			l.Metadata = entity.JSONB(plain(row.Metadata).(map[string]interface{}))
		}
		out = append(out, l)
	}
	return out, cur.Err()
}
