package mongostore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sooshee9/AIR01/internal/vsir/entity"
	"github.com/sooshee9/AIR01/internal/vsir/store"
)

type DocumentRepository struct {
	coll *mongo.Collection
}

func NewDocumentRepository(db *mongo.Database) *DocumentRepository {
	return &DocumentRepository{coll: db.Collection(documentsCollection)}
}

// docRow is the stored shape; data stays a raw bson document until plain() flattens it.
type docRow struct {
	ID         string    `bson:"_id"`
	UserID     string    `bson:"user_id"`
	Collection string    `bson:"collection"`
	Data       bson.M    `bson:"data"`
	CreatedAt  time.Time `bson:"created_at"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

func (row docRow) toEntity() entity.Document {
	d := entity.Document{
		ID:         row.ID,
		UserID:     row.UserID,
		Collection: entity.Collection(row.Collection),
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}
	if row.Data != nil {
		d.Data = entity.JSONB(plain(row.Data).(map[string]interface{}))
	}
	return d
}

func (r *DocumentRepository) Create(ctx context.Context, d *entity.Document) error {
	if d.ID == "" {
		d.ID = uuid.New().String()[:32]
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	_, err := r.coll.InsertOne(ctx, docRow{
		ID:         d.ID,
		UserID:     d.UserID,
		Collection: string(d.Collection),
		Data:       bson.M(d.Data),
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	})
	return err
}

// Update sets the given top-level keys of data.
func (r *DocumentRepository) Update(ctx context.Context, userID string, c entity.Collection, id string, data map[string]interface{}) error {
	set := bson.M{"updated_at": time.Now().UTC()}
	for k, v := range data {
		set["data."+k] = v
	}
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "user_id": userID, "collection": string(c)},
		bson.M{"$set": set},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *DocumentRepository) Delete(ctx context.Context, userID string, c entity.Collection, id string) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id, "user_id": userID, "collection": string(c)})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *DocumentRepository) FindAll(ctx context.Context, userID string, c entity.Collection) ([]entity.Document, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := r.coll.Find(ctx, bson.M{"user_id": userID, "collection": string(c)}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []entity.Document{}
	for cur.Next(ctx) {
		var row docRow
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		out = append(out, row.toEntity())
	}
	return out, cur.Err()
}
