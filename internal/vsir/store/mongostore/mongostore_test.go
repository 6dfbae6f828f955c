package mongostore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/sooshee9/AIR01/internal/vsir/entity"
	"github.com/sooshee9/AIR01/internal/vsir/match"
)

func TestPlainFlattensBSON(t *testing.T) {
	in := bson.M{
		"poNo": "PO1",
		"qty":  int32(4),
		"items": bson.A{
			bson.D{{Key: "itemCode", Value: "A"}},
			bson.M{"itemCode": "B"},
		},
	}
	got, ok := plain(in).(map[string]interface{})
	if !ok {
		t.Fatalf("expected plain map, got %T", plain(in))
	}
	if got["qty"] != float64(4) {
		t.Fatalf("expected int32 to widen to float64, got %T", got["qty"])
	}
	items := match.ExtractLineItems(got)
	if len(items) != 2 || items[0]["itemCode"] != "A" || items[1]["itemCode"] != "B" {
		t.Fatalf("unexpected items %v", items)
	}
}

func TestRepositoriesAgainstServer(t *testing.T) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set")
	}
	ctx := context.Background()
	client, err := Connect(ctx, uri)
	if err != nil {
		t.Skipf("mongo not reachable: %v", err)
	}
	db := client.Database(fmt.Sprintf("vsir_test_%d", time.Now().UnixNano()%1000000))
	t.Cleanup(func() {
		db.Drop(context.Background())
		client.Disconnect(context.Background())
	})
	if err := EnsureIndexes(ctx, db); err != nil {
		t.Fatalf("EnsureIndexes: %v", err)
	}

	records := NewRecordRepository(db)
	rec := &entity.Record{UserID: "u1", PONo: "PO1", ItemCode: "A"}
	if err := records.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := records.Update(ctx, "u1", rec.ID, map[string]interface{}{entity.FieldOANo: "OA1"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err := records.FindAll(ctx, "u1")
	if err != nil || len(got) != 1 || got[0].OANo != "OA1" {
		t.Fatalf("unexpected records %+v err=%v", got, err)
	}

	docs := NewDocumentRepository(db)
	d := &entity.Document{UserID: "u1", Collection: entity.CollectionVendorIssues, Data: entity.JSONB{
		"poNo":  "PO1",
		"items": []interface{}{map[string]interface{}{"itemCode": "A"}},
	}}
	if err := docs.Create(ctx, d); err != nil {
		t.Fatalf("Create doc: %v", err)
	}
	list, err := docs.FindAll(ctx, "u1", entity.CollectionVendorIssues)
	if err != nil || len(list) != 1 {
		t.Fatalf("unexpected docs %+v err=%v", list, err)
	}
	if issue := entity.NewVendorIssue(list[0]); !issue.HasItem("A") {
		t.Fatalf("expected decoded issue to list item A: %+v", issue)
	}
}
