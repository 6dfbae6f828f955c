package refcache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sooshee9/AIR01/internal/vsir/entity"
	"github.com/sooshee9/AIR01/internal/vsir/store"
	"github.com/sooshee9/AIR01/internal/vsir/store/notify"
)

type collector struct {
	mu sync.Mutex
	ds []Delivery
}

func (c *collector) sink(d Delivery) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ds = append(c.ds, d)
}

func (c *collector) drain() []Delivery {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.ds
	c.ds = nil
	return out
}

func (c *collector) waitN(t *testing.T, n int) []Delivery {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		got := len(c.ds)
		c.mu.Unlock()
		if got >= n {
			return c.drain()
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d deliveries", n)
	return nil
}

func newStores() (*store.Records, *store.Documents) {
	hub := notify.NewHub(nil)
	return store.NewRecords(store.NewMemoryRecords(), hub, nil),
		store.NewDocuments(store.NewMemoryDocuments(), hub, nil)
}

func TestSetIdentitySubscribesEveryCollection(t *testing.T) {
	ctx := context.Background()
	records, docs := newStores()
	docs.Add(ctx, "u1", &entity.Document{Collection: entity.CollectionVendorDepts, Data: entity.JSONB{"materialPurchasePoNo": "PO9", "vendorBatchNo": "24/V2"}})
	docs.Add(ctx, "u1", &entity.Document{Collection: entity.CollectionItemMaster, Data: entity.JSONB{"itemName": "Bolt", "itemCode": "B1"}})
	docs.Add(ctx, "u1", &entity.Document{Collection: entity.CollectionItemMaster, Data: entity.JSONB{"itemName": "NoCode"}})

	col := &collector{}
	c := New(records, docs, col.sink, nil)
	defer c.Close()

	if err := c.SetIdentity(ctx, "u1"); err != nil {
		t.Fatalf("SetIdentity: %v", err)
	}
	ds := col.waitN(t, 1+len(entity.ReferenceCollections))
	for _, d := range ds {
		if !c.Apply(d) {
			t.Fatalf("current delivery for %s rejected", d.Collection)
		}
	}

	if got := c.VendorDepts(); len(got) != 1 || got[0].VendorBatchNo != "24/V2" {
		t.Fatalf("unexpected depts %+v", got)
	}
	if got := c.ItemMaster(); len(got) != 1 || got[0].ItemCode != "B1" {
		t.Fatalf("item master filter failed: %+v", got)
	}
	if !c.Loaded(entity.CollectionRecords) || !c.Loaded(entity.CollectionPSIR) {
		t.Fatal("expected every collection to be loaded")
	}
	if c.PurchaseData() == nil {
		t.Fatal("empty collections read as empty, not nil")
	}
}

func TestLogoutClearsAndDropsStale(t *testing.T) {
	ctx := context.Background()
	records, docs := newStores()
	docs.Add(ctx, "u1", &entity.Document{Collection: entity.CollectionPSIR, Data: entity.JSONB{"poNo": "PO1", "indentNo": "IN1"}})

	col := &collector{}
	c := New(records, docs, col.sink, nil)
	c.SetIdentity(ctx, "u1")
	ds := col.waitN(t, 1+len(entity.ReferenceCollections))
	var stale Delivery
	for _, d := range ds {
		c.Apply(d)
		if d.Collection == entity.CollectionPSIR {
			stale = d
		}
	}
	if len(c.PSIR()) != 1 {
		t.Fatal("expected psir snapshot")
	}

	if err := c.SetIdentity(ctx, ""); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if len(c.PSIR()) != 0 || c.Loaded(entity.CollectionPSIR) || c.Identity() != "" {
		t.Fatal("logout must clear every collection")
	}
	if c.Apply(stale) {
		t.Fatal("delivery from released generation must be dropped")
	}
	if len(c.PSIR()) != 0 {
		t.Fatal("stale delivery leaked into the cache")
	}

	// writes after logout reach nobody
	docs.Add(ctx, "u1", &entity.Document{Collection: entity.CollectionPSIR, Data: entity.JSONB{"poNo": "PO2"}})
	time.Sleep(50 * time.Millisecond)
	if got := col.drain(); len(got) != 0 {
		t.Fatalf("released subscriptions delivered %d snapshots", len(got))
	}
}

func TestIdentitySwitchIsolatesUsers(t *testing.T) {
	ctx := context.Background()
	records, docs := newStores()
	docs.Add(ctx, "u1", &entity.Document{Collection: entity.CollectionPSIR, Data: entity.JSONB{"poNo": "U1"}})
	docs.Add(ctx, "u2", &entity.Document{Collection: entity.CollectionPSIR, Data: entity.JSONB{"poNo": "U2"}})

	col := &collector{}
	c := New(records, docs, col.sink, nil)
	defer c.Close()
	c.SetIdentity(ctx, "u1")
	first := col.waitN(t, 1+len(entity.ReferenceCollections))
	c.SetIdentity(ctx, "u2")
	second := col.waitN(t, 1+len(entity.ReferenceCollections))

	for _, d := range first {
		c.Apply(d)
	}
	if len(c.PSIR()) != 0 {
		t.Fatal("u1 snapshot applied after switching to u2")
	}
	for _, d := range second {
		c.Apply(d)
	}
	if got := c.PSIR(); len(got) != 1 || got[0].PONo != "U2" {
		t.Fatalf("expected u2 psir, got %+v", got)
	}
	if c.Generation() != 2 {
		t.Fatalf("expected generation 2, got %d", c.Generation())
	}
}
