// Package refcache keeps the latest snapshot of every reference collection for
// the signed-in operator and owns the live subscriptions feeding them.
package refcache

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/sooshee9/AIR01/internal/vsir/entity"
	"github.com/sooshee9/AIR01/internal/vsir/store"
)

// Delivery is one snapshot handed to the sink. Gen identifies the identity
// epoch that produced it.
type Delivery struct {
	Gen        uint64
	Collection entity.Collection
	Docs       []entity.Document
	Records    []entity.Record
}

// Sink receives deliveries from subscription goroutines. It must not block.
type Sink func(Delivery)

// Cache holds the reference snapshots of one session.
type Cache struct {
	records store.RecordStore
	docs    store.DocumentStore
	sink    Sink
	logger  *zap.Logger

	mu     sync.RWMutex
	userID string
	gen    uint64
	group  store.Group
	loaded map[entity.Collection]bool

	depts      []entity.VendorDept
	issues     []entity.VendorIssue
	purchData  []entity.Document
	purchOrder []entity.Document
	psir       []entity.PSIR
	itemMaster []entity.ItemMasterEntry
}

func New(records store.RecordStore, docs store.DocumentStore, sink Sink, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		records: records,
		docs:    docs,
		sink:    sink,
		logger:  logger,
		loaded:  make(map[entity.Collection]bool),
	}
}

// SetIdentity tears down every subscription of the previous identity, clears
// all snapshots and, for a non-empty userID, subscribes the primary and every
// reference collection. Nothing from the previous identity is delivered after
// it returns.
func (c *Cache) SetIdentity(ctx context.Context, userID string) error {
	c.group.Release()

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.userID = userID
	c.clearLocked()
	c.mu.Unlock()

	if userID == "" {
		c.logger.Info("reference cache cleared")
		return nil
	}

	unsub, err := c.records.Subscribe(ctx, userID, func(items []entity.Record) {
		c.sink(Delivery{Gen: gen, Collection: entity.CollectionRecords, Records: items})
	})
	if err != nil {
		c.group.Release()
		return fmt.Errorf("subscribe records: %w", err)
	}
	c.group.Add(unsub)

	for _, coll := range entity.ReferenceCollections {
		coll := coll
		unsub, err := c.docs.Subscribe(ctx, userID, coll, func(docs []entity.Document) {
			c.sink(Delivery{Gen: gen, Collection: coll, Docs: docs})
		})
		if err != nil {
			c.group.Release()
			return fmt.Errorf("subscribe %s: %w", coll, err)
		}
		c.group.Add(unsub)
	}
	c.logger.Info("reference cache subscribed",
		zap.String("user_id", userID),
		zap.Uint64("generation", gen),
		zap.Int("subscriptions", c.group.Len()))
	return nil
}

func (c *Cache) clearLocked() {
	c.loaded = make(map[entity.Collection]bool)
	c.depts = nil
	c.issues = nil
	c.purchData = nil
	c.purchOrder = nil
	c.psir = nil
	c.itemMaster = nil
}

// Apply stores a delivery. It returns false and changes nothing when the
// delivery belongs to a released generation.
func (c *Cache) Apply(d Delivery) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d.Gen != c.gen || c.userID == "" {
		c.logger.Debug("stale delivery dropped",
			zap.String("collection", string(d.Collection)),
			zap.Uint64("generation", d.Gen),
			zap.Uint64("current", c.gen))
		return false
	}
	c.loaded[d.Collection] = true

	switch d.Collection {
	case entity.CollectionVendorDepts:
		c.depts = make([]entity.VendorDept, 0, len(d.Docs))
		for _, doc := range d.Docs {
			c.depts = append(c.depts, entity.NewVendorDept(doc))
		}
	case entity.CollectionVendorIssues:
		c.issues = make([]entity.VendorIssue, 0, len(d.Docs))
		for _, doc := range d.Docs {
			c.issues = append(c.issues, entity.NewVendorIssue(doc))
		}
	case entity.CollectionPurchaseData:
		c.purchData = nonNil(d.Docs)
	case entity.CollectionPurchaseOrders:
		c.purchOrder = nonNil(d.Docs)
	case entity.CollectionPSIR:
		c.psir = make([]entity.PSIR, 0, len(d.Docs))
		for _, doc := range d.Docs {
			c.psir = append(c.psir, entity.NewPSIR(doc))
		}
	case entity.CollectionItemMaster:
		c.itemMaster = make([]entity.ItemMasterEntry, 0, len(d.Docs))
		for _, doc := range d.Docs {
			if e, ok := entity.ParseItemMaster(doc); ok {
				c.itemMaster = append(c.itemMaster, e)
			}
		}
	}
	return true
}

// Fetch reloads one reference collection with a one-shot read.
func (c *Cache) Fetch(ctx context.Context, coll entity.Collection) error {
	c.mu.RLock()
	userID, gen := c.userID, c.gen
	c.mu.RUnlock()
	if userID == "" {
		return nil
	}
	docs, err := c.docs.GetAll(ctx, userID, coll)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", coll, err)
	}
	c.Apply(Delivery{Gen: gen, Collection: coll, Docs: docs})
	return nil
}

// Close releases every subscription.
func (c *Cache) Close() {
	c.group.Release()
}

func nonNil(in []entity.Document) []entity.Document {
	if in == nil {
		return []entity.Document{}
	}
	return in
}

func (c *Cache) Identity() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Cache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// Loaded reports whether coll has delivered at least once for the current identity.
func (c *Cache) Loaded(coll entity.Collection) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded[coll]
}

// The getters return the cached slices; callers must not modify them.

func (c *Cache) VendorDepts() []entity.VendorDept {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.depts
}

func (c *Cache) VendorIssues() []entity.VendorIssue {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.issues
}

func (c *Cache) PurchaseData() []entity.Document {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.purchData
}

func (c *Cache) PurchaseOrders() []entity.Document {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.purchOrder
}

func (c *Cache) PSIR() []entity.PSIR {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.psir
}

func (c *Cache) ItemMaster() []entity.ItemMasterEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.itemMaster
}
