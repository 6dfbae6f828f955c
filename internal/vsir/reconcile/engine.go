// Package reconcile keeps the operator's shipment-receipt records consistent
// with the reference collections. Rules plan against the current snapshots;
// the engine applies plans in memory and hands the store writes to a
// Dispatcher.
//
// An Engine is not safe for concurrent use. It is driven from a single event
// loop, and write results must be fed back through Complete on that loop.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/sooshee9/AIR01/internal/vsir/entity"
)

// Source is the read side of the reference cache.
type Source interface {
	Identity() string
	VendorDepts() []entity.VendorDept
	VendorIssues() []entity.VendorIssue
	PurchaseData() []entity.Document
	PurchaseOrders() []entity.Document
	PSIR() []entity.PSIR
	Loaded(c entity.Collection) bool
}

// Notice is an operator-facing message.
type Notice struct {
	Level   string `json:"level"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

// Config wires an Engine to its inputs and outputs.
type Config struct {
	Source     Source
	Dispatcher Dispatcher
	Confirmer  Confirmer
	Logger     *zap.Logger
	Rules      []Rule
	NewID      func() string

	// Post hands a write result back to the goroutine driving the engine.
	Post func(Result)

	OnChange func([]entity.Record)
	OnNotice func(Notice)
	OnResult func(Result)
}

// ledgerKey identifies the last write of one rule to one record.
type ledgerKey struct {
	rule string
	id   string
}

// ledgerEntry remembers the last patch written by a rule for a record and
// the values it replaced.
type ledgerEntry struct {
	fingerprint string
	fields      map[string]interface{}
	before      map[string]string
}

// Engine holds one operator's record set and runs the rules over it.
type Engine struct {
	cfg    Config
	logger *zap.Logger

	records    []entity.Record
	keys       map[string]struct{}
	autoImport bool
	autoDelete bool

	ledger   map[ledgerKey]ledgerEntry
	deleting map[string]bool
	creating map[string]entity.Record
	onceDone map[string]bool
	declined map[string]string
}

// New returns an Engine with the default rules when cfg.Rules is nil.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Rules == nil {
		cfg.Rules = DefaultRules()
	}
	if cfg.Confirmer == nil {
		cfg.Confirmer = Always(false)
	}
	e := &Engine{cfg: cfg, logger: cfg.Logger}
	e.reset()
	return e
}

func (e *Engine) reset() {
	e.records = []entity.Record{}
	e.keys = map[string]struct{}{}
	e.ledger = map[ledgerKey]ledgerEntry{}
	e.deleting = map[string]bool{}
	e.creating = map[string]entity.Record{}
	e.onceDone = map[string]bool{}
	e.declined = map[string]string{}
}

// Reset drops all session state. Toggles are kept.
func (e *Engine) Reset() {
	e.reset()
	e.changed()
}

// Records returns a copy of the current record set.
func (e *Engine) Records() []entity.Record {
	return entity.CloneRecords(e.records)
}

// HasKey reports whether the business key is present in the dedup cache.
func (e *Engine) HasKey(key string) bool {
	_, ok := e.keys[key]
	return ok
}

// Toggles returns (autoImport, autoDelete).
func (e *Engine) Toggles() (bool, bool) {
	return e.autoImport, e.autoDelete
}

// HandleRecords applies a primary snapshot and re-runs the rules reading it.
func (e *Engine) HandleRecords(ctx context.Context, snapshot []entity.Record) {
	records := Dedup(snapshot)
	if dropped := len(snapshot) - len(records); dropped > 0 {
		e.logger.Debug("collapsed duplicate records", zap.Int("dropped", dropped))
	}
	e.settle(records)

	// overlay writes the store has not echoed yet
	for i := range records {
		for k, entry := range e.ledger {
			if k.id == records[i].ID {
				records[i].Apply(entry.fields)
			}
		}
	}
	present := KeySet(records)
	for key, rec := range e.creating {
		if _, ok := present[key]; ok {
			delete(e.creating, key)
			continue
		}
		records = append(records, rec)
	}
	e.records = records
	e.keys = KeySet(records)

	e.run(ctx, map[Trigger]bool{TriggerRecords: true})
	e.changed()
}

// settle drops ledger and in-flight entries the snapshot has caught up with.
func (e *Engine) settle(records []entity.Record) {
	byID := make(map[string]*entity.Record, len(records))
	for i := range records {
		byID[records[i].ID] = &records[i]
	}
	for k, entry := range e.ledger {
		r, ok := byID[k.id]
		if !ok {
			delete(e.ledger, k)
			continue
		}
		for field, old := range entry.before {
			if r.Get(field) != old {
				delete(e.ledger, k)
				break
			}
		}
	}
	for id := range e.deleting {
		if _, ok := byID[id]; !ok {
			delete(e.deleting, id)
		}
	}
}

// HandleReference re-runs the rules reading a reference collection.
func (e *Engine) HandleReference(ctx context.Context, c entity.Collection) {
	e.run(ctx, map[Trigger]bool{Trigger(c): true})
	e.changed()
}

// SetAutoImport switches auto-import. Turning it on runs the import at once.
func (e *Engine) SetAutoImport(ctx context.Context, on bool) {
	was := e.autoImport
	e.autoImport = on
	if on && !was {
		delete(e.declined, RuleAutoImport)
		e.run(ctx, map[Trigger]bool{TriggerAutoImport: true})
		e.changed()
	}
}

// SetAutoDelete switches auto-delete. Turning it on runs the check at once.
func (e *Engine) SetAutoDelete(ctx context.Context, on bool) {
	was := e.autoDelete
	e.autoDelete = on
	if on && !was {
		delete(e.declined, RuleAutoDeleteAll)
		e.run(ctx, map[Trigger]bool{TriggerAutoDelete: true})
		e.changed()
	}
}

func (e *Engine) view() *View {
	src := e.cfg.Source
	creating := make(map[string]bool, len(e.creating))
	for _, rec := range e.creating {
		creating[rec.ID] = true
	}
	return &View{
		Records:        e.records,
		Keys:           e.keys,
		Deleting:       e.deleting,
		Creating:       creating,
		Depts:          src.VendorDepts(),
		Issues:         src.VendorIssues(),
		PSIR:           src.PSIR(),
		PurchaseData:   src.PurchaseData(),
		PurchaseOrders: src.PurchaseOrders(),
		Loaded:         src.Loaded,
		AutoImport:     e.autoImport,
		AutoDelete:     e.autoDelete,
		NewID:          e.cfg.NewID,
	}
}

func (e *Engine) run(ctx context.Context, triggers map[Trigger]bool) {
	userID := e.cfg.Source.Identity()
	if userID == "" {
		return
	}
	for _, rule := range e.cfg.Rules {
		if !rule.triggeredBy(triggers) {
			continue
		}
		if rule.Once && e.onceDone[rule.Name] {
			continue
		}
		v := e.view()
		if rule.Ready != nil && !rule.Ready(v) {
			continue
		}
		plan := rule.Plan(v)
		if rule.Once {
			e.onceDone[rule.Name] = true
		}
		if plan.Empty() {
			continue
		}

		if plan.Prompt != "" {
			fp := planFingerprint(plan)
			if e.declined[rule.Name] == fp {
				continue
			}
			prompt := Prompt{Rule: rule.Name, Message: plan.Prompt, Count: len(plan.Creates) + len(plan.Deletes) + len(plan.Patches)}
			if !e.cfg.Confirmer.Confirm(ctx, prompt) {
				e.declined[rule.Name] = fp
				e.logger.Info("bulk operation declined", zap.String("rule", rule.Name), zap.Int("count", prompt.Count))
				e.notice("info", rule.Name, "Cancelled: "+plan.Prompt)
				continue
			}
			delete(e.declined, rule.Name)
			e.logger.Info("bulk operation confirmed", zap.String("rule", rule.Name), zap.Int("count", prompt.Count))
		}

		e.apply(ctx, userID, rule.Name, plan)
	}
}

func (e *Engine) apply(ctx context.Context, userID, rule string, plan Plan) {
	var tasks []Task

	index := make(map[string]int, len(e.records))
	for i := range e.records {
		index[e.records[i].ID] = i
	}

	for _, p := range plan.Patches {
		i, ok := index[p.ID]
		if !ok {
			continue
		}
		r := &e.records[i]
		lk := ledgerKey{rule: rule, id: p.ID}
		fp := fieldsFingerprint(p.Fields)
		if entry, ok := e.ledger[lk]; ok && entry.fingerprint == fp {
			// re-derived from a snapshot that predates the echo of our own write
			r.Apply(p.Fields)
			continue
		}
		before := make(map[string]string, len(p.Fields))
		for f := range p.Fields {
			before[f] = r.Get(f)
		}
		e.ledger[lk] = ledgerEntry{fingerprint: fp, fields: p.Fields, before: before}
		r.Apply(p.Fields)
		tasks = append(tasks, Task{Op: OpUpdate, Rule: rule, RecordID: p.ID, Key: r.Key(), Fields: p.Fields})
	}

	for i := range plan.Creates {
		rec := plan.Creates[i]
		rec.UserID = userID
		key := rec.Key()
		e.creating[key] = rec
		e.records = append(e.records, rec)
		e.keys[key] = struct{}{}
		tasks = append(tasks, Task{Op: OpCreate, Rule: rule, RecordID: rec.ID, Key: key, Record: &rec})
	}

	for _, id := range plan.Deletes {
		e.deleting[id] = true
		tasks = append(tasks, Task{Op: OpDelete, Rule: rule, RecordID: id})
	}

	if len(tasks) == 0 {
		return
	}
	e.logger.Info("rule applied",
		zap.String("rule", rule),
		zap.Int("updates", len(plan.Patches)),
		zap.Int("creates", len(plan.Creates)),
		zap.Int("deletes", len(plan.Deletes)),
		zap.Int("writes", len(tasks)))
	if e.cfg.Dispatcher != nil {
		e.cfg.Dispatcher.Dispatch(ctx, userID, tasks, e.cfg.Post)
	}
}

// Complete consumes a write result on the engine's goroutine.
func (e *Engine) Complete(res Result) {
	if res.UserID != e.cfg.Source.Identity() {
		return
	}
	if e.cfg.OnResult != nil {
		e.cfg.OnResult(res)
	}
	if res.Err == nil {
		return
	}

	switch res.Op {
	case OpUpdate:
		delete(e.ledger, ledgerKey{rule: res.Rule, id: res.RecordID})
	case OpDelete:
		delete(e.deleting, res.RecordID)
	case OpCreate:
		if _, ok := e.creating[res.Key]; ok {
			delete(e.creating, res.Key)
			for i := range e.records {
				if e.records[i].ID == res.RecordID {
					e.records = append(e.records[:i], e.records[i+1:]...)
					break
				}
			}
			e.keys = KeySet(e.records)
			e.changed()
		}
	}
	e.notice("error", res.Rule, fmt.Sprintf("%s of record %s failed: %v", res.Op, res.RecordID, res.Err))
}

func (e *Engine) changed() {
	if e.cfg.OnChange != nil {
		e.cfg.OnChange(e.Records())
	}
}

func (e *Engine) notice(level, rule, msg string) {
	if e.cfg.OnNotice != nil {
		e.cfg.OnNotice(Notice{Level: level, Rule: rule, Message: msg})
	}
}

func fieldsFingerprint(fields map[string]interface{}) string {
	b, _ := json.Marshal(fields)
	return string(b)
}

func planFingerprint(p Plan) string {
	parts := make([]string, 0, len(p.Deletes)+len(p.Creates))
	for _, id := range p.Deletes {
		parts = append(parts, "d:"+id)
	}
	for i := range p.Creates {
		parts = append(parts, "c:"+p.Creates[i].Key())
	}
	for _, patch := range p.Patches {
		parts = append(parts, "u:"+patch.ID+fieldsFingerprint(patch.Fields))
	}
	sort.Strings(parts)
	b, _ := json.Marshal(parts)
	return string(b)
}
