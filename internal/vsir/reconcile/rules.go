package reconcile

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/sooshee9/AIR01/internal/vsir/batch"
	"github.com/sooshee9/AIR01/internal/vsir/entity"
	"github.com/sooshee9/AIR01/internal/vsir/match"
)

// Trigger names an input whose change re-runs a rule.
type Trigger string

const (
	TriggerRecords        = Trigger(entity.CollectionRecords)
	TriggerVendorDepts    = Trigger(entity.CollectionVendorDepts)
	TriggerVendorIssues   = Trigger(entity.CollectionVendorIssues)
	TriggerPurchaseData   = Trigger(entity.CollectionPurchaseData)
	TriggerPurchaseOrders = Trigger(entity.CollectionPurchaseOrders)
	TriggerPSIR           = Trigger(entity.CollectionPSIR)
	TriggerAutoImport     = Trigger("toggle:auto_import")
	TriggerAutoDelete     = Trigger("toggle:auto_delete")
)

// Rule names
const (
	RuleAutoDeleteAll   = "auto_delete_all"
	RuleAutoImport      = "auto_import"
	RuleFillIndent      = "fill_indent_from_psir"
	RuleSyncVendorBatch = "sync_vendor_batch"
	RuleBackfillOABatch = "backfill_oa_batch"
)

// View is the state a rule plans against. Rules must treat it as read-only.
type View struct {
	Records        []entity.Record
	Keys           map[string]struct{}
	Deleting       map[string]bool
	Creating       map[string]bool // optimistic creates not yet echoed, by ID
	Depts          []entity.VendorDept
	Issues         []entity.VendorIssue
	PSIR           []entity.PSIR
	PurchaseData   []entity.Document
	PurchaseOrders []entity.Document
	Loaded         func(entity.Collection) bool
	AutoImport     bool
	AutoDelete     bool
	NewID          func() string
}

// Patch is a partial update of one record.
type Patch struct {
	ID     string
	Fields map[string]interface{}
}

// Plan is what a rule wants done. An empty plan means "no change".
type Plan struct {
	Patches []Patch
	Creates []entity.Record
	Deletes []string
	// Prompt, when set, gates the whole plan behind operator confirmation.
	Prompt string
}

func (p Plan) Empty() bool {
	return len(p.Patches) == 0 && len(p.Creates) == 0 && len(p.Deletes) == 0
}

// Rule is one reactive reconciliation rule.
type Rule struct {
	Name     string
	Triggers []Trigger
	Once     bool
	Ready    func(v *View) bool
	Plan     func(v *View) Plan
}

func (r Rule) triggeredBy(set map[Trigger]bool) bool {
	for _, t := range r.Triggers {
		if set[t] {
			return true
		}
	}
	return false
}

// DefaultRules returns the rule list in execution order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     RuleAutoDeleteAll,
			Triggers: []Trigger{TriggerAutoDelete, TriggerPurchaseData, TriggerRecords},
			Plan:     planAutoDeleteAll,
		},
		{
			Name:     RuleAutoImport,
			Triggers: []Trigger{TriggerAutoImport, TriggerPurchaseOrders, TriggerPurchaseData, TriggerRecords},
			Plan:     planAutoImport,
		},
		{
			Name:     RuleFillIndent,
			Triggers: []Trigger{TriggerRecords, TriggerPSIR},
			Plan:     planFillIndent,
		},
		{
			Name:     RuleSyncVendorBatch,
			Triggers: []Trigger{TriggerVendorDepts},
			Plan:     planSyncVendorBatch,
		},
		{
			Name:     RuleBackfillOABatch,
			Triggers: []Trigger{TriggerRecords, TriggerPSIR, TriggerVendorDepts, TriggerVendorIssues},
			Once:     true,
			Ready: func(v *View) bool {
				return v.Loaded(entity.CollectionRecords) &&
					v.Loaded(entity.CollectionPSIR) &&
					v.Loaded(entity.CollectionVendorDepts) &&
					v.Loaded(entity.CollectionVendorIssues)
			},
			Plan: planBackfill,
		},
	}
}

// Dedup collapses records sharing a business key. The surviving value is the
// last one in snapshot order; it takes the position of the first occurrence.
func Dedup(in []entity.Record) []entity.Record {
	index := make(map[string]int, len(in))
	out := make([]entity.Record, 0, len(in))
	for _, r := range in {
		k := r.Key()
		if i, ok := index[k]; ok {
			out[i] = r
			continue
		}
		index[k] = len(out)
		out = append(out, r)
	}
	return out
}

// KeySet rebuilds the dedup cache from records.
func KeySet(records []entity.Record) map[string]struct{} {
	keys := make(map[string]struct{}, len(records))
	for i := range records {
		keys[records[i].Key()] = struct{}{}
	}
	return keys
}

func planAutoDeleteAll(v *View) Plan {
	if !v.AutoDelete || !v.Loaded(entity.CollectionPurchaseData) || len(v.PurchaseData) != 0 || len(v.Records) == 0 {
		return Plan{}
	}
	var p Plan
	for _, r := range v.Records {
		if !v.Deleting[r.ID] && !v.Creating[r.ID] {
			p.Deletes = append(p.Deletes, r.ID)
		}
	}
	if len(p.Deletes) > 0 {
		p.Prompt = fmt.Sprintf("Purchase data is empty. Delete all %d VSIR records?", len(p.Deletes))
	}
	return p
}

var (
	itemCodeKeys = []string{"itemCode", "item_code", "code"}
	itemNameKeys = []string{"itemName", "item_name", "model"}
	qtyKeys      = []string{"qty", "quantity"}
	indentKeys   = []string{"indentNo", "indent_no"}
	vendorKeys   = []string{"vendorName", "supplierName"}
)

func firstText(obj map[string]interface{}, keys []string) string {
	for _, k := range keys {
		if v, ok := obj[k]; ok && match.Truthy(v) {
			return strings.TrimSpace(match.Text(v))
		}
	}
	return ""
}

func firstNumber(obj map[string]interface{}, keys []string) float64 {
	for _, k := range keys {
		if v, ok := obj[k]; ok && match.Truthy(v) {
			return match.Number(v)
		}
	}
	return 0
}

// ImportSource returns the orders auto-import reads from.
func ImportSource(v *View) []entity.Document {
	if len(v.PurchaseOrders) > 0 {
		return v.PurchaseOrders
	}
	return v.PurchaseData
}

func planAutoImport(v *View) Plan {
	// the key set is meaningless until the stored records have arrived
	if !v.AutoImport || !v.Loaded(entity.CollectionRecords) {
		return Plan{}
	}
	newID := v.NewID
	if newID == nil {
		newID = func() string { return uuid.New().String()[:32] }
	}

	// local copy so two orders yielding the same key in this run create once
	keys := make(map[string]struct{}, len(v.Keys))
	for k := range v.Keys {
		keys[k] = struct{}{}
	}

	var p Plan
	for _, order := range ImportSource(v) {
		data := map[string]interface{}(order.Data)
		poNo, ok := match.ExtractPONo(data)
		poNo = strings.TrimSpace(poNo)
		if !ok || poNo == "" {
			continue
		}
		items := match.ExtractLineItems(data)
		if len(items) == 0 {
			continue
		}
		var oaNo, batchNo string
		if dept, ok := batch.ResolveDeptMatch(poNo, v.Depts); ok {
			oaNo, batchNo = dept.OANo, dept.BatchNo
		}
		for _, item := range items {
			code := firstText(item, itemCodeKeys)
			key := match.MakeKey(poNo, code)
			if _, dup := keys[key]; dup {
				continue
			}
			keys[key] = struct{}{}
			p.Creates = append(p.Creates, entity.Record{
				ID:              newID(),
				PONo:            poNo,
				IndentNo:        firstText(data, indentKeys),
				OANo:            oaNo,
				PurchaseBatchNo: batchNo,
				VendorName:      firstText(data, vendorKeys),
				ItemName:        firstText(item, itemNameKeys),
				ItemCode:        code,
				QtyReceived:     firstNumber(item, qtyKeys),
			})
		}
	}
	if len(p.Creates) > 0 {
		p.Prompt = fmt.Sprintf("Import %d new VSIR records from purchase orders?", len(p.Creates))
	}
	return p
}

func planFillIndent(v *View) Plan {
	if len(v.PSIR) == 0 || len(v.Records) == 0 {
		return Plan{}
	}
	var p Plan
	for _, r := range v.Records {
		po := strings.TrimSpace(r.PONo)
		if po == "" || !r.IsBlank(entity.FieldIndentNo) || v.Deleting[r.ID] {
			continue
		}
		for _, s := range v.PSIR {
			if strings.TrimSpace(s.PONo) != po {
				continue
			}
			if s.IndentNo != "" && s.IndentNo != r.IndentNo {
				p.Patches = append(p.Patches, Patch{ID: r.ID, Fields: map[string]interface{}{entity.FieldIndentNo: s.IndentNo}})
			}
			break
		}
	}
	return p
}

func planSyncVendorBatch(v *View) Plan {
	var p Plan
	for _, r := range v.Records {
		if !r.IsBlank(entity.FieldVendorBatchNo) || r.IsBlank(entity.FieldPONo) || r.IsBlank(entity.FieldInvoiceDCNo) || v.Deleting[r.ID] {
			continue
		}
		dept, ok := batch.ResolveDeptMatch(r.PONo, v.Depts)
		if !ok || dept.VendorBatchNo == "" {
			continue
		}
		p.Patches = append(p.Patches, Patch{ID: r.ID, Fields: map[string]interface{}{entity.FieldVendorBatchNo: dept.VendorBatchNo}})
	}
	return p
}

func planBackfill(v *View) Plan {
	var p Plan
	for _, r := range v.Records {
		po := strings.TrimSpace(r.PONo)
		if po == "" || v.Deleting[r.ID] {
			continue
		}
		fields := map[string]interface{}{}
		if r.IsBlank(entity.FieldOANo) {
			oa := batch.Lookup(po, v.PSIR, batch.PSIRPO, func(s entity.PSIR) string { return s.OANo })
			if oa == "" {
				oa = batch.Lookup(po, v.Depts, batch.DeptPO, func(d entity.VendorDept) string { return d.OANo })
			}
			if oa == "" {
				oa = batch.Lookup(po, v.Issues, batch.IssuePO, func(is entity.VendorIssue) string { return is.OANo })
			}
			if oa != "" {
				fields[entity.FieldOANo] = oa
			}
		}
		if r.IsBlank(entity.FieldPurchaseBatchNo) {
			b := batch.Lookup(po, v.PSIR, batch.PSIRPO, func(s entity.PSIR) string { return s.BatchNo })
			if b == "" {
				b = batch.Lookup(po, v.Depts, batch.DeptPO, func(d entity.VendorDept) string { return d.BatchNo })
			}
			if b == "" {
				b = batch.Lookup(po, v.Issues, batch.IssuePO, func(is entity.VendorIssue) string { return is.BatchNo })
			}
			if b != "" {
				fields[entity.FieldPurchaseBatchNo] = b
			}
		}
		if len(fields) > 0 {
			p.Patches = append(p.Patches, Patch{ID: r.ID, Fields: fields})
		}
	}
	return p
}
