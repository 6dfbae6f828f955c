// Package form keeps the operator's in-progress VSIR entry in sync with the
// reference collections and submits it as an upsert by business key.
package form

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sooshee9/AIR01/internal/vsir/batch"
	"github.com/sooshee9/AIR01/internal/vsir/entity"
)

// ErrVendorBatchRequired is returned by Submit when goods are invoiced but no
// vendor batch number could be found for the PO.
var ErrVendorBatchRequired = errors.New("vendor batch number is required once an invoice/challan number is entered; none found for this PO")

// Reference is the read side of the reference cache the form needs.
type Reference interface {
	VendorDepts() []entity.VendorDept
	VendorIssues() []entity.VendorIssue
	PSIR() []entity.PSIR
	ItemMaster() []entity.ItemMasterEntry
}

// Writer is the part of the record store Submit writes through.
type Writer interface {
	Add(ctx context.Context, userID string, r *entity.Record) error
	Update(ctx context.Context, userID, id string, fields map[string]interface{}) error
}

// State is a staging copy of a record. Record.ID is never set; EditingID
// names the stored record loaded by Edit.
type State struct {
	EditingID string        `json:"editing_id,omitempty"`
	Record    entity.Record `json:"record"`
}

type Form struct {
	ref   Reference
	state State
	now   func() time.Time
}

func New(ref Reference) *Form {
	return &Form{ref: ref, now: time.Now}
}

// State returns a copy of the current form.
func (f *Form) State() State {
	return f.state
}

// Set applies operator edits, then runs the auto-fill rules for the fields
// whose value changed.
func (f *Form) Set(fields map[string]interface{}) {
	prev := f.state.Record
	r := &f.state.Record
	r.Apply(fields)
	r.ID, r.UserID = "", ""

	if r.ItemName != prev.ItemName {
		f.onItemNameChange()
	}
	if r.PONo != prev.PONo {
		f.onPOChange()
	}
	if r.ItemCode != prev.ItemCode {
		f.onItemCodeChange()
	}
}

// fill sets field when the form holds no value for it.
func (f *Form) fill(field, val string) bool {
	r := &f.state.Record
	if val == "" || !r.IsBlank(field) {
		return false
	}
	r.Apply(map[string]interface{}{field: val})
	return true
}

func (f *Form) onPOChange() {
	po := strings.TrimSpace(f.state.Record.PONo)
	if po == "" {
		return
	}
	depts, psir, issues := f.ref.VendorDepts(), f.ref.PSIR(), f.ref.VendorIssues()

	f.fill(entity.FieldIndentNo, batch.Lookup(po, psir, batch.PSIRPO, func(s entity.PSIR) string { return s.IndentNo }))

	// dept -> psir -> issues, per field
	resolve := func(fromDept func(entity.VendorDept) string, fromPSIR func(entity.PSIR) string, fromIssue func(entity.VendorIssue) string) string {
		if v := batch.Lookup(po, depts, batch.DeptPO, fromDept); v != "" {
			return v
		}
		if v := batch.Lookup(po, psir, batch.PSIRPO, fromPSIR); v != "" {
			return v
		}
		return batch.Lookup(po, issues, batch.IssuePO, fromIssue)
	}
	if f.state.Record.IsBlank(entity.FieldOANo) {
		f.fill(entity.FieldOANo, resolve(
			func(d entity.VendorDept) string { return d.OANo },
			func(s entity.PSIR) string { return s.OANo },
			func(v entity.VendorIssue) string { return v.OANo }))
	}
	if f.state.Record.IsBlank(entity.FieldPurchaseBatchNo) {
		f.fill(entity.FieldPurchaseBatchNo, resolve(
			func(d entity.VendorDept) string { return d.BatchNo },
			func(s entity.PSIR) string { return s.BatchNo },
			func(v entity.VendorIssue) string { return v.BatchNo }))
	}
	if f.state.Record.IsBlank(entity.FieldVendorName) {
		f.fill(entity.FieldVendorName, resolve(
			func(d entity.VendorDept) string { return d.VendorName },
			func(s entity.PSIR) string { return s.VendorName },
			func(v entity.VendorIssue) string { return v.VendorName }))
	}
}

func (f *Form) onItemCodeChange() {
	r := &f.state.Record
	code := strings.TrimSpace(r.ItemCode)
	if code == "" {
		return
	}
	po := strings.TrimSpace(r.PONo)

	var issue *entity.VendorIssue
	issues := f.ref.VendorIssues()
	for i := range issues {
		if po != "" {
			if strings.TrimSpace(issues[i].PONo) == po {
				issue = &issues[i]
				break
			}
		} else if issues[i].HasItem(code) {
			issue = &issues[i]
			break
		}
	}
	if issue == nil {
		return
	}
	f.fill(entity.FieldReceivedDate, issue.Date)
	f.fill(entity.FieldVendorName, issue.VendorName)
	if f.fill(entity.FieldPONo, strings.TrimSpace(issue.PONo)) {
		f.onPOChange()
	}
}

func (f *Form) onItemNameChange() {
	name := strings.TrimSpace(f.state.Record.ItemName)
	if name == "" {
		return
	}
	for _, e := range f.ref.ItemMaster() {
		if strings.EqualFold(strings.TrimSpace(e.ItemName), name) {
			f.state.Record.ItemCode = e.ItemCode
			return
		}
	}
}

// Edit loads a stored record into the form.
func (f *Form) Edit(r entity.Record) {
	id := r.ID
	r.ID, r.UserID = "", ""
	r.CreatedAt, r.UpdatedAt = time.Time{}, time.Time{}
	f.state = State{EditingID: id, Record: r}
}

func (f *Form) Reset() {
	f.state = State{}
}

// GenerateVendorBatch fills the next vendor batch number for this year.
func (f *Form) GenerateVendorBatch(records []entity.Record) string {
	next := batch.NextVendorBatchNo(records, f.ref.VendorDepts(), f.now())
	f.state.Record.VendorBatchNo = next
	return next
}

// Submit stores the form as a record. A record already holding the business
// key is updated with the form values; otherwise a new one is created. The
// form is reset only when the write succeeds.
func (f *Form) Submit(ctx context.Context, userID string, w Writer, records []entity.Record) (entity.Record, error) {
	rec := f.state.Record
	if rec.IsBlank(entity.FieldInvoiceDCNo) {
		rec.VendorBatchNo = ""
	} else if rec.IsBlank(entity.FieldVendorBatchNo) {
		vb := batch.ResolveVendorBatchNoForPO(rec.PONo, f.ref.VendorDepts(), f.ref.VendorIssues())
		if vb == "" {
			return entity.Record{}, ErrVendorBatchRequired
		}
		rec.VendorBatchNo = vb
	}

	var existing *entity.Record
	key := rec.Key()
	for i := range records {
		if records[i].Key() == key {
			existing = &records[i]
			break
		}
	}
	if existing == nil && f.state.EditingID != "" {
		for i := range records {
			if records[i].ID == f.state.EditingID {
				existing = &records[i]
				break
			}
		}
	}

	if existing != nil {
		merged := *existing
		merged.Apply(rec.Values())
		if err := w.Update(ctx, userID, existing.ID, merged.Values()); err != nil {
			return entity.Record{}, fmt.Errorf("update vsir record: %w", err)
		}
		f.Reset()
		return merged, nil
	}

	rec.ID = uuid.New().String()[:32]
	if err := w.Add(ctx, userID, &rec); err != nil {
		return entity.Record{}, fmt.Errorf("create vsir record: %w", err)
	}
	f.Reset()
	return rec, nil
}
