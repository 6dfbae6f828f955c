package form

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sooshee9/AIR01/internal/vsir/entity"
	"github.com/sooshee9/AIR01/internal/vsir/store"
	"github.com/sooshee9/AIR01/internal/vsir/store/notify"
)

type staticRef struct {
	depts  []entity.VendorDept
	issues []entity.VendorIssue
	psir   []entity.PSIR
	items  []entity.ItemMasterEntry
}

func (s *staticRef) VendorDepts() []entity.VendorDept { return s.depts }
func (s *staticRef) VendorIssues() []entity.VendorIssue { return s.issues }
func (s *staticRef) PSIR() []entity.PSIR { return s.psir }
func (s *staticRef) ItemMaster() []entity.ItemMasterEntry { return s.items }

// countingWriter wraps a store and counts writes.
type countingWriter struct {
	inner  Writer
	writes int
	err    error
}

func (w *countingWriter) Add(ctx context.Context, userID string, r *entity.Record) error {
	w.writes++
	if w.err != nil {
		return w.err
	}
	return w.inner.Add(ctx, userID, r)
}

func (w *countingWriter) Update(ctx context.Context, userID, id string, fields map[string]interface{}) error {
	w.writes++
	if w.err != nil {
		return w.err
	}
	return w.inner.Update(ctx, userID, id, fields)
}

func newRecords() *store.Records {
	return store.NewRecords(store.NewMemoryRecords(), notify.NewHub(nil), nil)
}

func TestSubmitResolvesVendorBatchFromDept(t *testing.T) {
	ctx := context.Background()
	dept := entity.NewVendorDept(entity.Document{Data: entity.JSONB{
		"materialPurchasePoNo": "PO9", "vendorBatchNo": "24/V2", "oaNo": "OA1",
	}})
	f := New(&staticRef{depts: []entity.VendorDept{dept}})
	records := newRecords()

	f.Set(map[string]interface{}{entity.FieldPONo: "PO9", entity.FieldItemCode: "X", entity.FieldInvoiceDCNo: "DC1"})
	if _, err := f.Submit(ctx, "u1", records, nil); err != nil {
		t.Fatalf("submit: %v", err)
	}

	stored, _ := records.GetAll(ctx, "u1")
	if len(stored) != 1 {
		t.Fatalf("expected 1 stored record, got %d", len(stored))
	}
	if stored[0].VendorBatchNo != "24/V2" {
		t.Fatalf("expected vendor batch 24/V2, got %q", stored[0].VendorBatchNo)
	}
	if stored[0].OANo != "OA1" {
		t.Fatalf("expected oa from dept, got %q", stored[0].OANo)
	}
	if f.State().Record.PONo != "" {
		t.Fatalf("expected form reset after submit")
	}
}

func TestSubmitWithoutResolvableBatchFails(t *testing.T) {
	f := New(&staticRef{depts: []entity.VendorDept{{PONo: "OTHER", VendorBatchNo: "24/V1"}}})
	w := &countingWriter{inner: newRecords()}
	f.Set(map[string]interface{}{entity.FieldPONo: "PO9", entity.FieldItemCode: "X", entity.FieldInvoiceDCNo: "DC1"})

	_, err := f.Submit(context.Background(), "u1", w, nil)
	if !errors.Is(err, ErrVendorBatchRequired) {
		t.Fatalf("expected ErrVendorBatchRequired, got %v", err)
	}
	if w.writes != 0 {
		t.Fatalf("expected no store write, got %d", w.writes)
	}
	if f.State().Record.PONo != "PO9" {
		t.Fatalf("expected form kept after failed submit")
	}
}

func TestSubmitClearsBatchWithoutInvoice(t *testing.T) {
	ctx := context.Background()
	records := newRecords()
	f := New(&staticRef{})
	f.Set(map[string]interface{}{entity.FieldPONo: "PO1", entity.FieldItemCode: "A", entity.FieldVendorBatchNo: "24/V5"})
	r, err := f.Submit(ctx, "u1", records, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if r.VendorBatchNo != "" {
		t.Fatalf("expected vendor batch cleared, got %q", r.VendorBatchNo)
	}
}

func TestSubmitUpdatesExistingKey(t *testing.T) {
	ctx := context.Background()
	records := newRecords()
	existing := &entity.Record{PONo: "PO1", ItemCode: "A", GRNNo: "G1", QtyReceived: 2}
	if err := records.Add(ctx, "u1", existing); err != nil {
		t.Fatalf("add: %v", err)
	}
	current, _ := records.GetAll(ctx, "u1")

	f := New(&staticRef{})
	f.Set(map[string]interface{}{entity.FieldPONo: "po1", entity.FieldItemCode: " a ", entity.FieldQtyReceived: "7"})
	if _, err := f.Submit(ctx, "u1", records, current); err != nil {
		t.Fatalf("submit: %v", err)
	}

	stored, _ := records.GetAll(ctx, "u1")
	if len(stored) != 1 {
		t.Fatalf("expected update in place, got %d records", len(stored))
	}
	if stored[0].ID != existing.ID || stored[0].QtyReceived != 7 {
		t.Fatalf("expected form values to win, got %+v", stored[0])
	}
}

func TestSubmitFailureKeepsForm(t *testing.T) {
	f := New(&staticRef{})
	w := &countingWriter{inner: newRecords(), err: errors.New("offline")}
	f.Set(map[string]interface{}{entity.FieldPONo: "PO1", entity.FieldItemCode: "A"})
	if _, err := f.Submit(context.Background(), "u1", w, nil); err == nil {
		t.Fatalf("expected error")
	}
	if f.State().Record.ItemCode != "A" {
		t.Fatalf("expected form intact")
	}
}

func TestPOChangeFillsOnlyEmptyFields(t *testing.T) {
	ref := &staticRef{
		depts:  []entity.VendorDept{{PONo: "PO1", OANo: "OA-D"}},
		psir:   []entity.PSIR{{PONo: "PO1", IndentNo: "IND-1", OANo: "OA-P", BatchNo: "PB-P"}},
		issues: []entity.VendorIssue{{PONo: "PO1", VendorName: "Acme", BatchNo: "PB-I"}},
	}
	f := New(ref)
	f.Set(map[string]interface{}{entity.FieldIndentNo: "MINE"})
	f.Set(map[string]interface{}{entity.FieldPONo: "PO1"})

	r := f.State().Record
	if r.IndentNo != "MINE" {
		t.Fatalf("indent overwritten: %q", r.IndentNo)
	}
	if r.OANo != "OA-D" {
		t.Fatalf("expected dept oa first, got %q", r.OANo)
	}
	if r.PurchaseBatchNo != "PB-P" {
		t.Fatalf("expected psir batch before issues, got %q", r.PurchaseBatchNo)
	}
	if r.VendorName != "Acme" {
		t.Fatalf("expected vendor from issues, got %q", r.VendorName)
	}
}

func TestPOChangeFillsIndent(t *testing.T) {
	f := New(&staticRef{psir: []entity.PSIR{{PONo: "PO1", IndentNo: "IND-1"}}})
	f.Set(map[string]interface{}{entity.FieldPONo: "PO1"})
	if got := f.State().Record.IndentNo; got != "IND-1" {
		t.Fatalf("expected indent IND-1, got %q", got)
	}
}

func TestItemCodeChangeLooksUpIssue(t *testing.T) {
	ref := &staticRef{
		issues: []entity.VendorIssue{
			{PONo: "PO1", VendorName: "First", Date: "2024-01-01", ItemCodes: []string{"A"}},
			{PONo: "PO2", VendorName: "Second", Date: "2024-02-02", ItemCodes: []string{"B"}},
		},
		depts: []entity.VendorDept{{PONo: "PO2", OANo: "OA2"}},
	}

	// no PO yet: match by item code, then the PO rules run
	f := New(ref)
	f.Set(map[string]interface{}{entity.FieldItemCode: "b"})
	r := f.State().Record
	if r.PONo != "PO2" || r.VendorName != "Second" || r.ReceivedDate != "2024-02-02" {
		t.Fatalf("unexpected form after item code: %+v", r)
	}
	if r.OANo != "OA2" {
		t.Fatalf("expected PO rules after PO fill, got %q", r.OANo)
	}

	// PO set: match by PO regardless of item list
	f = New(ref)
	f.Set(map[string]interface{}{entity.FieldPONo: "PO1", entity.FieldVendorName: "Mine"})
	f.Set(map[string]interface{}{entity.FieldItemCode: "B"})
	r = f.State().Record
	if r.PONo != "PO1" || r.VendorName != "Mine" || r.ReceivedDate != "2024-01-01" {
		t.Fatalf("unexpected form with PO set: %+v", r)
	}
}

func TestItemNameFillsCode(t *testing.T) {
	f := New(&staticRef{items: []entity.ItemMasterEntry{{ItemName: "Hex Bolt", ItemCode: "HB-1"}}})
	f.Set(map[string]interface{}{entity.FieldItemName: "hex bolt"})
	if got := f.State().Record.ItemCode; got != "HB-1" {
		t.Fatalf("expected HB-1, got %q", got)
	}
}

func TestEditAndReset(t *testing.T) {
	f := New(&staticRef{})
	f.Edit(entity.Record{ID: "r1", UserID: "u1", PONo: "PO1", ItemCode: "A"})
	s := f.State()
	if s.EditingID != "r1" || s.Record.ID != "" || s.Record.UserID != "" || s.Record.PONo != "PO1" {
		t.Fatalf("unexpected edit state %+v", s)
	}
	f.Reset()
	if f.State() != (State{}) {
		t.Fatalf("expected empty form")
	}
}

func TestGenerateVendorBatch(t *testing.T) {
	f := New(&staticRef{depts: []entity.VendorDept{{VendorBatchNo: "24/V3"}}})
	f.now = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }
	got := f.GenerateVendorBatch([]entity.Record{{VendorBatchNo: "24/V1"}, {VendorBatchNo: "23/V9"}})
	if got != "24/V4" || f.State().Record.VendorBatchNo != "24/V4" {
		t.Fatalf("expected 24/V4, got %q", got)
	}
}
