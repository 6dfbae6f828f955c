package entity

import (
	"strings"
	"time"

	"github.com/sooshee9/AIR01/internal/vsir/match"
)

// Record VSIR shipment receipt record
type Record struct {
	ID     string `json:"id" gorm:"primaryKey;size:32" bson:"_id"`
	UserID string `json:"-" gorm:"size:64;not null;index" bson:"user_id"`

	ReceivedDate    string `json:"received_date" gorm:"column:received_date;size:20" bson:"received_date"`
	IndentNo        string `json:"indent_no" gorm:"column:indent_no;size:64" bson:"indent_no"`
	PONo            string `json:"po_no" gorm:"column:po_no;size:64;index" bson:"po_no"`
	OANo            string `json:"oa_no" gorm:"column:oa_no;size:64" bson:"oa_no"`
	PurchaseBatchNo string `json:"purchase_batch_no" gorm:"column:purchase_batch_no;size:64" bson:"purchase_batch_no"`
	VendorBatchNo   string `json:"vendor_batch_no" gorm:"column:vendor_batch_no;size:64" bson:"vendor_batch_no"`
	DCNo            string `json:"dc_no" gorm:"column:dc_no;size:64" bson:"dc_no"`
	InvoiceDCNo     string `json:"invoice_dc_no" gorm:"column:invoice_dc_no;size:64" bson:"invoice_dc_no"`
	VendorName      string `json:"vendor_name" gorm:"column:vendor_name;size:200" bson:"vendor_name"`
	ItemName        string `json:"item_name" gorm:"column:item_name;size:200" bson:"item_name"`
	ItemCode        string `json:"item_code" gorm:"column:item_code;size:64;index" bson:"item_code"`

	// quantities
	QtyReceived float64 `json:"qty_received" gorm:"column:qty_received;type:decimal(12,3);default:0" bson:"qty_received"`
	OKQty       float64 `json:"ok_qty" gorm:"column:ok_qty;type:decimal(12,3);default:0" bson:"ok_qty"`
	ReworkQty   float64 `json:"rework_qty" gorm:"column:rework_qty;type:decimal(12,3);default:0" bson:"rework_qty"`
	RejectQty   float64 `json:"reject_qty" gorm:"column:reject_qty;type:decimal(12,3);default:0" bson:"reject_qty"`

	GRNNo   string `json:"grn_no" gorm:"column:grn_no;size:64" bson:"grn_no"`
	Remarks string `json:"remarks" gorm:"column:remarks;type:text" bson:"remarks"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

func (Record) TableName() string {
	return "vsir_records"
}

// Record field names, shared by JSON, the gorm columns and the bson keys.
const (
	FieldReceivedDate    = "received_date"
	FieldIndentNo        = "indent_no"
	FieldPONo            = "po_no"
	FieldOANo            = "oa_no"
	FieldPurchaseBatchNo = "purchase_batch_no"
	FieldVendorBatchNo   = "vendor_batch_no"
	FieldDCNo            = "dc_no"
	FieldInvoiceDCNo     = "invoice_dc_no"
	FieldVendorName      = "vendor_name"
	FieldItemName        = "item_name"
	FieldItemCode        = "item_code"
	FieldQtyReceived     = "qty_received"
	FieldOKQty           = "ok_qty"
	FieldReworkQty       = "rework_qty"
	FieldRejectQty       = "reject_qty"
	FieldGRNNo           = "grn_no"
	FieldRemarks         = "remarks"
)

// TextFields lists the editable text fields in display order.
var TextFields = []string{
	FieldReceivedDate, FieldIndentNo, FieldPONo, FieldOANo, FieldPurchaseBatchNo,
	FieldVendorBatchNo, FieldDCNo, FieldInvoiceDCNo, FieldVendorName, FieldItemName,
	FieldItemCode, FieldGRNNo, FieldRemarks,
}

// QtyFields lists the numeric fields.
var QtyFields = []string{FieldQtyReceived, FieldOKQty, FieldReworkQty, FieldRejectQty}

// Key returns the normalized business key (po_no, item_code).
func (r *Record) Key() string {
	return match.MakeKey(r.PONo, r.ItemCode)
}

func (r *Record) textPtr(field string) *string {
	switch field {
	case FieldReceivedDate:
		return &r.ReceivedDate
	case FieldIndentNo:
		return &r.IndentNo
	case FieldPONo:
		return &r.PONo
	case FieldOANo:
		return &r.OANo
	case FieldPurchaseBatchNo:
		return &r.PurchaseBatchNo
	case FieldVendorBatchNo:
		return &r.VendorBatchNo
	case FieldDCNo:
		return &r.DCNo
	case FieldInvoiceDCNo:
		return &r.InvoiceDCNo
	case FieldVendorName:
		return &r.VendorName
	case FieldItemName:
		return &r.ItemName
	case FieldItemCode:
		return &r.ItemCode
	case FieldGRNNo:
		return &r.GRNNo
	case FieldRemarks:
		return &r.Remarks
	}
	return nil
}

func (r *Record) qtyPtr(field string) *float64 {
	switch field {
	case FieldQtyReceived:
		return &r.QtyReceived
	case FieldOKQty:
		return &r.OKQty
	case FieldReworkQty:
		return &r.ReworkQty
	case FieldRejectQty:
		return &r.RejectQty
	}
	return nil
}

// Get returns a text field; unknown fields read as empty.
func (r *Record) Get(field string) string {
	if p := r.textPtr(field); p != nil {
		return *p
	}
	return ""
}

// IsBlank reports whether a text field is empty after trimming.
func (r *Record) IsBlank(field string) bool {
	return strings.TrimSpace(r.Get(field)) == ""
}

// Apply sets fields from a column->value map. Unknown columns are ignored.
func (r *Record) Apply(fields map[string]interface{}) {
	for k, v := range fields {
		if p := r.textPtr(k); p != nil {
			*p = match.Text(v)
			continue
		}
		if p := r.qtyPtr(k); p != nil {
			*p = match.Number(v)
		}
	}
}

// Values returns every data column of the record.
func (r *Record) Values() map[string]interface{} {
	out := make(map[string]interface{}, len(TextFields)+len(QtyFields))
	for _, f := range TextFields {
		out[f] = *r.textPtr(f)
	}
	for _, f := range QtyFields {
		out[f] = *r.qtyPtr(f)
	}
	return out
}

// SameData reports whether two records hold identical data columns.
func (r *Record) SameData(o *Record) bool {
	for _, f := range TextFields {
		if *r.textPtr(f) != *o.textPtr(f) {
			return false
		}
	}
	for _, f := range QtyFields {
		if *r.qtyPtr(f) != *o.qtyPtr(f) {
			return false
		}
	}
	return true
}

// NormalizeFields keeps the known data columns of fields and coerces their
// values to the column types.
func NormalizeFields(fields map[string]interface{}) map[string]interface{} {
	var r Record
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if p := r.textPtr(k); p != nil {
			out[k] = match.Text(v)
		} else if p := r.qtyPtr(k); p != nil {
			out[k] = match.Number(v)
		}
	}
	return out
}

// CloneRecords copies a record slice.
func CloneRecords(in []Record) []Record {
	if in == nil {
		return nil
	}
	out := make([]Record, len(in))
	copy(out, in)
	return out
}
