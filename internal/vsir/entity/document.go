package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sooshee9/AIR01/internal/vsir/match"
)

// Collection names a logical collection in the store.
type Collection string

const (
	CollectionRecords        Collection = "vsirRecords"
	CollectionVendorDepts    Collection = "vendorDepts"
	CollectionVendorIssues   Collection = "vendorIssues"
	CollectionPurchaseData   Collection = "purchaseData"
	CollectionPurchaseOrders Collection = "purchaseOrders"
	CollectionPSIR           Collection = "psir"
	CollectionItemMaster     Collection = "itemMaster"
)

// ReferenceCollections are the externally owned collections the VSIR module reads.
var ReferenceCollections = []Collection{
	CollectionVendorDepts,
	CollectionVendorIssues,
	CollectionPurchaseData,
	CollectionPurchaseOrders,
	CollectionPSIR,
	CollectionItemMaster,
}

// IsReference reports whether c is one of the reference collections.
func (c Collection) IsReference() bool {
	for _, rc := range ReferenceCollections {
		if rc == c {
			return true
		}
	}
	return false
}

// JSONB free-form document body stored as jsonb
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("failed to scan JSONB: %v", value)
	}
	return json.Unmarshal(bytes, j)
}

// Str returns the first non-empty text value among keys, trimmed.
func (j JSONB) Str(keys ...string) string {
	for _, k := range keys {
		if v, ok := j[k]; ok {
			if s := strings.TrimSpace(match.Text(v)); s != "" {
				return s
			}
		}
	}
	return ""
}

// Document a reference document owned by another module
type Document struct {
	ID         string     `json:"id" gorm:"primaryKey;size:32" bson:"_id"`
	UserID     string     `json:"-" gorm:"size:64;not null;index:idx_vsir_doc_owner" bson:"user_id"`
	Collection Collection `json:"collection" gorm:"size:32;not null;index:idx_vsir_doc_owner" bson:"collection"`
	Data       JSONB      `json:"data" gorm:"type:jsonb" bson:"data"`
	CreatedAt  time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" bson:"updated_at"`
}

func (Document) TableName() string {
	return "vsir_reference_docs"
}

// Field alias lists, in priority order.
var (
	deptPOKeys      = []string{"materialPurchasePoNo", "poNo", "purchaseOrderNo"}
	issuePOKeys     = []string{"materialPurchasePoNo", "poNo", "purchaseOrderNo"}
	psirPOKeys      = []string{"poNo", "purchaseOrderNo", "materialPurchasePoNo"}
	oaKeys          = []string{"oaNo", "orderAckNo", "oa_no"}
	batchKeys       = []string{"batchNo", "purchaseBatchNo", "batch_no"}
	vendorBatchKeys = []string{"vendorBatchNo", "vendor_batch_no"}
	vendorNameKeys  = []string{"vendorName", "supplierName", "vendor_name"}
	indentKeys      = []string{"indentNo", "indent_no"}
	dateKeys        = []string{"date", "issueDate", "receivedDate"}
	itemCodeKeys    = []string{"itemCode", "item_code"}
)

// VendorDept vendor-department order view
type VendorDept struct {
	ID            string
	PONo          string
	OANo          string
	BatchNo       string
	VendorBatchNo string
	VendorName    string
}

func NewVendorDept(d Document) VendorDept {
	return VendorDept{
		ID:            d.ID,
		PONo:          d.Data.Str(deptPOKeys...),
		OANo:          d.Data.Str(oaKeys...),
		BatchNo:       d.Data.Str(batchKeys...),
		VendorBatchNo: d.Data.Str(vendorBatchKeys...),
		VendorName:    d.Data.Str(vendorNameKeys...),
	}
}

// VendorIssue vendor issue view
type VendorIssue struct {
	ID            string
	PONo          string
	OANo          string
	BatchNo       string
	VendorBatchNo string
	VendorName    string
	Date          string
	ItemCodes     []string
}

func NewVendorIssue(d Document) VendorIssue {
	issue := VendorIssue{
		ID:            d.ID,
		PONo:          d.Data.Str(issuePOKeys...),
		OANo:          d.Data.Str(oaKeys...),
		BatchNo:       d.Data.Str(batchKeys...),
		VendorBatchNo: d.Data.Str(vendorBatchKeys...),
		VendorName:    d.Data.Str(vendorNameKeys...),
		Date:          d.Data.Str(dateKeys...),
	}
	for _, item := range match.ExtractLineItems(map[string]interface{}(d.Data)) {
		if code := JSONB(item).Str(itemCodeKeys...); code != "" {
			issue.ItemCodes = append(issue.ItemCodes, code)
		}
	}
	return issue
}

// HasItem reports whether the issue lists itemCode (trimmed, case-insensitive).
func (v VendorIssue) HasItem(itemCode string) bool {
	itemCode = strings.TrimSpace(itemCode)
	if itemCode == "" {
		return false
	}
	for _, c := range v.ItemCodes {
		if strings.EqualFold(c, itemCode) {
			return true
		}
	}
	return false
}

// PSIR prior shipment/inspection record view
type PSIR struct {
	ID         string
	PONo       string
	IndentNo   string
	OANo       string
	BatchNo    string
	VendorName string
}

func NewPSIR(d Document) PSIR {
	return PSIR{
		ID:         d.ID,
		PONo:       d.Data.Str(psirPOKeys...),
		IndentNo:   d.Data.Str(indentKeys...),
		OANo:       d.Data.Str(oaKeys...),
		BatchNo:    d.Data.Str(batchKeys...),
		VendorName: d.Data.Str(vendorNameKeys...),
	}
}

// ItemMasterEntry (item_name, item_code) pair
type ItemMasterEntry struct {
	ItemName string `json:"item_name"`
	ItemCode string `json:"item_code"`
}

// ParseItemMaster accepts a document only when it carries string itemName and itemCode.
func ParseItemMaster(d Document) (ItemMasterEntry, bool) {
	name, ok1 := d.Data["itemName"].(string)
	code, ok2 := d.Data["itemCode"].(string)
	if !ok1 || !ok2 || strings.TrimSpace(name) == "" || strings.TrimSpace(code) == "" {
		return ItemMasterEntry{}, false
	}
	return ItemMasterEntry{ItemName: name, ItemCode: code}, true
}
