// Package batch allocates vendor batch numbers ("YY/V<n>") and resolves the
// batch number already issued against a purchase order.
package batch

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sooshee9/AIR01/internal/vsir/entity"
)

// Prefix returns the batch prefix for the year of now, e.g. "24/V".
func Prefix(now time.Time) string {
	return now.Format("06") + "/V"
}

// parseSeq returns n for a well-formed "<prefix><n>"; anything else reports false.
func parseSeq(prefix, batchNo string) (int, bool) {
	batchNo = strings.TrimSpace(batchNo)
	if !strings.HasPrefix(batchNo, prefix) {
		return 0, false
	}
	digits := batchNo[len(prefix):]
	if digits == "" {
		return 0, false
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

// NextVendorBatchNo returns the next batch number for the current year, one
// past the highest sequence found in records and dept orders. Batch numbers of
// other years and malformed values are ignored.
func NextVendorBatchNo(records []entity.Record, depts []entity.VendorDept, now time.Time) string {
	prefix := Prefix(now)
	max := 0
	for i := range records {
		if n, ok := parseSeq(prefix, records[i].VendorBatchNo); ok && n > max {
			max = n
		}
	}
	for i := range depts {
		if n, ok := parseSeq(prefix, depts[i].VendorBatchNo); ok && n > max {
			max = n
		}
	}
	return fmt.Sprintf("%s%d", prefix, max+1)
}

// ResolveDeptMatch finds the first dept order whose PO equals poNo exactly (both trimmed).
func ResolveDeptMatch(poNo string, depts []entity.VendorDept) (entity.VendorDept, bool) {
	poNo = strings.TrimSpace(poNo)
	if poNo == "" {
		return entity.VendorDept{}, false
	}
	for _, d := range depts {
		if strings.TrimSpace(d.PONo) == poNo {
			return d, true
		}
	}
	return entity.VendorDept{}, false
}

// ResolveVendorBatchNoForPO returns the vendor batch number already issued for
// poNo, looking in dept orders first and vendor issues second. Empty when none.
func ResolveVendorBatchNoForPO(poNo string, depts []entity.VendorDept, issues []entity.VendorIssue) string {
	poNo = strings.TrimSpace(poNo)
	if poNo == "" {
		return ""
	}
	for _, d := range depts {
		if strings.TrimSpace(d.PONo) == poNo && d.VendorBatchNo != "" {
			return d.VendorBatchNo
		}
	}
	for _, v := range issues {
		if strings.TrimSpace(v.PONo) == poNo && v.VendorBatchNo != "" {
			return v.VendorBatchNo
		}
	}
	return ""
}

// Lookup returns pick(x) for the first x in list whose PO equals poNo exactly
// (both trimmed) and whose picked value is non-empty.
func Lookup[T any](poNo string, list []T, poOf, pick func(T) string) string {
	poNo = strings.TrimSpace(poNo)
	if poNo == "" {
		return ""
	}
	for _, x := range list {
		if strings.TrimSpace(poOf(x)) != poNo {
			continue
		}
		if val := strings.TrimSpace(pick(x)); val != "" {
			return val
		}
	}
	return ""
}

// PO accessors for Lookup.
func DeptPO(d entity.VendorDept) string   { return d.PONo }
func IssuePO(v entity.VendorIssue) string { return v.PONo }
func PSIRPO(s entity.PSIR) string         { return s.PONo }
