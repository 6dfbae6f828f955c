// Package match derives business keys and sniffs purchase-order numbers and
// line items out of reference documents whose shape is owned by other modules.
package match

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// KeySep joins the two halves of a business key.
const KeySep = "|"

// PO field names checked before the fuzzy scan, in priority order.
var poFieldPriority = []string{
	"poNo",
	"purchaseOrderNo",
	"materialPurchasePoNo",
	"poNumber",
	"po_no",
	"PONo",
}

// Keys that mark an object as a line item (compared case-insensitively).
var lineItemKeys = []string{"itemcode", "itemname", "item_name", "model"}

// Container fields that may hold an order's line items, in priority order.
var lineItemContainers = []string{
	"items",
	"lineItems",
	"materials",
	"products",
	"orderItems",
	"poItems",
}

// MakeKey normalizes (poNo, itemCode) into the record business key.
func MakeKey(poNo, itemCode interface{}) string {
	return strings.ToLower(strings.TrimSpace(Text(poNo))) + KeySep +
		strings.ToLower(strings.TrimSpace(Text(itemCode)))
}

// Text renders a JSON-ish value as text. nil reads as "".
func Text(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case fmt.Stringer:
		return t.String()
	}
	return fmt.Sprint(v)
}

// Number reads a quantity. Unparseable values read as zero.
func Number(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}

// Truthy follows the usual JSON truthiness: nil, false, 0, "" and NaN are falsy.
func Truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0 && !math.IsNaN(t)
	case float32:
		return t != 0 && !math.IsNaN(float64(t))
	case int:
		return t != 0
	case int32:
		return t != 0
	case int64:
		return t != 0
	}
	return true
}

// AsObject returns v as a string-keyed map when it is one.
func AsObject(v interface{}) (map[string]interface{}, bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		return t, true
	case map[string]string:
		out := make(map[string]interface{}, len(t))
		for k, s := range t {
			out[k] = s
		}
		return out, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
		out := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = iter.Value().Interface()
		}
		return out, true
	}
	return nil, false
}

func asList(v interface{}) ([]interface{}, bool) {
	switch t := v.(type) {
	case []interface{}:
		return t, true
	case []map[string]interface{}:
		out := make([]interface{}, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return nil, false
		}
		out := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = rv.Index(i).Interface()
		}
		return out, true
	}
	return nil, false
}

// ExtractPONo finds the purchase-order number of an order document.
func ExtractPONo(order interface{}) (string, bool) {
	obj, ok := AsObject(order)
	if !ok {
		return "", false
	}
	for _, k := range poFieldPriority {
		if v, ok := obj[k]; ok && Truthy(v) {
			return Text(v), true
		}
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.Contains(strings.ToLower(k), "po") && Truthy(obj[k]) {
			return Text(obj[k]), true
		}
	}
	return "", false
}

// LooksLikeLineItem reports whether obj carries an item-identifying key.
func LooksLikeLineItem(obj interface{}) bool {
	m, ok := AsObject(obj)
	if !ok {
		return false
	}
	for k := range m {
		lk := strings.ToLower(k)
		for _, want := range lineItemKeys {
			if lk == want {
				return true
			}
		}
	}
	return false
}

// ExtractLineItems returns the item-like objects of an order, or nil.
func ExtractLineItems(order interface{}) []map[string]interface{} {
	if LooksLikeLineItem(order) {
		obj, _ := AsObject(order)
		return []map[string]interface{}{obj}
	}

	if obj, ok := AsObject(order); ok {
		for _, k := range lineItemContainers {
			if list, ok := asList(obj[k]); ok && len(list) > 0 {
				return objects(list)
			}
		}

		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if list, ok := asList(obj[k]); ok && len(list) > 0 && LooksLikeLineItem(list[0]) {
				return objects(list)
			}
		}
		return nil
	}

	if list, ok := asList(order); ok && len(list) > 0 && LooksLikeLineItem(list[0]) {
		return objects(list)
	}
	return nil
}

// objects keeps the map elements of list; anything else is not addressable as an item.
func objects(list []interface{}) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(list))
	for _, v := range list {
		if m, ok := AsObject(v); ok {
			out = append(out, m)
		}
	}
	return out
}
