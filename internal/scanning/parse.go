package scanning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Field aliases observed across extraction prompts. The first key present wins.
var (
	vendorKeys     = []string{"vendor_name", "vendor", "merchant_name", "title"}
	tinKeys        = []string{"vendor_tin", "tin", "tax_id"}
	branchKeys     = []string{"vendor_branch", "branch"}
	docTypeKeys    = []string{"document_type", "doc_type"}
	dateKeys       = []string{"receipt_date", "date", "expense_date"}
	currencyKeys   = []string{"currency"}
	subtotalKeys   = []string{"subtotal"}
	taxKeys        = []string{"tax", "vat"}
	totalKeys      = []string{"total", "total_amount", "amount"}
	paymentKeys    = []string{"payment_method"}
	receiptNoKeys  = []string{"invoice_or_receipt_no", "receipt_no", "invoice_no", "receipt_number"}
	categoryKeys   = []string{"suggested_category", "category"}
	confidenceKeys = []string{"category_confidence", "confidence_score", "confidence"}
	notesKeys      = []string{"notes"}
	lineItemKeys   = []string{"line_items", "items"}
)

// ParseRawExtraction parses a model response into a RawExtraction.
// It tolerates markdown fences and surrounding prose, accepts every known
// field-name variant, and reads numbers given either as JSON numbers or
// numeric strings. It fails only when no JSON object can be decoded.
func ParseRawExtraction(text string) (*RawExtraction, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	return &RawExtraction{
		VendorName:         firstString(fields, vendorKeys),
		VendorTIN:          firstString(fields, tinKeys),
		VendorBranch:       firstString(fields, branchKeys),
		DocumentType:       firstString(fields, docTypeKeys),
		ReceiptDate:        firstString(fields, dateKeys),
		Currency:           firstString(fields, currencyKeys),
		Subtotal:           firstNumber(fields, subtotalKeys),
		Tax:                firstNumber(fields, taxKeys),
		Total:              firstNumber(fields, totalKeys),
		PaymentMethod:      firstString(fields, paymentKeys),
		InvoiceOrReceiptNo: firstString(fields, receiptNoKeys),
		LineItems:          lineItems(fields),
		SuggestedCategory:  firstString(fields, categoryKeys),
		CategoryConfidence: firstNumber(fields, confidenceKeys),
		Notes:              firstString(fields, notesKeys),
	}, nil
}

func lookup(fields map[string]json.RawMessage, keys []string) (json.RawMessage, bool) {
	for _, k := range keys {
		v, ok := fields[k]
		if !ok {
			continue
		}
		if isNull(v) {
			continue
		}
		return v, true
	}
	return nil, false
}

func isNull(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) == 0 || bytes.Equal(v, []byte("null"))
}

// firstString returns the first non-empty string among keys.
// Numeric values are kept in their literal form (receipt numbers are often numeric).
func firstString(fields map[string]json.RawMessage, keys []string) *string {
	for _, k := range keys {
		v, ok := lookup(fields, []string{k})
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			var n json.Number
			if err := json.Unmarshal(v, &n); err != nil {
				continue
			}
			s = n.String()
		}
		s = strings.TrimSpace(s)
		if s == "" || strings.EqualFold(s, "null") {
			continue
		}
		return &s
	}
	return nil
}

// firstNumber returns the first value among keys that reads as a number
func firstNumber(fields map[string]json.RawMessage, keys []string) *float64 {
	for _, k := range keys {
		v, ok := lookup(fields, []string{k})
		if !ok {
			continue
		}
		if f, ok := toNumber(v); ok {
			return &f
		}
	}
	return nil
}

func toNumber(v json.RawMessage) (float64, bool) {
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return 0, false
	}
	return ParseAmount(s)
}

// ParseAmount reads a human-entered or model-emitted money string such as
// "3,500.00", "PHP 4200" or "₱ 12.50".
func ParseAmount(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.ToUpper(s), "PHP")
	s = strings.TrimPrefix(s, "₱")
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func lineItems(fields map[string]json.RawMessage) []LineItem {
	v, ok := lookup(fields, lineItemKeys)
	if !ok {
		return nil
	}
	var rawItems []map[string]json.RawMessage
	if err := json.Unmarshal(v, &rawItems); err != nil {
		return nil
	}
	items := make([]LineItem, 0, len(rawItems))
	for _, ri := range rawItems {
		item := LineItem{
			Quantity:  firstNumber(ri, []string{"quantity", "qty"}),
			UnitPrice: firstNumber(ri, []string{"unit_price", "price"}),
			Amount:    firstNumber(ri, []string{"amount", "total"}),
		}
		if d := firstString(ri, []string{"description", "name"}); d != nil {
			item.Description = *d
		}
		items = append(items, item)
	}
	return items
}
