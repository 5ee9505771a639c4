package scanning

import "context"

// LineItem is a single line read off a receipt
type LineItem struct {
	Description string   `json:"description"`
	Quantity    *float64 `json:"quantity,omitempty"`
	UnitPrice   *float64 `json:"unit_price,omitempty"`
	Amount      *float64 `json:"amount,omitempty"`
}

// RawExtraction contains the fields extracted from a receipt image.
// Every field is optional; nil means the model did not return it.
type RawExtraction struct {
	VendorName         *string    `json:"vendor_name"`
	VendorTIN          *string    `json:"vendor_tin"`
	VendorBranch       *string    `json:"vendor_branch"`
	DocumentType       *string    `json:"document_type"`
	ReceiptDate        *string    `json:"receipt_date"` // ISO 8601 when the model complies
	Currency           *string    `json:"currency"`
	Subtotal           *float64   `json:"subtotal"`
	Tax                *float64   `json:"tax"`
	Total              *float64   `json:"total"`
	PaymentMethod      *string    `json:"payment_method"`
	InvoiceOrReceiptNo *string    `json:"invoice_or_receipt_no"`
	LineItems          []LineItem `json:"line_items"`
	SuggestedCategory  *string    `json:"suggested_category"`
	CategoryConfidence *float64   `json:"category_confidence"`
	Notes              *string    `json:"notes"`
}

// Scanner defines the interface for receipt extraction
type Scanner interface {
	// ScanReceipt sends a receipt image/PDF to the model and returns the raw extraction.
	// It makes exactly one request and never retries.
	ScanReceipt(ctx context.Context, imageData []byte, contentType string) (*RawExtraction, error)
	// Close closes the scanner and releases resources
	Close() error
}
