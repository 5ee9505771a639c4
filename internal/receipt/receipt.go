package receipt

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the review state of a persisted receipt
type Status string

const (
	StatusNeedsReview Status = "needs_review"
	StatusReviewed    Status = "reviewed"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
)

// statusTransitions lists the statuses reachable from each status
var statusTransitions = map[Status][]Status{
	StatusNeedsReview: {StatusReviewed, StatusRejected},
	StatusReviewed:    {StatusApproved, StatusRejected, StatusNeedsReview},
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusNeedsReview, StatusReviewed, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// CanTransitionTo reports whether a receipt in status s may move to next
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// LineItem is one line of a receipt
type LineItem struct {
	Description string           `json:"description"`
	Quantity    *decimal.Decimal `json:"quantity,omitempty"`
	UnitPrice   *decimal.Decimal `json:"unit_price,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
}

// Receipt is the canonical expense record, independent of which scanner produced it
type Receipt struct {
	ID                 string           `json:"id"`
	ReceiptNo          string           `json:"receipt_no"`
	ReceiptNoGenerated bool             `json:"receipt_no_generated"` // ReceiptNo is a system placeholder
	Vendor             string           `json:"vendor"`
	VendorBranch       *string          `json:"vendor_branch,omitempty"`
	TaxID              *string          `json:"tax_id,omitempty"`
	DocumentType       *string          `json:"document_type,omitempty"`
	Date               string           `json:"date"` // YYYY-MM-DD
	Submitter          string           `json:"submitter"`
	Category           Category         `json:"category"`
	CategoryConfidence *float64         `json:"category_confidence,omitempty"`
	Currency           string           `json:"currency"`
	Amount             decimal.Decimal  `json:"amount"`
	Subtotal           *decimal.Decimal `json:"subtotal,omitempty"`
	Tax                *decimal.Decimal `json:"tax,omitempty"`
	PaymentMethod      *string          `json:"payment_method,omitempty"`
	LineItems          []LineItem       `json:"line_items,omitempty"`
	Notes              *string          `json:"notes,omitempty"`
	Status             Status           `json:"status"`
	Filename           string           `json:"filename,omitempty"`
	ContentType        string           `json:"content_type,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// HasPlaceholderNo reports whether the receipt number was generated rather than read.
// A number read off the receipt counts as real even if it looks like a placeholder.
func (r *Receipt) HasPlaceholderNo() bool {
	return r.ReceiptNoGenerated
}

// Clone returns a deep copy of r
func (r *Receipt) Clone() *Receipt {
	if r == nil {
		return nil
	}
	c := *r
	c.VendorBranch = cloneString(r.VendorBranch)
	c.TaxID = cloneString(r.TaxID)
	c.DocumentType = cloneString(r.DocumentType)
	c.PaymentMethod = cloneString(r.PaymentMethod)
	c.Notes = cloneString(r.Notes)
	c.Subtotal = cloneDecimal(r.Subtotal)
	c.Tax = cloneDecimal(r.Tax)
	if r.CategoryConfidence != nil {
		v := *r.CategoryConfidence
		c.CategoryConfidence = &v
	}
	if r.LineItems != nil {
		c.LineItems = make([]LineItem, len(r.LineItems))
		for i, li := range r.LineItems {
			c.LineItems[i] = LineItem{
				Description: li.Description,
				Quantity:    cloneDecimal(li.Quantity),
				UnitPrice:   cloneDecimal(li.UnitPrice),
				Amount:      cloneDecimal(li.Amount),
			}
		}
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

// ReceiptUpdate is a partial update applied to a single stored receipt
type ReceiptUpdate struct {
	Status    *Status
	UpdatedAt time.Time
}

// AuditEntry records who did what to which record
type AuditEntry struct {
	ID         string            `json:"id"`
	Actor      string            `json:"actor"`
	Action     string            `json:"action"`
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Details    map[string]string `json:"details,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}
