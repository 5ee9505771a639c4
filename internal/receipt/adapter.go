package receipt

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zombor/fleet-receipts/internal/scanning"
)

const (
	// DefaultVendor is used when the scanner could not read a merchant name
	DefaultVendor = "Generic Vendor"
	// DefaultCurrency is assumed when the receipt does not state one
	DefaultCurrency = "PHP"

	placeholderPrefix = "REC-AUTO-"
	dateLayout        = "2006-01-02"
	amountPlaces      = 2
)

// IDGenerator generates unique IDs
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// uuidGenerator produces time-sortable UUIDv7 strings
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// placeholderGenerator produces REC-AUTO-XXXXXXXX receipt numbers
type placeholderGenerator struct{}

func (g *placeholderGenerator) Generate() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return placeholderPrefix + strings.ToUpper(id[:8])
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// IsPlaceholderReceiptNo reports whether no has the generated placeholder form
func IsPlaceholderReceiptNo(no string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(no)), placeholderPrefix)
}

// Adapter turns raw scanner output into a canonical Receipt candidate
type Adapter struct {
	idGenerator  IDGenerator
	placeholders IDGenerator
	timeSource   TimeSource
	normalizer   *CategoryNormalizer
}

// NewAdapter creates an Adapter with UUIDv7 ids and the built-in category table
func NewAdapter(normalizer *CategoryNormalizer) *Adapter {
	return NewAdapterWithDeps(normalizer, &uuidGenerator{}, &placeholderGenerator{}, &defaultTimeSource{})
}

// NewAdapterWithDeps creates an Adapter with custom dependencies for testing
func NewAdapterWithDeps(normalizer *CategoryNormalizer, idGen IDGenerator, placeholders IDGenerator, timeSrc TimeSource) *Adapter {
	if normalizer == nil {
		normalizer = defaultNormalizer
	}
	return &Adapter{
		idGenerator:  idGen,
		placeholders: placeholders,
		timeSource:   timeSrc,
		normalizer:   normalizer,
	}
}

// Adapt builds a needs-review candidate from raw, filling defaults for every
// missing field. raw is not modified; a nil raw is treated as empty.
func (a *Adapter) Adapt(raw *scanning.RawExtraction, submitter string) *Receipt {
	if raw == nil {
		raw = &scanning.RawExtraction{}
	}
	now := a.timeSource.Now()

	r := &Receipt{
		ID:                 a.idGenerator.Generate(),
		Vendor:             DefaultVendor,
		Date:               now.Format(dateLayout),
		Submitter:          strings.TrimSpace(submitter),
		Category:           a.normalizer.Normalize(deref(raw.SuggestedCategory)),
		CategoryConfidence: confidence(raw.CategoryConfidence),
		Currency:           DefaultCurrency,
		Amount:             nonNegative(raw.Total),
		Subtotal:           optionalAmount(raw.Subtotal),
		Tax:                optionalAmount(raw.Tax),
		VendorBranch:       trimmed(raw.VendorBranch),
		TaxID:              trimmed(raw.VendorTIN),
		DocumentType:       trimmed(raw.DocumentType),
		PaymentMethod:      trimmed(raw.PaymentMethod),
		Notes:              trimmed(raw.Notes),
		LineItems:          lineItems(raw.LineItems),
		Status:             StatusNeedsReview,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if v := trimmed(raw.VendorName); v != nil {
		r.Vendor = *v
	}
	if no := trimmed(raw.InvoiceOrReceiptNo); no != nil {
		r.ReceiptNo = *no
	} else {
		r.ReceiptNo = a.placeholders.Generate()
		r.ReceiptNoGenerated = true
	}
	if d, ok := parseDate(deref(raw.ReceiptDate)); ok {
		r.Date = d
	}
	if c := trimmed(raw.Currency); c != nil {
		r.Currency = strings.ToUpper(*c)
	}
	return r
}

var dateLayouts = []string{
	dateLayout,
	"2006/01/02",
	"01/02/2006",
	time.RFC3339,
}

// parseDate accepts the layouts models tend to emit and returns YYYY-MM-DD
func parseDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(dateLayout), true
		}
	}
	return "", false
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// nonNegative rounds f to cents; nil, NaN, Inf and negatives become zero
func nonNegative(f *float64) decimal.Decimal {
	d := optionalAmount(f)
	if d == nil || d.IsNegative() {
		return decimal.Zero
	}
	return *d
}

func optionalAmount(f *float64) *decimal.Decimal {
	if f == nil || math.IsNaN(*f) || math.IsInf(*f, 0) {
		return nil
	}
	d := decimal.NewFromFloat(*f).Round(amountPlaces)
	return &d
}

func confidence(f *float64) *float64 {
	if f == nil || math.IsNaN(*f) {
		return nil
	}
	v := *f
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return &v
}

func lineItems(raw []scanning.LineItem) []LineItem {
	if len(raw) == 0 {
		return nil
	}
	items := make([]LineItem, 0, len(raw))
	for _, li := range raw {
		items = append(items, LineItem{
			Description: strings.TrimSpace(li.Description),
			Quantity:    optionalAmount(li.Quantity),
			UnitPrice:   optionalAmount(li.UnitPrice),
			Amount:      optionalAmount(li.Amount),
		})
	}
	return items
}
