package receipt

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DuplicateRule names the heuristic that matched
type DuplicateRule string

const (
	RuleVendorDateAmount DuplicateRule = "vendor_date_amount"
	RuleReceiptNumber    DuplicateRule = "receipt_number"
)

// DuplicatePolicy decides whether a duplicate signal can block confirmation
type DuplicatePolicy string

const (
	// PolicyAdvisory shows the warning and never blocks
	PolicyAdvisory DuplicatePolicy = "advisory"
	// PolicyEnforce rejects confirmation of a duplicate unless the reviewer overrides
	PolicyEnforce DuplicatePolicy = "enforce"
)

// ParseDuplicatePolicy reads a policy name; empty means advisory
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch DuplicatePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyAdvisory:
		return PolicyAdvisory, nil
	case PolicyEnforce:
		return PolicyEnforce, nil
	}
	return "", fmt.Errorf("unknown duplicate policy %q (valid: advisory, enforce)", s)
}

// DuplicateSignal is advisory information shown to the reviewer
type DuplicateSignal struct {
	IsDuplicate bool          `json:"is_duplicate"`
	Rule        DuplicateRule `json:"rule,omitempty"`
	MatchID     string        `json:"match_id,omitempty"`
	Explanation string        `json:"explanation,omitempty"`
}

// DuplicateDetector flags candidates that look like re-submissions.
// AmountTolerance is the largest amount difference still treated as equal;
// zero means amounts must match to the cent.
type DuplicateDetector struct {
	AmountTolerance decimal.Decimal
}

// Find scans existing in order and reports the first probable duplicate of candidate.
// Neither argument is modified.
func (d DuplicateDetector) Find(candidate *Receipt, existing []*Receipt) DuplicateSignal {
	if candidate == nil {
		return DuplicateSignal{}
	}
	vendor := vendorKey(candidate.Vendor)
	checkNumber := !candidate.HasPlaceholderNo() && strings.TrimSpace(candidate.ReceiptNo) != ""

	for _, r := range existing {
		if r == nil || r.ID == candidate.ID {
			continue
		}
		if vendor != "" && vendorKey(r.Vendor) == vendor && r.Date == candidate.Date && d.sameAmount(r.Amount, candidate.Amount) {
			return DuplicateSignal{
				IsDuplicate: true,
				Rule:        RuleVendorDateAmount,
				MatchID:     r.ID,
				Explanation: fmt.Sprintf("A receipt from %s on %s for %s already exists (%s).",
					r.Vendor, r.Date, r.Amount.StringFixed(amountPlaces), r.ReceiptNo),
			}
		}
		if checkNumber && !r.HasPlaceholderNo() && strings.TrimSpace(r.ReceiptNo) == strings.TrimSpace(candidate.ReceiptNo) {
			return DuplicateSignal{
				IsDuplicate: true,
				Rule:        RuleReceiptNumber,
				MatchID:     r.ID,
				Explanation: fmt.Sprintf("Receipt number %s was already submitted for %s on %s.",
					r.ReceiptNo, r.Vendor, r.Date),
			}
		}
	}
	return DuplicateSignal{}
}

func (d DuplicateDetector) sameAmount(a, b decimal.Decimal) bool {
	diff := a.Round(amountPlaces).Sub(b.Round(amountPlaces)).Abs()
	return diff.LessThanOrEqual(d.AmountTolerance.Abs())
}

func vendorKey(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// FindDuplicate applies the exact-match rules to candidate
func FindDuplicate(candidate *Receipt, existing []*Receipt) DuplicateSignal {
	return DuplicateDetector{}.Find(candidate, existing)
}
