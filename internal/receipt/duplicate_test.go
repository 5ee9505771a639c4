package receipt

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

var _ = Describe("DuplicateDetector", func() {
	var (
		detector  DuplicateDetector
		existing  []*Receipt
		candidate *Receipt
		signal    DuplicateSignal
	)

	BeforeEach(func() {
		detector = DuplicateDetector{}
		existing = []*Receipt{shellReceipt()}
		candidate = &Receipt{
			ID:                 "candidate",
			ReceiptNo:          "REC-AUTO-1A2B3C4D",
			ReceiptNoGenerated: true,
			Vendor:             "Petron Cabuyao",
			Date:               "2026-01-30",
			Amount:             decimal.NewFromInt(3500),
		}
	})

	JustBeforeEach(func() {
		signal = detector.Find(candidate, existing)
	})

	When("vendor, date and amount match", func() {
		BeforeEach(func() {
			candidate.Vendor = "SHELL balintawak"
			candidate.Date = "2024-05-18"
			candidate.Amount = decimal.RequireFromString("4200")
		})

		It("should flag rule (a)", func() {
			Expect(signal.IsDuplicate).To(BeTrue())
			Expect(signal.Rule).To(Equal(RuleVendorDateAmount))
			Expect(signal.MatchID).To(Equal("existing-1"))
			Expect(signal.Explanation).To(ContainSubstring("Shell Balintawak"))
		})
	})

	When("only the receipt number matches", func() {
		BeforeEach(func() {
			candidate.ReceiptNo = "SHL-99881"
			candidate.ReceiptNoGenerated = false
		})

		It("should flag rule (b)", func() {
			Expect(signal.IsDuplicate).To(BeTrue())
			Expect(signal.Rule).To(Equal(RuleReceiptNumber))
			Expect(signal.Explanation).To(ContainSubstring("SHL-99881"))
		})
	})

	When("both records carry a placeholder number", func() {
		BeforeEach(func() {
			other := shellReceipt()
			other.ReceiptNo = candidate.ReceiptNo
			other.ReceiptNoGenerated = true
			existing = []*Receipt{other}
		})

		It("should not match on the number", func() {
			Expect(signal.IsDuplicate).To(BeFalse())
		})
	})

	When("an extracted number only looks like a placeholder", func() {
		BeforeEach(func() {
			other := shellReceipt()
			other.ReceiptNo = candidate.ReceiptNo
			existing = []*Receipt{other}
			candidate.ReceiptNoGenerated = false
		})

		It("should compare it like any other number", func() {
			Expect(signal.IsDuplicate).To(BeTrue())
			Expect(signal.Rule).To(Equal(RuleReceiptNumber))
		})
	})

	When("only one side carries a generated number", func() {
		BeforeEach(func() {
			other := shellReceipt()
			other.ReceiptNo = candidate.ReceiptNo
			existing = []*Receipt{other}
		})

		It("should not match on the number", func() {
			Expect(signal.IsDuplicate).To(BeFalse())
		})
	})

	When("nothing matches", func() {
		BeforeEach(func() {
			candidate.ReceiptNo = "PTR-0001"
			candidate.ReceiptNoGenerated = false
		})

		It("should not flag", func() {
			Expect(signal).To(Equal(DuplicateSignal{}))
		})
	})

	When("the candidate is already in the collection", func() {
		BeforeEach(func() {
			candidate = shellReceipt()
		})

		It("should not match itself", func() {
			Expect(signal.IsDuplicate).To(BeFalse())
		})
	})

	When("amounts differ by a centavo", func() {
		BeforeEach(func() {
			candidate.Vendor = "Shell Balintawak"
			candidate.Date = "2024-05-18"
			candidate.Amount = decimal.RequireFromString("4200.01")
		})

		It("should not match without a tolerance", func() {
			Expect(signal.IsDuplicate).To(BeFalse())
		})

		When("a tolerance is configured", func() {
			BeforeEach(func() {
				detector.AmountTolerance = decimal.RequireFromString("0.05")
			})

			It("should match", func() {
				Expect(signal.IsDuplicate).To(BeTrue())
				Expect(signal.Rule).To(Equal(RuleVendorDateAmount))
			})
		})
	})

	When("rule (a) and rule (b) point at different records", func() {
		BeforeEach(func() {
			byNumber := shellReceipt()
			byNumber.ID = "by-number"
			byNumber.ReceiptNo = "PTR-0001"
			byNumber.Vendor = "Caltex Alabang"
			byNumber.Date = "2025-01-01"
			byValues := shellReceipt()
			byValues.ID = "by-values"
			byValues.ReceiptNo = "CLX-1"
			byValues.Vendor = "Petron Cabuyao"
			byValues.Date = "2026-01-30"
			byValues.Amount = decimal.NewFromInt(3500)
			existing = []*Receipt{byNumber, byValues}

			candidate.ReceiptNo = "PTR-0001"
			candidate.ReceiptNoGenerated = false
		})

		It("should report the first matching record in order", func() {
			Expect(signal.MatchID).To(Equal("by-number"))
			Expect(signal.Rule).To(Equal(RuleReceiptNumber))
		})
	})

	It("should not modify its inputs", func() {
		before := existing[0].Clone()
		detector.Find(candidate, existing)
		Expect(existing[0]).To(Equal(before))
	})

	It("should handle a nil candidate", func() {
		Expect(detector.Find(nil, existing).IsDuplicate).To(BeFalse())
	})

	DescribeTable("ParseDuplicatePolicy",
		func(in string, expected DuplicatePolicy, ok bool) {
			p, err := ParseDuplicatePolicy(in)
			if !ok {
				Expect(err).To(HaveOccurred())
				return
			}
			Expect(err).NotTo(HaveOccurred())
			Expect(p).To(Equal(expected))
		},
		Entry("empty", "", PolicyAdvisory, true),
		Entry("advisory", "advisory", PolicyAdvisory, true),
		Entry("enforce upper case", "ENFORCE", PolicyEnforce, true),
		Entry("unknown", "block", DuplicatePolicy(""), false),
	)
})
