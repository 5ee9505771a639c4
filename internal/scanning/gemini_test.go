package scanning

import (
	"github.com/google/generative-ai-go/genai"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("NewGemini", func() {
	It("requires an api key", func() {
		_, err := NewGemini("", "")
		Expect(err).To(MatchError("gemini api key is required"))
	})

	When("given a key", func() {
		var (
			scanner *Gemini
			err     error
		)

		BeforeEach(func() {
			scanner, err = NewGemini("test-key", "")
		})

		AfterEach(func() {
			if scanner != nil {
				scanner.Close()
			}
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should configure the model for structured receipt output", func() {
			Expect(scanner.model.SystemInstruction).NotTo(BeNil())
			Expect(scanner.model.SystemInstruction.Parts).To(ConsistOf(genai.Text(systemInstruction)))
			Expect(scanner.model.ResponseMIMEType).To(Equal("application/json"))
			Expect(scanner.model.ResponseSchema).To(BeIdenticalTo(receiptSchema))
		})

		It("should require the core receipt fields", func() {
			Expect(scanner.model.ResponseSchema.Required).To(ContainElements("total", "vendor_name", "receipt_date"))
		})
	})
})
