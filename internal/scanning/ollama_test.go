package scanning

import (
	"context"
	"encoding/json"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Ollama", func() {
	var (
		server  *ghttp.Server
		scanner *Ollama
		raw     *RawExtraction
		err     error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		scanner, err = NewOllama(server.URL(), "llava")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		// PNG input is passed through without decoding
		raw, err = scanner.ScanReceipt(context.Background(), []byte("png bytes"), "image/png")
	})

	When("the model returns a receipt", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
				ghttp.VerifyContentType("application/json"),
				func(w http.ResponseWriter, r *http.Request) {
					var req ollamaChatRequest
					Expect(json.NewDecoder(r.Body).Decode(&req)).To(Succeed())
					Expect(req.Model).To(Equal("llava"))
					Expect(req.Stream).To(BeFalse())
					Expect(req.Messages).To(HaveLen(2))
					Expect(req.Messages[1].Images).To(HaveLen(1))
					Expect(req.Format).To(Equal("json"))
					Expect(req.Options).NotTo(BeNil())
					Expect(req.Options.Temperature).To(BeZero())
				},
				ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
					Message: ollamaMessage{
						Role:    "assistant",
						Content: `{"vendor_name": "Petron Cabuyao", "receipt_date": "2026-01-30", "total": 3500}`,
					},
					Done: true,
				}),
			))
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should parse the extraction", func() {
			Expect(*raw.VendorName).To(Equal("Petron Cabuyao"))
			Expect(*raw.Total).To(Equal(3500.0))
		})
	})

	When("the API returns an error status", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "model not loaded"))
		})

		It("returns the error", func() {
			Expect(err).To(MatchError(ContainSubstring("status 500")))
		})
	})

	When("the model has not been pulled", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusNotFound, `{"error":"model 'llava' not found"}`))
		})

		It("names the missing model", func() {
			Expect(err).To(MatchError(ContainSubstring(`ollama model "llava" not available`)))
		})
	})

	When("the model returns prose instead of JSON", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
				Message: ollamaMessage{Role: "assistant", Content: "I cannot read this receipt."},
				Done:    true,
			}))
		})

		It("returns the error", func() {
			Expect(err).To(MatchError(ContainSubstring("parsing receipt data")))
		})
	})
})

var _ = Describe("NewOllama", func() {
	It("should apply defaults", func() {
		o, err := NewOllama("", "")
		Expect(err).NotTo(HaveOccurred())
		Expect(o.baseURL).To(Equal("http://localhost:11434"))
		Expect(o.model).To(Equal("llava"))
	})
})
