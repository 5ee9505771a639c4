package receipt

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"github.com/shopspring/decimal"
)

var _ = Describe("Server", func() {
	var (
		db          *mockStore
		storage     *mockStorage
		scanner     *mockScanner
		cfg         Config
		auth        BasicAuth
		metrics     *Metrics
		service     *Service
		server      *Server
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		db = newMockStore()
		storage = newMockStorage()
		scanner = newMockScanner()
		cfg = Config{}
		auth = BasicAuth{}
		metrics = NewMetrics()
	})

	JustBeforeEach(func() {
		cfg.Metrics = metrics
		service = NewServiceWithDeps(db, scanner, storage, cfg,
			&mockIDGenerator{prefix: "id"},
			&mockIDGenerator{prefix: "REC-AUTO-TEST"},
			&mockTimeSource{now: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)},
		)
		server = NewServerWithMux(service, auth, metrics, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		for _, method := range []string{"GET", "POST", "DELETE", "OPTIONS"} {
			ghttpServer.RouteToHandler(method, regexp.MustCompile(`^/`), server.ServeHTTP)
		}
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	do := func(method, path string, body io.Reader, headers map[string]string) *http.Response {
		req, err := http.NewRequest(method, ghttpServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decode := func(resp *http.Response, v any) {
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(json.Unmarshal(body, v)).To(Succeed(), string(body))
	}

	upload := func(submitter string) *http.Response {
		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		part, err := writer.CreateFormFile("file", "IMG_2041.jpg")
		Expect(err).NotTo(HaveOccurred())
		part.Write([]byte("fake image data"))
		Expect(writer.Close()).To(Succeed())
		headers := map[string]string{"Content-Type": writer.FormDataContentType()}
		if submitter != "" {
			headers["X-Submitter"] = submitter
		}
		return do("POST", "/api/ingestions", &buf, headers)
	}

	startSession := func() string {
		resp := upload("Juan Dela Cruz")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		var out ingestionResponse
		decode(resp, &out)
		return out.SessionID
	}

	asJuan := map[string]string{"X-Submitter": "Juan Dela Cruz", "Content-Type": "application/json"}

	Describe("POST /api/ingestions", func() {
		It("should return the candidate for review", func() {
			resp := upload("Juan Dela Cruz")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

			var out ingestionResponse
			decode(resp, &out)
			Expect(out.SessionID).NotTo(BeEmpty())
			Expect(out.State).To(Equal(StateReviewPending))
			Expect(out.Candidate.Vendor).To(Equal("Petron Cabuyao"))
			Expect(out.Candidate.Submitter).To(Equal("Juan Dela Cruz"))
			Expect(out.Candidate.Category).To(Equal(CategoryFuel))
			Expect(out.Duplicate.IsDuplicate).To(BeFalse())
			Expect(db.count()).To(Equal(0))
		})

		It("should default the submitter to anonymous", func() {
			var out ingestionResponse
			decode(upload(""), &out)
			Expect(out.Candidate.Submitter).To(Equal("anonymous"))
		})

		It("should reject a request without a file", func() {
			var buf bytes.Buffer
			writer := multipart.NewWriter(&buf)
			writer.WriteField("note", "no file")
			writer.Close()
			resp := do("POST", "/api/ingestions", &buf, map[string]string{"Content-Type": writer.FormDataContentType()})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})

		When("extraction fails", func() {
			BeforeEach(func() {
				scanner.scanErr = errors.New("model unavailable")
			})

			It("should return Bad Gateway", func() {
				resp := upload("Juan Dela Cruz")
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
				var out map[string]any
				decode(resp, &out)
				Expect(out["error"]).To(ContainSubstring("extraction failed"))
			})
		})
	})

	Describe("GET /api/ingestions/{id}", func() {
		It("should return the session to its owner", func() {
			id := startSession()
			resp := do("GET", "/api/ingestions/"+id, nil, asJuan)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var snap SessionSnapshot
			decode(resp, &snap)
			Expect(snap.State).To(Equal(StateReviewPending))
			Expect(snap.Candidate.Vendor).To(Equal("Petron Cabuyao"))
		})

		It("should hide it from other submitters", func() {
			id := startSession()
			resp := do("GET", "/api/ingestions/"+id, nil, map[string]string{"X-Submitter": "Pedro"})
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})
	})

	Describe("POST /api/ingestions/{id}/confirm", func() {
		It("should create the receipt", func() {
			id := startSession()
			resp := do("POST", "/api/ingestions/"+id+"/confirm", strings.NewReader(`{"amount": "3,600.00", "category": "Toll"}`), asJuan)
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var r Receipt
			decode(resp, &r)
			Expect(r.Amount.StringFixed(2)).To(Equal("3600.00"))
			Expect(r.Category).To(Equal(CategoryTolls))
			Expect(db.count()).To(Equal(1))
		})

		It("should accept an empty body", func() {
			id := startSession()
			resp := do("POST", "/api/ingestions/"+id+"/confirm", nil, asJuan)
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			resp.Body.Close()
		})

		It("should return field errors for invalid edits", func() {
			id := startSession()
			resp := do("POST", "/api/ingestions/"+id+"/confirm", strings.NewReader(`{"vendor": "", "amount": -3}`), asJuan)
			Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
			var out struct {
				Error  string            `json:"error"`
				Fields map[string]string `json:"fields"`
			}
			decode(resp, &out)
			Expect(out.Fields).To(HaveKey("vendor"))
			Expect(out.Fields).To(HaveKey("amount"))
			Expect(db.count()).To(Equal(0))
		})

		It("should reject malformed JSON", func() {
			id := startSession()
			resp := do("POST", "/api/ingestions/"+id+"/confirm", strings.NewReader(`{"amount":`), asJuan)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})

		When("the store is down", func() {
			BeforeEach(func() {
				db.appendErr = errors.New("connection reset")
			})

			It("should return Service Unavailable and keep the session", func() {
				id := startSession()
				resp := do("POST", "/api/ingestions/"+id+"/confirm", nil, asJuan)
				Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
				resp.Body.Close()

				resp = do("GET", "/api/ingestions/"+id, nil, asJuan)
				var snap SessionSnapshot
				decode(resp, &snap)
				Expect(snap.State).To(Equal(StateReviewPending))
			})
		})

		When("duplicates are enforced", func() {
			BeforeEach(func() {
				cfg.Policy = PolicyEnforce
				existing := shellReceipt()
				existing.Vendor = "Petron Cabuyao"
				existing.Date = "2026-01-30"
				existing.Amount = decimal.NewFromInt(3500)
				db = newMockStore(existing)
			})

			It("should return Conflict with the signal", func() {
				id := startSession()
				resp := do("POST", "/api/ingestions/"+id+"/confirm", nil, asJuan)
				Expect(resp.StatusCode).To(Equal(http.StatusConflict))
				var out struct {
					Duplicate DuplicateSignal `json:"duplicate"`
				}
				decode(resp, &out)
				Expect(out.Duplicate.IsDuplicate).To(BeTrue())
			})
		})
	})

	Describe("DELETE /api/ingestions/{id}", func() {
		It("should abort the session", func() {
			id := startSession()
			resp := do("DELETE", "/api/ingestions/"+id, nil, asJuan)
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			resp.Body.Close()

			resp = do("GET", "/api/ingestions/"+id, nil, asJuan)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})
	})

	Describe("receipts", func() {
		BeforeEach(func() {
			stored := shellReceipt()
			stored.Filename = "existing-1_shell.jpg"
			stored.ContentType = "image/jpeg"
			db = newMockStore(stored)
			storage.files["existing-1_shell.jpg"] = []byte("jpeg bytes")
		})

		It("should list receipts", func() {
			resp := do("GET", "/api/receipts", nil, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var receipts []*Receipt
			decode(resp, &receipts)
			Expect(receipts).To(HaveLen(1))
		})

		It("should filter by status", func() {
			resp := do("GET", "/api/receipts?status=approved", nil, nil)
			var receipts []*Receipt
			decode(resp, &receipts)
			Expect(receipts).To(BeEmpty())
		})

		It("should reject an unknown status filter", func() {
			resp := do("GET", "/api/receipts?status=paid", nil, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})

		It("should return one receipt", func() {
			resp := do("GET", "/api/receipts/existing-1", nil, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var r Receipt
			decode(resp, &r)
			Expect(r.ReceiptNo).To(Equal("SHL-99881"))
		})

		It("should return Not Found for a missing receipt", func() {
			resp := do("GET", "/api/receipts/missing", nil, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})

		It("should serve the stored image", func() {
			resp := do("GET", "/api/receipts/existing-1/file", nil, nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/jpeg"))
			body, _ := io.ReadAll(resp.Body)
			Expect(body).To(Equal([]byte("jpeg bytes")))
		})

		It("should change the status", func() {
			resp := do("POST", "/api/receipts/existing-1/status", strings.NewReader(`{"status": "reviewed"}`), asJuan)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var r Receipt
			decode(resp, &r)
			Expect(r.Status).To(Equal(StatusReviewed))

			resp = do("GET", "/api/audit?receipt_id=existing-1", nil, nil)
			var entries []*AuditEntry
			decode(resp, &entries)
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Actor).To(Equal("Juan Dela Cruz"))
		})

		It("should refuse a disallowed status change", func() {
			resp := do("POST", "/api/receipts/existing-1/status", strings.NewReader(`{"status": "approved"}`), asJuan)
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			resp.Body.Close()
		})
	})

	Describe("GET /api/categories", func() {
		It("should list the vocabulary", func() {
			resp := do("GET", "/api/categories", nil, nil)
			var categories []Category
			decode(resp, &categories)
			Expect(categories).To(Equal(AllCategories()))
		})
	})

	Describe("GET /healthz and /metrics", func() {
		It("should report healthy", func() {
			resp := do("GET", "/healthz", nil, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
		})

		It("should expose ingestion metrics", func() {
			startSession()
			resp := do("GET", "/metrics", nil, nil)
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			Expect(string(body)).To(ContainSubstring(`receipt_ingestions_total{outcome="review_pending"} 1`))
			Expect(string(body)).To(ContainSubstring(`http_requests_total{handler="ingestions.start",method="POST",status="200"} 1`))
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests", func() {
			resp := do("OPTIONS", "/api/receipts", nil, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			resp.Body.Close()
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "dispatch", Password: "s3cret"}
		})

		It("should reject missing credentials", func() {
			resp := do("GET", "/api/receipts", nil, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
			resp.Body.Close()
		})

		It("should reject wrong credentials", func() {
			req, _ := http.NewRequest("GET", ghttpServer.URL()+"/api/receipts", nil)
			req.SetBasicAuth("dispatch", "wrong")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			resp.Body.Close()
		})

		It("should use the username as the submitter", func() {
			var buf bytes.Buffer
			writer := multipart.NewWriter(&buf)
			part, _ := writer.CreateFormFile("file", "r.jpg")
			part.Write([]byte("fake image data"))
			writer.Close()

			req, _ := http.NewRequest("POST", ghttpServer.URL()+"/api/ingestions", &buf)
			req.Header.Set("Content-Type", writer.FormDataContentType())
			req.Header.Set("X-Submitter", "spoofed")
			req.SetBasicAuth("dispatch", "s3cret")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var out ingestionResponse
			decode(resp, &out)
			Expect(out.Candidate.Submitter).To(Equal("dispatch"))
		})

		It("should leave health checks open", func() {
			resp := do("GET", "/healthz", nil, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
		})
	})
})
