package receipt

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"
)

const anonymousSubmitter = "anonymous"

// Server handles HTTP requests for ingestion and review
type Server struct {
	service   *Service
	basicAuth BasicAuth
	metrics   *Metrics
	mux       *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

func (b BasicAuth) enabled() bool {
	return b.Username != "" || b.Password != ""
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, basicAuth BasicAuth, metrics *Metrics) *Server {
	return NewServerWithMux(service, basicAuth, metrics, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, basicAuth BasicAuth, metrics *Metrics, mux *http.ServeMux) *Server {
	s := &Server{
		service:   service,
		basicAuth: basicAuth,
		metrics:   metrics,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

type submitterKey struct{}

// submitterFrom returns the identity attached by requireAuth
func submitterFrom(ctx context.Context) string {
	if v, ok := ctx.Value(submitterKey{}).(string); ok && v != "" {
		return v
	}
	return anonymousSubmitter
}

// authenticate checks basic auth credentials and returns the identity of the caller.
// Without configured credentials the X-Submitter header names the caller.
func (s *Server) authenticate(r *http.Request) (string, bool) {
	if !s.basicAuth.enabled() {
		if v := strings.TrimSpace(r.Header.Get("X-Submitter")); v != "" {
			return v, true
		}
		return anonymousSubmitter, true
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return "", false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return "", false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return "", false
	}

	userOK := subtle.ConstantTimeCompare([]byte(credentials[0]), []byte(s.basicAuth.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(credentials[1]), []byte(s.basicAuth.Password)) == 1
	if !userOK || !passOK {
		return "", false
	}
	return credentials[0], true
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		submitter, ok := s.authenticate(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="Fleet Receipts"`)
			writeError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), submitterKey{}, submitter)))
	}
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Submitter")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// route registers an authenticated, instrumented handler
func (s *Server) route(pattern, name string, handler http.HandlerFunc) {
	s.mux.HandleFunc(pattern, s.metrics.instrument(name, s.requireAuth(handler)))
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	// Ingestion sessions
	s.route("POST /api/ingestions", "ingestions.start", s.handleStartIngestion)
	s.route("GET /api/ingestions/{id}", "ingestions.get", s.handleGetIngestion)
	s.route("POST /api/ingestions/{id}/confirm", "ingestions.confirm", s.handleConfirmIngestion)
	s.route("DELETE /api/ingestions/{id}", "ingestions.abort", s.handleAbortIngestion)

	// Stored receipts
	s.route("GET /api/receipts/{id}/file", "receipts.file", s.handleGetReceiptFile)
	s.route("POST /api/receipts/{id}/status", "receipts.status", s.handleTransitionStatus)
	s.route("GET /api/receipts/{id}", "receipts.get", s.handleGetReceipt)
	s.route("GET /api/receipts", "receipts.list", s.handleListReceipts)

	s.route("GET /api/categories", "categories", s.handleListCategories)
	s.route("GET /api/audit", "audit", s.handleListAudit)

	s.mux.HandleFunc("GET /healthz", s.metrics.instrument("health", s.handleHealth))
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

// Handler returns the mux wrapped with CORS handling
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}
