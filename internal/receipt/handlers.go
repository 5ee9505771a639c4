package receipt

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
)

const maxUploadSize = int64(50 << 20) // 50MB

// writeJSON encodes v with the given status
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes a JSON error body
func writeError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// writeServiceError maps a domain error to a status code and body
func writeServiceError(w http.ResponseWriter, err error) {
	code := MapHTTPStatus(err)
	body := map[string]any{"error": err.Error()}

	var validation *ValidationError
	var duplicate *DuplicateError
	switch {
	case errors.As(err, &validation):
		body["fields"] = validation.Fields
	case errors.As(err, &duplicate):
		body["duplicate"] = duplicate.Signal
	case code == http.StatusInternalServerError:
		slog.Error("Internal error", "error", err)
		body["error"] = "Internal server error"
	}
	writeJSON(w, code, body)
}

// contentTypeFor falls back to the file extension when the part has no Content-Type
func contentTypeFor(header string, filename string) string {
	contentType := strings.ToLower(strings.TrimSpace(header))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	case ".webp":
		return "image/webp"
	}
	return "application/octet-stream"
}

// ingestionResponse is returned when extraction finishes
type ingestionResponse struct {
	SessionID string          `json:"session_id"`
	State     SessionState    `json:"state"`
	Candidate *Receipt        `json:"candidate"`
	Duplicate DuplicateSignal `json:"duplicate"`
}

// handleStartIngestion accepts one receipt image and returns the candidate for review
func (s *Server) handleStartIngestion(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "File is too large. Maximum size is 50MB. Please compress or resize your image.", http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		msg := "No file provided"
		if errors.Is(err, http.ErrMissingFile) {
			msg = "No file was selected. Please choose a file to upload."
		}
		writeError(w, msg, http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	img := Image{
		Filename:    header.Filename,
		ContentType: contentTypeFor(header.Header.Get("Content-Type"), header.Filename),
		Data:        data,
	}
	sessionID, review, err := s.service.StartIngestion(r.Context(), submitterFrom(r.Context()), img)
	if err != nil {
		slog.Error("Error ingesting receipt", "filename", header.Filename, "error", err)
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ingestionResponse{
		SessionID: sessionID,
		State:     StateReviewPending,
		Candidate: review.Candidate,
		Duplicate: review.Duplicate,
	})
}

// handleGetIngestion returns the current view of a session
func (s *Server) handleGetIngestion(w http.ResponseWriter, r *http.Request) {
	snap, err := s.service.GetIngestion(r.PathValue("id"), submitterFrom(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleConfirmIngestion persists the reviewed receipt. An empty body confirms the candidate as is.
func (s *Server) handleConfirmIngestion(w http.ResponseWriter, r *http.Request) {
	var edits Edits
	if err := json.NewDecoder(r.Body).Decode(&edits); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	receipt, err := s.service.ConfirmIngestion(r.Context(), r.PathValue("id"), submitterFrom(r.Context()), edits)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// handleAbortIngestion cancels a session
func (s *Server) handleAbortIngestion(w http.ResponseWriter, r *http.Request) {
	if err := s.service.AbortIngestion(r.PathValue("id"), submitterFrom(r.Context())); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListReceipts returns stored receipts, optionally filtered by ?status=
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.service.ListReceipts(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

// handleGetReceipt returns a single receipt
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.service.GetReceipt(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleGetReceiptFile returns the original image for a receipt
func (s *Server) handleGetReceiptFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetReceiptFile(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleTransitionStatus changes the review status of a receipt
func (s *Server) handleTransitionStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	receipt, err := s.service.TransitionStatus(r.Context(), r.PathValue("id"), submitterFrom(r.Context()), req.Status)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleListCategories returns the canonical category list
func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Categories())
}

// handleListAudit returns the audit log, optionally for one ?receipt_id=
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := s.service.ListAudit(r.Context(), r.URL.Query().Get("receipt_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
