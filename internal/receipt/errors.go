package receipt

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Domain errors for receipt operations.
var (
	ErrNotFound                = errors.New("receipt not found")
	ErrDuplicateID             = errors.New("receipt id already exists")
	ErrSessionNotFound         = errors.New("ingestion session not found")
	ErrSessionAborted          = errors.New("ingestion session was aborted")
	ErrInvalidTransition       = errors.New("invalid ingestion state transition")
	ErrInvalidStatusTransition = errors.New("invalid receipt status transition")
	ErrInvalidStatus           = errors.New("unknown receipt status")
	ErrEmptyImage              = errors.New("no image data provided")
	ErrExtractionFailed        = errors.New("receipt extraction failed")
	ErrInvalidReceipt          = errors.New("invalid receipt")
	ErrDuplicateReceipt        = errors.New("probable duplicate receipt")
	ErrPersistence             = errors.New("saving receipt failed")
)

// ExtractionError wraps a scanner failure. The session is aborted.
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s: %v", ErrExtractionFailed, e.Err)
}

func (e *ExtractionError) Unwrap() []error {
	return []error{ErrExtractionFailed, e.Err}
}

// ValidationError lists the fields rejected at confirmation. The session stays in review.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, field := range validationFieldOrder {
		if msg, ok := e.Fields[field]; ok {
			parts = append(parts, field+": "+msg)
		}
	}
	return fmt.Sprintf("%s: %s", ErrInvalidReceipt, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidReceipt
}

var validationFieldOrder = []string{"vendor", "date", "amount", "subtotal", "tax", "category"}

// DuplicateError is returned by confirmation when duplicates are enforced
type DuplicateError struct {
	Signal DuplicateSignal
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDuplicateReceipt, e.Signal.Explanation)
}

func (e *DuplicateError) Unwrap() error {
	return ErrDuplicateReceipt
}

// PersistenceError wraps a store or file write failure. The session stays in review
// and the caller may retry the confirmation.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", ErrPersistence, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// MapHTTPStatus maps receipt domain errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrEmptyImage), errors.Is(err, ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidReceipt):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrDuplicateReceipt),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrInvalidStatusTransition),
		errors.Is(err, ErrSessionAborted),
		errors.Is(err, ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(err, ErrExtractionFailed):
		return http.StatusBadGateway
	case errors.Is(err, ErrPersistence):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
