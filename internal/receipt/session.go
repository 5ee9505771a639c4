package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/fleet-receipts/internal/scanning"
)

// SessionState is a step of one ingestion flow
type SessionState string

const (
	StateIdle          SessionState = "idle"
	StateCapturing     SessionState = "capturing"
	StateExtracting    SessionState = "extracting"
	StateReviewPending SessionState = "review_pending"
	StateConfirmed     SessionState = "confirmed"
	StateAborted       SessionState = "aborted"
)

// Terminal reports whether no further transition is possible from s
func (s SessionState) Terminal() bool {
	return s == StateConfirmed || s == StateAborted
}

// Image is the single payload captured for a session
type Image struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Review is what the human sees before confirming
type Review struct {
	Candidate *Receipt        `json:"candidate"`
	Duplicate DuplicateSignal `json:"duplicate"`
}

func (r *Review) clone() *Review {
	if r == nil {
		return nil
	}
	return &Review{Candidate: r.Candidate.Clone(), Duplicate: r.Duplicate}
}

// SessionDeps are the collaborators a session drives
type SessionDeps struct {
	Scanner  scanning.Scanner
	Store    Store
	Files    FileStorage
	Adapter  *Adapter
	Detector DuplicateDetector
	Policy   DuplicatePolicy
	Metrics  *Metrics
}

// Session is one human-in-the-loop ingestion flow. Records are written only by Confirm.
type Session struct {
	mu        sync.Mutex
	deps      SessionDeps
	id        string
	submitter string
	state     SessionState
	image     *Image
	review    *Review
	receipt   *Receipt
	updatedAt time.Time
}

// NewSession creates an idle session owned by submitter
func NewSession(deps SessionDeps, submitter string) *Session {
	if deps.Adapter == nil {
		deps.Adapter = NewAdapter(nil)
	}
	if deps.Policy == "" {
		deps.Policy = PolicyAdvisory
	}
	return &Session{
		deps:      deps,
		id:        deps.Adapter.idGenerator.Generate(),
		submitter: strings.TrimSpace(submitter),
		state:     StateIdle,
		updatedAt: deps.Adapter.timeSource.Now(),
	}
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// Submitter returns the identity that owns the session
func (s *Session) Submitter() string {
	return s.submitter
}

// State returns the current state
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UpdatedAt returns the time of the last transition
func (s *Session) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

func (s *Session) setState(state SessionState) {
	s.state = state
	s.updatedAt = s.deps.Adapter.timeSource.Now()
}

func (s *Session) transitionError(to SessionState) error {
	if s.state == StateAborted {
		return fmt.Errorf("%w: %s -> %s", ErrSessionAborted, s.state, to)
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, to)
}

// Begin starts capturing
func (s *Session) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return s.transitionError(StateCapturing)
	}
	s.setState(StateCapturing)
	return nil
}

// Capture hands the image to the scanner and blocks until extraction finishes.
// The lock is released during the scan so Abort can proceed; a result that
// arrives after an abort is discarded.
func (s *Session) Capture(ctx context.Context, img Image) (*Review, error) {
	s.mu.Lock()
	if s.state != StateCapturing {
		err := s.transitionError(StateExtracting)
		s.mu.Unlock()
		return nil, err
	}
	if len(img.Data) == 0 {
		s.mu.Unlock()
		return nil, ErrEmptyImage
	}
	img.ContentType = scanning.NormalizeContentType(img.ContentType, img.Data)
	s.image = &img
	s.setState(StateExtracting)
	s.mu.Unlock()

	slog.Info("Extracting receipt",
		"session_id", s.id,
		"filename", img.Filename,
		"content_type", img.ContentType,
		"file_size", len(img.Data),
	)
	raw, scanErr := s.deps.Scanner.ScanReceipt(ctx, img.Data, img.ContentType)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateExtracting {
		slog.Info("Discarding extraction result for aborted session", "session_id", s.id)
		return nil, fmt.Errorf("%w: result discarded", ErrSessionAborted)
	}
	if scanErr != nil {
		slog.Error("Failed to scan receipt",
			"session_id", s.id,
			"filename", img.Filename,
			"content_type", img.ContentType,
			"error", scanErr,
		)
		s.image = nil
		s.setState(StateAborted)
		s.deps.Metrics.ingestion(outcomeExtractionFailed)
		return nil, &ExtractionError{Err: scanErr}
	}

	candidate := s.deps.Adapter.Adapt(raw, s.submitter)
	candidate.ContentType = img.ContentType
	s.review = &Review{
		Candidate: candidate,
		Duplicate: s.checkDuplicate(ctx, candidate),
	}
	s.setState(StateReviewPending)
	s.deps.Metrics.ingestion(outcomeReviewPending)

	return s.review.clone(), nil
}

// checkDuplicate runs the detector against the collection as it is now.
// A store read failure degrades to a non-duplicate signal with an explanation.
func (s *Session) checkDuplicate(ctx context.Context, candidate *Receipt) DuplicateSignal {
	existing, err := s.deps.Store.ListReceipts(ctx)
	if err != nil {
		slog.Warn("Duplicate check unavailable", "session_id", s.id, "error", err)
		return DuplicateSignal{Explanation: "Duplicate check unavailable: " + err.Error()}
	}
	signal := s.deps.Detector.Find(candidate, existing)
	if signal.IsDuplicate {
		slog.Info("Probable duplicate receipt",
			"session_id", s.id,
			"rule", signal.Rule,
			"match_id", signal.MatchID,
		)
		s.deps.Metrics.duplicate(signal.Rule)
	}
	return signal
}

// Review returns a copy of the pending review
func (s *Session) Review() (*Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReviewPending {
		return nil, fmt.Errorf("%w: no review in state %s", ErrInvalidTransition, s.state)
	}
	return s.review.clone(), nil
}

// SessionSnapshot is a point-in-time view of a session
type SessionSnapshot struct {
	SessionID string           `json:"session_id"`
	State     SessionState     `json:"state"`
	Candidate *Receipt         `json:"candidate,omitempty"`
	Duplicate *DuplicateSignal `json:"duplicate,omitempty"`
	Receipt   *Receipt         `json:"receipt,omitempty"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Snapshot returns the current state with the review or confirmed receipt
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := SessionSnapshot{
		SessionID: s.id,
		State:     s.state,
		Receipt:   s.receipt.Clone(),
		UpdatedAt: s.updatedAt,
	}
	if s.state == StateReviewPending && s.review != nil {
		signal := s.review.Duplicate
		snap.Candidate = s.review.Candidate.Clone()
		snap.Duplicate = &signal
	}
	return snap
}

// AmountInput is a human-entered amount, accepted as a JSON number or string
type AmountInput string

// UnmarshalJSON keeps the literal text so validation can report what was typed
func (a *AmountInput) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*a = AmountInput(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("amount must be a number or string: %w", err)
	}
	*a = AmountInput(n.String())
	return nil
}

// amountPattern is plain decimal notation; exponent forms are rejected
var amountPattern = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// maxAmount is the exclusive upper bound on reviewer-entered amounts
var maxAmount = decimal.New(1, 12)

// Decimal parses the input as a non-negative amount rounded to cents
func (a AmountInput) Decimal() (decimal.Decimal, error) {
	s := strings.TrimSpace(string(a))
	s = strings.TrimPrefix(strings.ToUpper(s), "PHP")
	s = strings.TrimPrefix(s, "₱")
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return decimal.Zero, errors.New("is required")
	}
	if !amountPattern.MatchString(s) {
		return decimal.Zero, errors.New("must be a number")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.New("must be a number")
	}
	if d.IsNegative() {
		return decimal.Zero, errors.New("must not be negative")
	}
	if d.GreaterThanOrEqual(maxAmount) {
		return decimal.Zero, fmt.Errorf("must be less than %s", maxAmount.String())
	}
	return d.Round(amountPlaces), nil
}

// Edits are the reviewer's changes to the candidate. Nil fields keep the candidate value;
// an empty string clears an optional field.
type Edits struct {
	ReceiptNo         *string      `json:"receipt_no,omitempty"`
	Vendor            *string      `json:"vendor,omitempty"`
	VendorBranch      *string      `json:"vendor_branch,omitempty"`
	TaxID             *string      `json:"tax_id,omitempty"`
	DocumentType      *string      `json:"document_type,omitempty"`
	Date              *string      `json:"date,omitempty"`
	Category          *string      `json:"category,omitempty"`
	Currency          *string      `json:"currency,omitempty"`
	Amount            *AmountInput `json:"amount,omitempty"`
	Subtotal          *AmountInput `json:"subtotal,omitempty"`
	Tax               *AmountInput `json:"tax,omitempty"`
	PaymentMethod     *string      `json:"payment_method,omitempty"`
	Notes             *string      `json:"notes,omitempty"`
	OverrideDuplicate bool         `json:"override_duplicate,omitempty"`
}

// apply returns a validated copy of candidate with edits applied
func (s *Session) apply(candidate *Receipt, edits Edits) (*Receipt, error) {
	r := candidate.Clone()
	fields := make(map[string]string)

	if edits.ReceiptNo != nil {
		no := strings.TrimSpace(*edits.ReceiptNo)
		switch {
		case no == "":
			r.ReceiptNo = s.deps.Adapter.placeholders.Generate()
			r.ReceiptNoGenerated = true
		case no != r.ReceiptNo:
			r.ReceiptNo = no
			r.ReceiptNoGenerated = IsPlaceholderReceiptNo(no)
		}
	}
	if edits.Vendor != nil {
		r.Vendor = strings.TrimSpace(*edits.Vendor)
	}
	if strings.TrimSpace(r.Vendor) == "" {
		fields["vendor"] = "is required"
	}
	if edits.Date != nil {
		r.Date = strings.TrimSpace(*edits.Date)
	}
	if r.Date == "" {
		fields["date"] = "is required"
	} else if d, ok := parseDate(r.Date); ok {
		r.Date = d
	} else {
		fields["date"] = "must be a date (YYYY-MM-DD)"
	}

	if edits.Amount != nil {
		if d, err := edits.Amount.Decimal(); err != nil {
			fields["amount"] = err.Error()
		} else {
			r.Amount = d
		}
	}
	if r.Amount.IsNegative() {
		fields["amount"] = "must not be negative"
	}
	r.Subtotal = optionalEdit(r.Subtotal, edits.Subtotal, "subtotal", fields)
	r.Tax = optionalEdit(r.Tax, edits.Tax, "tax", fields)

	if edits.Category != nil {
		r.Category = s.deps.Adapter.normalizer.Normalize(*edits.Category)
		r.CategoryConfidence = nil
	} else {
		r.Category = s.deps.Adapter.normalizer.Normalize(string(r.Category))
	}
	if edits.Currency != nil {
		r.Currency = strings.ToUpper(strings.TrimSpace(*edits.Currency))
	}
	if r.Currency == "" {
		r.Currency = DefaultCurrency
	}

	r.VendorBranch = editString(r.VendorBranch, edits.VendorBranch)
	r.TaxID = editString(r.TaxID, edits.TaxID)
	r.DocumentType = editString(r.DocumentType, edits.DocumentType)
	r.PaymentMethod = editString(r.PaymentMethod, edits.PaymentMethod)
	r.Notes = editString(r.Notes, edits.Notes)

	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}
	return r, nil
}

func editString(current *string, edit *string) *string {
	if edit == nil {
		return current
	}
	return trimmed(edit)
}

func optionalEdit(current *decimal.Decimal, edit *AmountInput, field string, fields map[string]string) *decimal.Decimal {
	if edit == nil {
		return current
	}
	if strings.TrimSpace(string(*edit)) == "" {
		return nil
	}
	d, err := edit.Decimal()
	if err != nil {
		fields[field] = err.Error()
		return current
	}
	return &d
}

// Confirm applies the reviewer's edits, validates, and appends exactly one record.
// Validation, duplicate and persistence failures leave the session in review.
func (s *Session) Confirm(ctx context.Context, edits Edits) (*Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReviewPending {
		return nil, s.transitionError(StateConfirmed)
	}

	final, err := s.apply(s.review.Candidate, edits)
	if err != nil {
		s.deps.Metrics.ingestion(outcomeValidationFailed)
		return nil, err
	}

	if s.deps.Policy == PolicyEnforce && !edits.OverrideDuplicate {
		existing, err := s.deps.Store.ListReceipts(ctx)
		if err != nil {
			s.review.Candidate = final
			s.deps.Metrics.ingestion(outcomePersistenceFailed)
			return nil, &PersistenceError{Err: fmt.Errorf("listing receipts: %w", err)}
		}
		if signal := s.deps.Detector.Find(final, existing); signal.IsDuplicate {
			s.review.Candidate = final
			s.review.Duplicate = signal
			s.deps.Metrics.ingestion(outcomeDuplicateBlocked)
			return nil, &DuplicateError{Signal: signal}
		}
	}

	now := s.deps.Adapter.timeSource.Now()
	final.Status = StatusNeedsReview
	final.UpdatedAt = now
	final.ContentType = s.image.ContentType

	savedPath, err := s.deps.Files.Save(fmt.Sprintf("%s_%s", final.ID, sanitizeFilename(s.image.Filename)), s.image.Data)
	if err != nil {
		s.review.Candidate = final
		s.deps.Metrics.ingestion(outcomePersistenceFailed)
		return nil, &PersistenceError{Err: fmt.Errorf("saving file: %w", err)}
	}
	final.Filename = savedPath

	if err := s.deps.Store.AppendReceipt(ctx, final); err != nil {
		slog.Error("Failed to save receipt", "session_id", s.id, "receipt_id", final.ID, "error", err)
		if delErr := s.deps.Files.Delete(savedPath); delErr != nil {
			slog.Warn("Failed to remove stored image", "session_id", s.id, "filename", savedPath, "error", delErr)
		}
		final.Filename = ""
		s.review.Candidate = final
		s.deps.Metrics.ingestion(outcomePersistenceFailed)
		return nil, &PersistenceError{Err: err}
	}

	s.receipt = final
	s.image = nil
	s.review = nil
	s.setState(StateConfirmed)
	s.deps.Metrics.ingestion(outcomeConfirmed)

	details := map[string]string{
		"session_id": s.id,
		"receipt_no": final.ReceiptNo,
		"vendor":     final.Vendor,
		"amount":     final.Amount.StringFixed(amountPlaces),
	}
	if edits.OverrideDuplicate {
		details["duplicate_override"] = "true"
	}
	recordAudit(ctx, s.deps.Store, s.deps.Adapter, s.submitter, "receipt.confirmed", final.ID, details)

	slog.Info("Receipt confirmed",
		"session_id", s.id,
		"receipt_id", final.ID,
		"vendor", final.Vendor,
		"amount", final.Amount.StringFixed(amountPlaces),
	)
	return final.Clone(), nil
}

// Abort cancels the session and drops the image. An in-flight extraction is left to finish.
func (s *Session) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateCapturing, StateExtracting, StateReviewPending:
	default:
		return s.transitionError(StateAborted)
	}
	s.image = nil
	s.review = nil
	s.setState(StateAborted)
	s.deps.Metrics.ingestion(outcomeAborted)
	slog.Info("Ingestion aborted", "session_id", s.id)
	return nil
}

// recordAudit appends an audit entry; failures are logged, never returned
func recordAudit(ctx context.Context, store Store, adapter *Adapter, actor, action, entityID string, details map[string]string) {
	entry := &AuditEntry{
		ID:         adapter.idGenerator.Generate(),
		Actor:      actor,
		Action:     action,
		EntityType: "receipt",
		EntityID:   entityID,
		Details:    details,
		CreatedAt:  adapter.timeSource.Now(),
	}
	if err := store.AppendAudit(ctx, entry); err != nil {
		slog.Error("Failed to write audit entry", "action", action, "entity_id", entityID, "error", err)
	}
}
