package receipt

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/fleet-receipts/internal/scanning"
)

// Config tunes duplicate handling and categorisation
type Config struct {
	Policy          DuplicatePolicy
	AmountTolerance decimal.Decimal
	Normalizer      *CategoryNormalizer
	Metrics         *Metrics
}

// Service owns the ingestion sessions and the review actions on stored receipts
type Service struct {
	db       Store
	scanner  scanning.Scanner
	storage  FileStorage
	adapter  *Adapter
	detector DuplicateDetector
	policy   DuplicatePolicy
	metrics  *Metrics

	mu       sync.Mutex
	sessions map[string]*Session

	statusMu sync.Mutex
}

// NewService creates a new Service with UUIDv7 ids and the system clock
func NewService(db Store, scanner scanning.Scanner, storage FileStorage, cfg Config) *Service {
	return NewServiceWithDeps(db, scanner, storage, cfg, &uuidGenerator{}, &placeholderGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db Store, scanner scanning.Scanner, storage FileStorage, cfg Config, idGen IDGenerator, placeholders IDGenerator, timeSrc TimeSource) *Service {
	policy := cfg.Policy
	if policy == "" {
		policy = PolicyAdvisory
	}
	return &Service{
		db:       db,
		scanner:  scanner,
		storage:  storage,
		adapter:  NewAdapterWithDeps(cfg.Normalizer, idGen, placeholders, timeSrc),
		detector: DuplicateDetector{AmountTolerance: cfg.AmountTolerance},
		policy:   policy,
		metrics:  cfg.Metrics,
		sessions: make(map[string]*Session),
	}
}

func (s *Service) sessionDeps() SessionDeps {
	return SessionDeps{
		Scanner:  s.scanner,
		Store:    s.db,
		Files:    s.storage,
		Adapter:  s.adapter,
		Detector: s.detector,
		Policy:   s.policy,
		Metrics:  s.metrics,
	}
}

// Categories lists the canonical categories
func (s *Service) Categories() []Category {
	return AllCategories()
}

// Policy returns the configured duplicate policy
func (s *Service) Policy() DuplicatePolicy {
	return s.policy
}

// StartIngestion opens a session for submitter and runs extraction on img.
// The session stays registered so that it can be reviewed, confirmed or aborted.
func (s *Service) StartIngestion(ctx context.Context, submitter string, img Image) (string, *Review, error) {
	session := NewSession(s.sessionDeps(), submitter)
	if err := session.Begin(); err != nil {
		return "", nil, err
	}
	s.register(session)

	review, err := session.Capture(ctx, img)
	if err != nil {
		s.unregister(session.ID())
		return "", nil, err
	}
	return session.ID(), review, nil
}

func (s *Service) register(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID()] = session
	s.updateActiveLocked()
}

func (s *Service) unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	s.updateActiveLocked()
}

func (s *Service) updateActiveLocked() {
	active := 0
	for _, session := range s.sessions {
		if !session.State().Terminal() {
			active++
		}
	}
	s.metrics.setActiveSessions(active)
}

// session finds a session owned by actor. Other actors see ErrSessionNotFound.
func (s *Service) session(id, actor string) (*Session, error) {
	s.mu.Lock()
	session, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok || session.Submitter() != strings.TrimSpace(actor) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return session, nil
}

// GetIngestion returns the current view of a session
func (s *Service) GetIngestion(id, actor string) (*SessionSnapshot, error) {
	session, err := s.session(id, actor)
	if err != nil {
		return nil, err
	}
	snap := session.Snapshot()
	return &snap, nil
}

// ConfirmIngestion applies edits and persists the receipt
func (s *Service) ConfirmIngestion(ctx context.Context, id, actor string, edits Edits) (*Receipt, error) {
	session, err := s.session(id, actor)
	if err != nil {
		return nil, err
	}
	receipt, err := session.Confirm(ctx, edits)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.updateActiveLocked()
	s.mu.Unlock()
	return receipt, nil
}

// AbortIngestion cancels a session and forgets it
func (s *Service) AbortIngestion(id, actor string) error {
	session, err := s.session(id, actor)
	if err != nil {
		return err
	}
	if err := session.Abort(); err != nil {
		return err
	}
	s.unregister(id)
	return nil
}

// ReapSessions aborts and drops sessions untouched for longer than maxAge.
// It returns the number of sessions removed.
func (s *Service) ReapSessions(maxAge time.Duration) int {
	cutoff := s.adapter.timeSource.Now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	reaped := 0
	for id, session := range s.sessions {
		if session.UpdatedAt().After(cutoff) {
			continue
		}
		if !session.State().Terminal() {
			if err := session.Abort(); err != nil {
				slog.Warn("Failed to abort stale session", "session_id", id, "error", err)
			}
		}
		delete(s.sessions, id)
		reaped++
	}
	s.updateActiveLocked()
	return reaped
}

// ListReceipts returns receipts with the given status, newest receipt date first.
// An empty status or "all" returns every receipt.
func (s *Service) ListReceipts(ctx context.Context, status string) ([]*Receipt, error) {
	filter := Status(strings.ToLower(strings.TrimSpace(status)))
	if filter == "all" {
		filter = ""
	}
	if filter != "" && !filter.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	all, err := s.db.ListReceipts(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}

	receipts := make([]*Receipt, 0, len(all))
	for _, r := range all {
		if filter == "" || r.Status == filter {
			receipts = append(receipts, r)
		}
	}
	sort.SliceStable(receipts, func(i, j int) bool {
		if receipts[i].Date != receipts[j].Date {
			return receipts[i].Date > receipts[j].Date
		}
		return receipts[i].CreatedAt.After(receipts[j].CreatedAt)
	})
	return receipts, nil
}

// GetReceipt retrieves a receipt by ID
func (s *Service) GetReceipt(ctx context.Context, id string) (*Receipt, error) {
	return s.db.GetReceipt(ctx, id)
}

// GetReceiptFile returns the stored image of a receipt and its content type
func (s *Service) GetReceiptFile(ctx context.Context, id string) ([]byte, string, error) {
	receipt, err := s.db.GetReceipt(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if receipt.Filename == "" {
		return nil, "", fmt.Errorf("%w: no file for receipt %s", ErrNotFound, id)
	}
	data, err := s.storage.Get(receipt.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting file: %w", err)
	}
	return data, receipt.ContentType, nil
}

// TransitionStatus moves a stored receipt to a new review status and records who did it
func (s *Service) TransitionStatus(ctx context.Context, id, actor string, to Status) (*Receipt, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, to)
	}

	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	current, err := s.db.GetReceipt(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, current.Status, to)
	}

	updated, err := s.db.UpdateReceipt(ctx, id, ReceiptUpdate{
		Status:    &to,
		UpdatedAt: s.adapter.timeSource.Now(),
	})
	if err != nil {
		return nil, &PersistenceError{Err: err}
	}
	s.metrics.statusChange(to)

	recordAudit(ctx, s.db, s.adapter, actor, "receipt.status_changed", id, map[string]string{
		"from": string(current.Status),
		"to":   string(to),
	})
	slog.Info("Receipt status changed", "receipt_id", id, "from", current.Status, "to", to, "actor", actor)
	return updated, nil
}

// ListAudit returns the audit log, optionally limited to one receipt, oldest first
func (s *Service) ListAudit(ctx context.Context, entityID string) ([]*AuditEntry, error) {
	entries, err := s.db.ListAudit(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing audit log: %w", err)
	}
	if entityID == "" {
		return entries, nil
	}
	filtered := make([]*AuditEntry, 0)
	for _, e := range entries {
		if e.EntityID == entityID {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}
