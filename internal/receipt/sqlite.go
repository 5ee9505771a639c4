package receipt

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS receipts (
	id         TEXT PRIMARY KEY,
	receipt_no TEXT NOT NULL,
	vendor     TEXT NOT NULL,
	date       TEXT NOT NULL,
	status     TEXT NOT NULL,
	data       TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS receipts_vendor_date ON receipts (vendor, date);
CREATE INDEX IF NOT EXISTS receipts_receipt_no ON receipts (receipt_no);

CREATE TABLE IF NOT EXISTS audit_log (
	id         TEXT PRIMARY KEY,
	entity_id  TEXT NOT NULL,
	data       TEXT NOT NULL,
	created_at TEXT NOT NULL
);`

var sqlitePragmas = []string{
	"PRAGMA foreign_keys = ON",
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 10000",
	"PRAGMA synchronous = NORMAL",
}

// SQLiteDB implements the Store interface on SQLite. Each receipt is stored as a
// JSON document with the lookup columns broken out.
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB opens (or creates) the database at path and applies the schema
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	for _, pragma := range sqlitePragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteDB{db: db}, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// AppendReceipt inserts a new receipt
func (s *SQLiteDB) AppendReceipt(ctx context.Context, receipt *Receipt) error {
	data, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("marshaling receipt: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO receipts (id, receipt_no, vendor, date, status, data, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		receipt.ID, receipt.ReceiptNo, strings.ToLower(receipt.Vendor), receipt.Date, string(receipt.Status),
		string(data), receipt.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateID, receipt.ID)
	}
	if err != nil {
		return fmt.Errorf("inserting receipt: %w", err)
	}
	return nil
}

// UpdateReceipt applies update to one receipt inside a transaction
func (s *SQLiteDB) UpdateReceipt(ctx context.Context, id string, update ReceiptUpdate) (*Receipt, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	receipt, err := scanReceipt(tx.QueryRowContext(ctx, `SELECT data FROM receipts WHERE id = ?`, id))
	if err != nil {
		return nil, mapNotFound(err, id)
	}
	applyUpdate(receipt, update)

	data, err := json.Marshal(receipt)
	if err != nil {
		return nil, fmt.Errorf("marshaling receipt: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE receipts SET status = ?, data = ? WHERE id = ?`,
		string(receipt.Status), string(data), id,
	); err != nil {
		return nil, fmt.Errorf("updating receipt: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing update: %w", err)
	}
	return receipt, nil
}

// GetReceipt retrieves a receipt by ID
func (s *SQLiteDB) GetReceipt(ctx context.Context, id string) (*Receipt, error) {
	receipt, err := scanReceipt(s.db.QueryRowContext(ctx, `SELECT data FROM receipts WHERE id = ?`, id))
	if err != nil {
		return nil, mapNotFound(err, id)
	}
	return receipt, nil
}

// ListReceipts returns all receipts in insertion order
func (s *SQLiteDB) ListReceipts(ctx context.Context) ([]*Receipt, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM receipts ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	defer rows.Close()

	receipts := make([]*Receipt, 0)
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return receipts, nil
}

// AppendAudit inserts an audit entry
func (s *SQLiteDB) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling audit entry: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, entity_id, data, created_at) VALUES (?, ?, ?, ?)`,
		entry.ID, entry.EntityID, string(data), entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// ListAudit returns all audit entries, oldest first
func (s *SQLiteDB) ListAudit(ctx context.Context) ([]*AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM audit_log ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("listing audit log: %w", err)
	}
	defer rows.Close()

	entries := make([]*AuditEntry, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		var entry AuditEntry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			return nil, fmt.Errorf("unmarshaling audit entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing audit log: %w", err)
	}
	return entries, nil
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row rowScanner) (*Receipt, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		return nil, err
	}
	var receipt Receipt
	if err := json.Unmarshal([]byte(data), &receipt); err != nil {
		return nil, fmt.Errorf("unmarshaling receipt: %w", err)
	}
	return &receipt, nil
}

func mapNotFound(err error, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}
