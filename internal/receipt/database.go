package receipt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	receiptBucketName = "receipts"
	auditBucketName   = "audit_log"
)

// Store defines the persisted receipt collection
type Store interface {
	// AppendReceipt adds a new receipt. It fails with ErrDuplicateID if the id exists.
	AppendReceipt(ctx context.Context, receipt *Receipt) error

	// UpdateReceipt applies a partial update to one receipt and returns the result
	UpdateReceipt(ctx context.Context, id string, update ReceiptUpdate) (*Receipt, error)

	// GetReceipt retrieves a receipt by ID
	GetReceipt(ctx context.Context, id string) (*Receipt, error)

	// ListReceipts returns all receipts
	ListReceipts(ctx context.Context) ([]*Receipt, error)

	// AppendAudit records an audit entry
	AppendAudit(ctx context.Context, entry *AuditEntry) error

	// ListAudit returns all audit entries, oldest first
	ListAudit(ctx context.Context) ([]*AuditEntry, error)

	// Close closes the database connection
	Close() error
}

// applyUpdate mutates r according to update
func applyUpdate(r *Receipt, update ReceiptUpdate) {
	if update.Status != nil {
		r.Status = *update.Status
	}
	if !update.UpdatedAt.IsZero() {
		r.UpdatedAt = update.UpdatedAt
	}
}

// BoltDB implements the Store interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{receiptBucketName, auditBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// AppendReceipt stores a new receipt
func (b *BoltDB) AppendReceipt(ctx context.Context, receipt *Receipt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptBucketName))
		if bucket.Get([]byte(receipt.ID)) != nil {
			return fmt.Errorf("%w: %s", ErrDuplicateID, receipt.ID)
		}
		data, err := json.Marshal(receipt)
		if err != nil {
			return fmt.Errorf("marshaling receipt: %w", err)
		}
		return bucket.Put([]byte(receipt.ID), data)
	})
}

// UpdateReceipt applies update to the stored receipt inside one transaction
func (b *BoltDB) UpdateReceipt(ctx context.Context, id string, update ReceiptUpdate) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var receipt Receipt
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err := json.Unmarshal(data, &receipt); err != nil {
			return fmt.Errorf("unmarshaling receipt: %w", err)
		}
		applyUpdate(&receipt, update)
		updated, err := json.Marshal(&receipt)
		if err != nil {
			return fmt.Errorf("marshaling receipt: %w", err)
		}
		return bucket.Put([]byte(id), updated)
	})
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// GetReceipt retrieves a receipt by ID
func (b *BoltDB) GetReceipt(ctx context.Context, id string) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var receipt *Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &receipt)
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ListReceipts returns all receipts in key order
func (b *BoltDB) ListReceipts(ctx context.Context) ([]*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	receipts := make([]*Receipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var receipt Receipt
			if err := json.Unmarshal(v, &receipt); err != nil {
				return fmt.Errorf("unmarshaling receipt: %w", err)
			}
			receipts = append(receipts, &receipt)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return receipts, nil
}

// AppendAudit stores an audit entry. Entries are keyed by id; UUIDv7 ids keep them in time order.
func (b *BoltDB) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(auditBucketName))
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshaling audit entry: %w", err)
		}
		return bucket.Put([]byte(entry.ID), data)
	})
}

// ListAudit returns all audit entries
func (b *BoltDB) ListAudit(ctx context.Context) ([]*AuditEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries := make([]*AuditEntry, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(auditBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var entry AuditEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("unmarshaling audit entry: %w", err)
			}
			entries = append(entries, &entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
