// Package boltstore implements the transaction store on an embedded
// BoltDB file. It provides the same commit/rollback guarantees as the
// Postgres repository without requiring an external database process,
// which also makes it the backend the service-level tests run against.
package boltstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	bolt "github.com/boltdb/bolt"
	"github.com/google/uuid"

	"payment-gateway/internal/domain"
	"payment-gateway/internal/errors"
)

var (
	bucketTransactions = []byte("transactions")
	bucketExternalIDs  = []byte("external_ids")
)

// Store wraps a BoltDB database. Bolt allows a single write transaction
// at a time, so exclusive acquisition serializes all writers globally —
// a stronger guarantee than the per-key ordering the store contract
// requires.
type Store struct {
	db     *bolt.DB
	logger *slog.Logger
}

func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.NewAppError(errors.StorageUnavailable, "failed to open bolt database").WithDetails(err.Error())
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketTransactions); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketExternalIDs)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.NewAppError(errors.StorageUnavailable, "failed to create buckets").WithDetails(err.Error())
	}

	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error { return nil })
}

func (s *Store) Create(txn *domain.Transaction) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTransactions)
		key := []byte(txn.ID.String())
		if b.Get(key) != nil {
			return errors.ErrDuplicateIdentifier
		}

		now := time.Now()
		txn.CreatedAt = now
		txn.UpdatedAt = now

		return putTransaction(tx, txn)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Transaction created", "transaction_id", txn.ID, "status", txn.Status)
	return nil
}

func (s *Store) GetByID(id uuid.UUID) (*domain.Transaction, error) {
	var txn *domain.Transaction
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		txn, err = getByID(tx, id.String())
		return err
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *Store) GetByExternalID(externalID string) (*domain.Transaction, error) {
	var txn *domain.Transaction
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		txn, err = getByExternalID(tx, externalID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, errors.ErrTransactionNotFound
	}
	return txn, nil
}

func (s *Store) UpdateStatus(id uuid.UUID, status domain.Status, fields domain.UpdateFields) (*domain.Transaction, error) {
	var updated *domain.Transaction
	err := s.db.Update(func(tx *bolt.Tx) error {
		txn, err := getByID(tx, id.String())
		if err != nil {
			return err
		}
		applyFields(txn, status, fields)
		if err := putTransaction(tx, txn); err != nil {
			return err
		}
		updated = txn
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Transaction status updated", "transaction_id", id, "status", status)
	return updated, nil
}

// AcquireExclusive opens a Bolt write transaction, which is exclusive by
// construction: any concurrent acquisition blocks until the handle
// commits or rolls back.
func (s *Store) AcquireExclusive(ctx context.Context, externalID string) (domain.LockedTransaction, error) {
	tx, err := s.db.Begin(true)
	if err != nil {
		return nil, errors.NewAppError(errors.StorageUnavailable, "failed to acquire exclusive lock").WithDetails(err.Error())
	}

	txn, err := getByExternalID(tx, externalID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	return &lockedTransaction{tx: tx, txn: txn, logger: s.logger, externalID: externalID}, nil
}

type lockedTransaction struct {
	tx         *bolt.Tx
	txn        *domain.Transaction
	logger     *slog.Logger
	externalID string
	done       bool
}

func (l *lockedTransaction) Transaction() *domain.Transaction {
	return l.txn
}

func (l *lockedTransaction) ApplyUpdate(status domain.Status, fields domain.UpdateFields) (*domain.Transaction, error) {
	if l.txn == nil {
		return nil, errors.ErrPreconditionFailed
	}

	applyFields(l.txn, status, fields)
	if err := putTransaction(l.tx, l.txn); err != nil {
		return nil, err
	}
	return l.txn, nil
}

func (l *lockedTransaction) Commit() error {
	if l.done {
		return nil
	}
	l.done = true

	if err := l.tx.Commit(); err != nil {
		l.logger.Error("Failed to commit exclusive section", "external_id", l.externalID, "error", err)
		return errors.NewAppError(errors.InternalError, "failed to commit update").WithDetails(err.Error())
	}
	return nil
}

func (l *lockedTransaction) Rollback() error {
	if l.done {
		return nil
	}
	l.done = true

	if err := l.tx.Rollback(); err != nil {
		l.logger.Error("Failed to roll back exclusive section", "external_id", l.externalID, "error", err)
		return errors.NewAppError(errors.InternalError, "failed to roll back update").WithDetails(err.Error())
	}
	return nil
}

// applyFields mirrors the SQL update semantics: the external id only
// moves from unset to a value, and the final amount is replaced only
// when the write carries one.
func applyFields(txn *domain.Transaction, status domain.Status, fields domain.UpdateFields) {
	txn.Status = status
	if txn.ExternalID == nil && fields.ExternalID != nil {
		v := *fields.ExternalID
		txn.ExternalID = &v
	}
	if fields.FinalAmount != nil {
		v := *fields.FinalAmount
		txn.FinalAmount = &v
	}
	txn.UpdatedAt = time.Now()
}

func putTransaction(tx *bolt.Tx, txn *domain.Transaction) error {
	data, err := json.Marshal(txn)
	if err != nil {
		return errors.NewAppError(errors.InternalError, "failed to encode transaction").WithDetails(err.Error())
	}
	if err := tx.Bucket(bucketTransactions).Put([]byte(txn.ID.String()), data); err != nil {
		return errors.NewAppError(errors.InternalError, "failed to write transaction").WithDetails(err.Error())
	}
	if txn.ExternalID != nil {
		if err := tx.Bucket(bucketExternalIDs).Put([]byte(*txn.ExternalID), []byte(txn.ID.String())); err != nil {
			return errors.NewAppError(errors.InternalError, "failed to write external id index").WithDetails(err.Error())
		}
	}
	return nil
}

func getByID(tx *bolt.Tx, id string) (*domain.Transaction, error) {
	data := tx.Bucket(bucketTransactions).Get([]byte(id))
	if data == nil {
		return nil, errors.ErrTransactionNotFound
	}
	var txn domain.Transaction
	if err := json.Unmarshal(data, &txn); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to decode transaction").WithDetails(err.Error())
	}
	return &txn, nil
}

// getByExternalID returns nil without error when the external id is
// unknown, matching the locked-handle "not found" contract.
func getByExternalID(tx *bolt.Tx, externalID string) (*domain.Transaction, error) {
	id := tx.Bucket(bucketExternalIDs).Get([]byte(externalID))
	if id == nil {
		return nil, nil
	}
	return getByID(tx, string(id))
}
