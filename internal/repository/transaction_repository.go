package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/lib/pq"

	"payment-gateway/internal/domain"
	"payment-gateway/internal/errors"
)

const transactionColumns = `id, order_reference, amount, currency, instrument_id, status, external_id, final_amount, created_at, updated_at`

type transactionRepository struct {
	db     DB
	logger *slog.Logger
}

// NewTransactionRepository returns a Postgres-backed TransactionStore.
// Exclusive acquisition maps onto SELECT ... FOR UPDATE inside a
// database transaction; the unique index on external_id supports the
// lock-and-update lookup pattern.
func NewTransactionRepository(db DB, logger *slog.Logger) domain.TransactionStore {
	return &transactionRepository{
		db:     db,
		logger: logger,
	}
}

func (r *transactionRepository) Create(tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	now := time.Now()
	_, err := r.db.ExecContext(
		context.Background(),
		query,
		tx.ID,
		tx.OrderReference,
		tx.Amount,
		tx.Currency,
		tx.InstrumentID,
		tx.Status,
		tx.ExternalID,
		tx.FinalAmount,
		now,
		now,
	)

	if err != nil {
		if isUniqueViolation(err) {
			r.logger.Warn("Duplicate transaction id on insert", "transaction_id", tx.ID)
			return errors.ErrDuplicateIdentifier
		}
		r.logger.Error("Failed to create transaction", "transaction_id", tx.ID, "error", err)
		return errors.NewAppError(errors.InternalError, "failed to create transaction").WithDetails(err.Error())
	}

	tx.CreatedAt = now
	tx.UpdatedAt = now
	r.logger.Info("Transaction created", "transaction_id", tx.ID, "status", tx.Status)
	return nil
}

func (r *transactionRepository) GetByID(id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	return scanTransaction(r.db.QueryRowContext(context.Background(), query, id))
}

func (r *transactionRepository) GetByExternalID(externalID string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE external_id = $1`
	return scanTransaction(r.db.QueryRowContext(context.Background(), query, externalID))
}

// UpdateStatus writes a status unconditionally. The external id column
// only ever moves from NULL to a value: an already-assigned id is never
// overwritten.
func (r *transactionRepository) UpdateStatus(id uuid.UUID, status domain.Status, fields domain.UpdateFields) (*domain.Transaction, error) {
	query := `
		UPDATE transactions
		SET status = $1,
		    external_id = COALESCE(external_id, $2),
		    final_amount = COALESCE($3, final_amount),
		    updated_at = $4
		WHERE id = $5
		RETURNING ` + transactionColumns

	updated, err := scanTransaction(r.db.QueryRowContext(
		context.Background(), query, status, fields.ExternalID, fields.FinalAmount, time.Now(), id,
	))
	if err != nil {
		return nil, err
	}

	r.logger.Info("Transaction status updated", "transaction_id", id, "status", status)
	return updated, nil
}

// AcquireExclusive opens a database transaction and locks the row
// carrying the external id. Concurrent acquisitions for the same id
// queue on the row lock; distinct ids proceed in parallel.
func (r *transactionRepository) AcquireExclusive(ctx context.Context, externalID string) (domain.LockedTransaction, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		r.logger.Error("Failed to begin exclusive section", "external_id", externalID, "error", err)
		return nil, errors.NewAppError(errors.StorageUnavailable, "failed to acquire exclusive lock").WithDetails(err.Error())
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE external_id = $1 FOR UPDATE`
	txn, err := scanTransaction(tx.QueryRowContext(ctx, query, externalID))
	if err != nil {
		var appErr *errors.AppError
		if stderrors.As(err, &appErr) && appErr.Code == errors.TransactionNotFound {
			// Handle with no bound row; the caller decides how to fail.
			return &lockedTransaction{tx: tx, logger: r.logger, externalID: externalID}, nil
		}
		tx.Rollback()
		return nil, err
	}

	return &lockedTransaction{tx: tx, txn: txn, logger: r.logger, externalID: externalID}, nil
}

// lockedTransaction holds the row lock until Commit or Rollback.
// Whichever runs first wins; the other becomes a no-op, so callers can
// defer Rollback on every exit path.
type lockedTransaction struct {
	tx         *sql.Tx
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

	query := `
		UPDATE transactions
		SET status = $1,
		    external_id = COALESCE(external_id, $2),
		    final_amount = COALESCE($3, final_amount),
		    updated_at = $4
		WHERE id = $5
		RETURNING ` + transactionColumns

	updated, err := scanTransaction(l.tx.QueryRowContext(
		context.Background(), query, status, fields.ExternalID, fields.FinalAmount, time.Now(), l.txn.ID,
	))
	if err != nil {
		return nil, err
	}

	l.txn = updated
	return updated, nil
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

func scanTransaction(row *sql.Row) (*domain.Transaction, error) {
	var txn domain.Transaction
	var externalID sql.NullString
	var finalAmount sql.NullInt64

	err := row.Scan(
		&txn.ID,
		&txn.OrderReference,
		&txn.Amount,
		&txn.Currency,
		&txn.InstrumentID,
		&txn.Status,
		&externalID,
		&finalAmount,
		&txn.CreatedAt,
		&txn.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrTransactionNotFound
		}
		return nil, errors.NewAppError(errors.InternalError, "failed to read transaction").WithDetails(err.Error())
	}

	if externalID.Valid {
		txn.ExternalID = &externalID.String
	}
	if finalAmount.Valid {
		txn.FinalAmount = &finalAmount.Int64
	}
	return &txn, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) && pqErr.Code == "23505" {
		return true
	}
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return false
}
