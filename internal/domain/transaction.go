package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a payment transaction.
type Status string

const (
	StatusCreated           Status = "CREATED"
	StatusAwaitingChallenge Status = "AWAITING_CHALLENGE"
	StatusSucceeded         Status = "SUCCEEDED"
	StatusFailed            Status = "FAILED"
)

// Transaction is the system-of-record entity for a single payment.
// Amounts are integers in the smallest currency unit.
type Transaction struct {
	ID             uuid.UUID `json:"id"`
	OrderReference string    `json:"order_reference"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	InstrumentID   string    `json:"instrument_id"`
	Status         Status    `json:"status"`
	ExternalID     *string   `json:"external_id,omitempty"`
	FinalAmount    *int64    `json:"final_amount,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// UpdateFields carries the optional columns a status write may set.
// ExternalID is assigned at most once; stores must never overwrite an
// already-assigned external id.
type UpdateFields struct {
	ExternalID  *string
	FinalAmount *int64
}

// TransactionStore is the only component allowed to mutate a
// transaction's status. AcquireExclusive serializes all writers for a
// given external id.
type TransactionStore interface {
	Create(tx *Transaction) error
	GetByID(id uuid.UUID) (*Transaction, error)
	GetByExternalID(externalID string) (*Transaction, error)

	// UpdateStatus is the unconditional single-writer path used by the
	// creation flow. Notification handling must go through AcquireExclusive.
	UpdateStatus(id uuid.UUID, status Status, fields UpdateFields) (*Transaction, error)

	AcquireExclusive(ctx context.Context, externalID string) (LockedTransaction, error)
}

// LockedTransaction is a scoped exclusive section over one transaction
// row, keyed by external id. Exactly one of Commit or Rollback must run
// before the handle is abandoned; Rollback after Commit is a no-op so
// callers can `defer locked.Rollback()`.
type LockedTransaction interface {
	// Transaction returns the row visible inside the critical section,
	// or nil when no transaction carries the external id.
	Transaction() *Transaction

	// ApplyUpdate writes a tentative status change bound to the locked
	// row. The write only becomes durable on Commit.
	ApplyUpdate(status Status, fields UpdateFields) (*Transaction, error)

	Commit() error
	Rollback() error
}

// Pinger reports storage readiness for health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}
