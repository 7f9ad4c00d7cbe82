package boltstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-gateway/internal/domain"
	"payment-gateway/internal/errors"
)

var _ domain.TransactionStore = (*Store)(nil)

func newStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTransaction() *domain.Transaction {
	return &domain.Transaction{
		ID:             uuid.New(),
		OrderReference: "order-1",
		Amount:         1000,
		Currency:       "USD",
		InstrumentID:   "5555444433331111",
		Status:         domain.StatusCreated,
	}
}

func strPtr(s string) *string { return &s }
func int64Ptr(v int64) *int64 { return &v }

func TestCreateAndGet(t *testing.T) {
	s := newStore(t)
	txn := newTransaction()

	require.NoError(t, s.Create(txn))
	assert.False(t, txn.CreatedAt.IsZero())

	got, err := s.GetByID(txn.ID)
	require.NoError(t, err)
	assert.Equal(t, txn.ID, got.ID)
	assert.Equal(t, domain.StatusCreated, got.Status)
	assert.Nil(t, got.ExternalID)
}

func TestCreate_DuplicateIdentifier(t *testing.T) {
	s := newStore(t)
	txn := newTransaction()

	require.NoError(t, s.Create(txn))
	err := s.Create(txn)
	assert.ErrorIs(t, err, errors.ErrDuplicateIdentifier)
}

func TestGetByID_NotFound(t *testing.T) {
	s := newStore(t)
	_, err := s.GetByID(uuid.New())
	assert.ErrorIs(t, err, errors.ErrTransactionNotFound)
}

func TestUpdateStatus_AssignsExternalIDOnce(t *testing.T) {
	s := newStore(t)
	txn := newTransaction()
	require.NoError(t, s.Create(txn))

	updated, err := s.UpdateStatus(txn.ID, domain.StatusCreated, domain.UpdateFields{ExternalID: strPtr("psp_1")})
	require.NoError(t, err)
	require.NotNil(t, updated.ExternalID)
	assert.Equal(t, "psp_1", *updated.ExternalID)

	// A later write must not reassign the external id.
	updated, err = s.UpdateStatus(txn.ID, domain.StatusAwaitingChallenge, domain.UpdateFields{ExternalID: strPtr("psp_other")})
	require.NoError(t, err)
	assert.Equal(t, "psp_1", *updated.ExternalID)

	got, err := s.GetByExternalID("psp_1")
	require.NoError(t, err)
	assert.Equal(t, txn.ID, got.ID)
}

func TestGetByExternalID_NotFound(t *testing.T) {
	s := newStore(t)
	_, err := s.GetByExternalID("psp_missing")
	assert.ErrorIs(t, err, errors.ErrTransactionNotFound)
}

func TestAcquireExclusive_CommitPersists(t *testing.T) {
	s := newStore(t)
	txn := newTransaction()
	require.NoError(t, s.Create(txn))
	_, err := s.UpdateStatus(txn.ID, domain.StatusCreated, domain.UpdateFields{ExternalID: strPtr("psp_1")})
	require.NoError(t, err)

	locked, err := s.AcquireExclusive(context.Background(), "psp_1")
	require.NoError(t, err)
	require.NotNil(t, locked.Transaction())

	updated, err := locked.ApplyUpdate(domain.StatusSucceeded, domain.UpdateFields{FinalAmount: int64Ptr(1000)})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSucceeded, updated.Status)
	require.NoError(t, locked.Commit())

	got, err := s.GetByExternalID("psp_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSucceeded, got.Status)
	require.NotNil(t, got.FinalAmount)
	assert.Equal(t, int64(1000), *got.FinalAmount)
}

func TestAcquireExclusive_RollbackDiscards(t *testing.T) {
	s := newStore(t)
	txn := newTransaction()
	require.NoError(t, s.Create(txn))
	_, err := s.UpdateStatus(txn.ID, domain.StatusCreated, domain.UpdateFields{ExternalID: strPtr("psp_1")})
	require.NoError(t, err)

	locked, err := s.AcquireExclusive(context.Background(), "psp_1")
	require.NoError(t, err)
	_, err = locked.ApplyUpdate(domain.StatusFailed, domain.UpdateFields{FinalAmount: int64Ptr(0)})
	require.NoError(t, err)
	require.NoError(t, locked.Rollback())

	got, err := s.GetByExternalID("psp_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, got.Status, "rollback must discard the tentative write entirely")
	assert.Nil(t, got.FinalAmount)
}

func TestAcquireExclusive_UnknownExternalID(t *testing.T) {
	s := newStore(t)

	locked, err := s.AcquireExclusive(context.Background(), "psp_missing")
	require.NoError(t, err)
	assert.Nil(t, locked.Transaction())

	_, err = locked.ApplyUpdate(domain.StatusFailed, domain.UpdateFields{})
	assert.ErrorIs(t, err, errors.ErrPreconditionFailed)
	require.NoError(t, locked.Rollback())
}

func TestLockedTransaction_RollbackAfterCommitIsNoop(t *testing.T) {
	s := newStore(t)
	txn := newTransaction()
	require.NoError(t, s.Create(txn))
	_, err := s.UpdateStatus(txn.ID, domain.StatusCreated, domain.UpdateFields{ExternalID: strPtr("psp_1")})
	require.NoError(t, err)

	locked, err := s.AcquireExclusive(context.Background(), "psp_1")
	require.NoError(t, err)
	_, err = locked.ApplyUpdate(domain.StatusSucceeded, domain.UpdateFields{FinalAmount: int64Ptr(900)})
	require.NoError(t, err)
	require.NoError(t, locked.Commit())
	require.NoError(t, locked.Rollback())

	got, err := s.GetByExternalID("psp_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSucceeded, got.Status)
}
