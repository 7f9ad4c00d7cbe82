package service

import (
	"context"
	"log/slog"

	"payment-gateway/internal/domain"
	"payment-gateway/internal/errors"
)

// statusVocabulary maps the processor's reported statuses to the
// internal lifecycle enum.
var statusVocabulary = map[string]domain.Status{
	"SUCCESS": domain.StatusSucceeded,
	"FAILED":  domain.StatusFailed,
}

// NotificationResult is the outcome of processing one notification.
// Duplicate marks a redelivered terminal status that was accepted
// without a write.
type NotificationResult struct {
	Status      domain.Status
	FinalAmount int64
	Duplicate   bool
}

// WebhookService is the single entry point for every terminal
// notification, whether it came from the processor, a completed
// challenge, or the expiry timer. The exclusive acquisition totally
// orders all updates per external id; the idempotency and transition
// checks make that ordering's outcome deterministic.
type WebhookService struct {
	store  domain.TransactionStore
	logger *slog.Logger
}

func NewWebhookService(store domain.TransactionStore, logger *slog.Logger) *WebhookService {
	return &WebhookService{
		store:  store,
		logger: logger,
	}
}

func (s *WebhookService) ProcessNotification(ctx context.Context, externalID, reportedStatus string, finalAmount int64) (*NotificationResult, error) {
	s.logger.Info("Processing notification",
		"external_id", externalID, "reported_status", reportedStatus, "final_amount", finalAmount)

	// Unknown vocabulary fails fast, before any lock is taken.
	mapped, ok := statusVocabulary[reportedStatus]
	if !ok {
		return nil, errors.NewAppErrorf(errors.UnknownStatus, "unrecognized status %q", reportedStatus)
	}

	locked, err := s.store.AcquireExclusive(ctx, externalID)
	if err != nil {
		return nil, err
	}
	defer locked.Rollback()

	txn := locked.Transaction()
	if txn == nil {
		locked.Rollback()
		return nil, errors.ErrTransactionNotFound
	}

	// Redelivery of the same terminal outcome is accepted without a
	// write; the stored final amount stays as the first write left it.
	if domain.IsTerminal(txn.Status) && txn.Status == mapped {
		if err := locked.Commit(); err != nil {
			return nil, err
		}
		s.logger.Info("Duplicate notification ignored", "external_id", externalID, "status", txn.Status)
		return &NotificationResult{
			Status:      txn.Status,
			FinalAmount: storedFinalAmount(txn),
			Duplicate:   true,
		}, nil
	}

	// A different outcome for an already-settled transaction is a real
	// conflict, surfaced distinctly from the duplicate case above.
	if err := domain.RequireTransition(txn.Status, mapped); err != nil {
		locked.Rollback()
		s.logger.Warn("Conflicting notification rejected",
			"external_id", externalID, "current_status", txn.Status, "reported_status", reportedStatus)
		return nil, errors.NewAppErrorf(errors.ConflictingTransition,
			"notification %s conflicts with current status %s", reportedStatus, txn.Status).WithDetails(err.Error())
	}

	updated, err := locked.ApplyUpdate(mapped, domain.UpdateFields{FinalAmount: &finalAmount})
	if err != nil {
		return nil, err
	}
	if err := locked.Commit(); err != nil {
		return nil, err
	}

	s.logger.Info("Notification applied",
		"external_id", externalID, "transaction_id", updated.ID, "status", updated.Status)
	return &NotificationResult{Status: updated.Status, FinalAmount: finalAmount}, nil
}

// DeliverNotification lets the pending-challenge registry feed its
// timer and resolution outcomes through the same serialization point.
func (s *WebhookService) DeliverNotification(ctx context.Context, externalID, status string, finalAmount int64) error {
	_, err := s.ProcessNotification(ctx, externalID, status, finalAmount)
	return err
}

func storedFinalAmount(txn *domain.Transaction) int64 {
	if txn.FinalAmount != nil {
		return *txn.FinalAmount
	}
	return txn.Amount
}
