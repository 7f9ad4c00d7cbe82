package service

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"payment-gateway/internal/domain"
	"payment-gateway/internal/errors"
	"payment-gateway/internal/processor"
	"payment-gateway/internal/registry"
)

// CreatePaymentRequest carries a validated creation request.
type CreatePaymentRequest struct {
	Amount           int64
	Currency         string
	InstrumentID     string
	InstrumentExpiry string
	SecurityCode     string
	OrderReference   string
	CallbackURL      string
}

// CreatePaymentResult is the creation flow's outcome: the stored
// transaction plus, for challenge outcomes, the redirect handle.
type CreatePaymentResult struct {
	Transaction *domain.Transaction
	ChallengeURL string
}

// PaymentService drives the creation flow: persist the transaction,
// delegate it to the processor, and record the processor's verdict.
type PaymentService struct {
	store    domain.TransactionStore
	client   processor.Client
	registry *registry.Registry
	logger   *slog.Logger

	mu          sync.RWMutex
	callbackURL string
	failureURL  string
}

func NewPaymentService(store domain.TransactionStore, client processor.Client, reg *registry.Registry, logger *slog.Logger) *PaymentService {
	return &PaymentService{
		store:    store,
		client:   client,
		registry: reg,
		logger:   logger,
	}
}

// SetEndpoints records the gateway's own notification and failure
// targets once the listener address is known.
func (s *PaymentService) SetEndpoints(callbackURL, failureURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbackURL = callbackURL
	s.failureURL = failureURL
}

func (s *PaymentService) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResult, error) {
	if err := validateCreateRequest(req); err != nil {
		return nil, err
	}

	txn := &domain.Transaction{
		ID:             uuid.New(),
		OrderReference: req.OrderReference,
		Amount:         req.Amount,
		Currency:       strings.ToUpper(req.Currency),
		InstrumentID:   req.InstrumentID,
		Status:         domain.StatusCreated,
	}
	if err := s.store.Create(txn); err != nil {
		return nil, err
	}

	callback := req.CallbackURL
	s.mu.RLock()
	if callback == "" {
		callback = s.callbackURL
	}
	failure := s.failureURL
	s.mu.RUnlock()

	resp, err := s.client.Submit(ctx, processor.SubmitRequest{
		Amount:           txn.Amount,
		Currency:         txn.Currency,
		InstrumentID:     req.InstrumentID,
		InstrumentExpiry: req.InstrumentExpiry,
		SecurityCode:     req.SecurityCode,
		OrderReference:   req.OrderReference,
		CallbackURL:      callback,
		FailureURL:       failure,
	})
	if err != nil {
		s.logger.Error("Delegate submission failed", "transaction_id", txn.ID, "error", err)
		// The row must not stay half-created; the single-writer path
		// settles it as failed before the error surfaces.
		if _, updateErr := s.store.UpdateStatus(txn.ID, domain.StatusFailed, domain.UpdateFields{}); updateErr != nil {
			s.logger.Error("Failed to mark transaction failed", "transaction_id", txn.ID, "error", updateErr)
		}
		return nil, err
	}

	result := &CreatePaymentResult{}

	switch resp.Outcome {
	case processor.OutcomeChallengeRequired:
		updated, err := s.store.UpdateStatus(txn.ID, domain.StatusAwaitingChallenge, domain.UpdateFields{ExternalID: &resp.ExternalID})
		if err != nil {
			return nil, err
		}
		s.registry.Register(resp.ExternalID, callback, txn.Amount)
		result.Transaction = updated
		result.ChallengeURL = resp.RedirectURL
	default:
		// Direct outcomes settle via the processor's own notification;
		// only the external id is recorded here.
		updated, err := s.store.UpdateStatus(txn.ID, domain.StatusCreated, domain.UpdateFields{ExternalID: &resp.ExternalID})
		if err != nil {
			return nil, err
		}
		result.Transaction = updated
	}

	s.logger.Info("Payment created",
		"transaction_id", result.Transaction.ID, "external_id", resp.ExternalID, "outcome", resp.Outcome)
	return result, nil
}

func (s *PaymentService) GetPayment(paymentID string) (*domain.Transaction, error) {
	id, err := uuid.Parse(paymentID)
	if err != nil {
		return nil, errors.NewAppError(errors.InvalidInput, "invalid payment id")
	}
	return s.store.GetByID(id)
}

// ResolveChallenge is the human-initiated completion path. It reports
// false when the challenge already expired, was already resolved, or
// never existed.
func (s *PaymentService) ResolveChallenge(externalID string) bool {
	return s.registry.Resolve(externalID)
}

func validateCreateRequest(req CreatePaymentRequest) error {
	if req.Amount <= 0 {
		return errors.NewAppError(errors.InvalidAmount, "amount must be a positive integer")
	}
	if len(req.Currency) != 3 {
		return errors.NewAppError(errors.InvalidInput, "currency must be a 3-letter code")
	}
	if n := len(req.InstrumentID); n < 12 || n > 19 {
		return errors.NewAppError(errors.InvalidInput, "instrument id must be 12 to 19 characters")
	}
	if req.InstrumentExpiry == "" {
		return errors.NewAppError(errors.InvalidInput, "instrument expiry is required")
	}
	if req.SecurityCode == "" {
		return errors.NewAppError(errors.InvalidInput, "security code is required")
	}
	if req.OrderReference == "" {
		return errors.NewAppError(errors.InvalidInput, "order reference is required")
	}
	return nil
}
