package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-gateway/internal/domain"
	"payment-gateway/internal/errors"
	"payment-gateway/internal/processor"
	"payment-gateway/internal/registry"
)

// stubClient returns a canned response or error without touching the
// network.
type stubClient struct {
	resp *processor.SubmitResponse
	err  error

	lastRequest processor.SubmitRequest
}

func (c *stubClient) Submit(ctx context.Context, req processor.SubmitRequest) (*processor.SubmitResponse, error) {
	c.lastRequest = req
	if c.err != nil {
		return nil, c.err
	}
	return c.resp, nil
}

// noopScheduler never fires; the creation flow only needs the timer to
// be armed, not to go off.
type noopScheduler struct{}

type noopTimer struct{}

func (noopTimer) Stop() bool { return true }

func (noopScheduler) AfterFunc(d time.Duration, f func()) registry.Timer { return noopTimer{} }

func newPaymentService(t *testing.T, client processor.Client) (*PaymentService, domain.TransactionStore, *registry.Registry) {
	t.Helper()
	store := newTestStore(t)
	reg := registry.New(noopScheduler{}, registry.NotifierFunc(func(ctx context.Context, externalID, status string, finalAmount int64) error {
		return nil
	}), 5*time.Minute, time.Second, testLogger())
	return NewPaymentService(store, client, reg, testLogger()), store, reg
}

func createRequest() CreatePaymentRequest {
	return CreatePaymentRequest{
		Amount:           1000,
		Currency:         "usd",
		InstrumentID:     "5555444433331111",
		InstrumentExpiry: "12/2028",
		SecurityCode:     "123",
		OrderReference:   "order-1",
	}
}

func TestCreatePayment_DirectOutcome(t *testing.T) {
	client := &stubClient{resp: &processor.SubmitResponse{ExternalID: "psp_1", Outcome: processor.OutcomeDirectSuccess}}
	svc, store, reg := newPaymentService(t, client)

	result, err := svc.CreatePayment(context.Background(), createRequest())
	require.NoError(t, err)

	txn := result.Transaction
	assert.Equal(t, domain.StatusCreated, txn.Status, "direct outcomes settle via notification, not here")
	assert.Equal(t, "USD", txn.Currency)
	require.NotNil(t, txn.ExternalID)
	assert.Equal(t, "psp_1", *txn.ExternalID)
	assert.Empty(t, result.ChallengeURL)
	assert.False(t, reg.Pending("psp_1"))

	got, err := store.GetByExternalID("psp_1")
	require.NoError(t, err)
	assert.Equal(t, txn.ID, got.ID)
}

func TestCreatePayment_ChallengeOutcome(t *testing.T) {
	client := &stubClient{resp: &processor.SubmitResponse{
		ExternalID:  "psp_ch",
		Outcome:     processor.OutcomeChallengeRequired,
		RedirectURL: "http://processor/challenges/psp_ch",
	}}
	svc, _, reg := newPaymentService(t, client)

	result, err := svc.CreatePayment(context.Background(), createRequest())
	require.NoError(t, err)

	assert.Equal(t, domain.StatusAwaitingChallenge, result.Transaction.Status)
	assert.Equal(t, "http://processor/challenges/psp_ch", result.ChallengeURL)
	assert.True(t, reg.Pending("psp_ch"), "challenge must be registered for expiry tracking")
}

// recordingStore remembers created transactions so tests can look them
// up after a failed creation flow, where no id is returned.
type recordingStore struct {
	domain.TransactionStore
	created []*domain.Transaction
}

func (s *recordingStore) Create(txn *domain.Transaction) error {
	if err := s.TransactionStore.Create(txn); err != nil {
		return err
	}
	s.created = append(s.created, txn)
	return nil
}

func TestCreatePayment_DelegateFailureMarksFailed(t *testing.T) {
	client := &stubClient{err: errors.NewAppError(errors.DelegateUnavailable, "payment processor unavailable")}
	store := &recordingStore{TransactionStore: newTestStore(t)}
	reg := registry.New(noopScheduler{}, registry.NotifierFunc(func(ctx context.Context, externalID, status string, finalAmount int64) error {
		return nil
	}), 5*time.Minute, time.Second, testLogger())
	svc := NewPaymentService(store, client, reg, testLogger())

	_, err := svc.CreatePayment(context.Background(), createRequest())
	require.Error(t, err)
	assert.Equal(t, errors.DelegateUnavailable, appErrCode(t, err))

	// The row is settled as failed rather than left half-created.
	require.Len(t, store.created, 1)
	got, err := store.GetByID(store.created[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
}

func TestCreatePayment_Validation(t *testing.T) {
	client := &stubClient{resp: &processor.SubmitResponse{ExternalID: "psp_1", Outcome: processor.OutcomeDirectSuccess}}
	svc, _, _ := newPaymentService(t, client)

	tests := []struct {
		name   string
		mutate func(*CreatePaymentRequest)
		code   errors.ErrorCode
	}{
		{"zero amount", func(r *CreatePaymentRequest) { r.Amount = 0 }, errors.InvalidAmount},
		{"negative amount", func(r *CreatePaymentRequest) { r.Amount = -5 }, errors.InvalidAmount},
		{"bad currency", func(r *CreatePaymentRequest) { r.Currency = "US" }, errors.InvalidInput},
		{"short instrument", func(r *CreatePaymentRequest) { r.InstrumentID = "4111" }, errors.InvalidInput},
		{"missing expiry", func(r *CreatePaymentRequest) { r.InstrumentExpiry = "" }, errors.InvalidInput},
		{"missing security code", func(r *CreatePaymentRequest) { r.SecurityCode = "" }, errors.InvalidInput},
		{"missing order reference", func(r *CreatePaymentRequest) { r.OrderReference = "" }, errors.InvalidInput},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := createRequest()
			tc.mutate(&req)
			_, err := svc.CreatePayment(context.Background(), req)
			require.Error(t, err)
			assert.Equal(t, tc.code, appErrCode(t, err))
		})
	}
}

func TestCreatePayment_CallbackDefaultsToGatewayEndpoint(t *testing.T) {
	client := &stubClient{resp: &processor.SubmitResponse{ExternalID: "psp_1", Outcome: processor.OutcomeDirectSuccess}}
	svc, _, _ := newPaymentService(t, client)
	svc.SetEndpoints("http://gateway/webhooks/payments", "http://gateway/payments/failed")

	_, err := svc.CreatePayment(context.Background(), createRequest())
	require.NoError(t, err)
	assert.Equal(t, "http://gateway/webhooks/payments", client.lastRequest.CallbackURL)
	assert.Equal(t, "http://gateway/payments/failed", client.lastRequest.FailureURL)

	req := createRequest()
	req.CallbackURL = "http://merchant/hook"
	_, err = svc.CreatePayment(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "http://merchant/hook", client.lastRequest.CallbackURL, "explicit callback wins")
}

func TestGetPayment_InvalidID(t *testing.T) {
	client := &stubClient{resp: &processor.SubmitResponse{ExternalID: "psp_1", Outcome: processor.OutcomeDirectSuccess}}
	svc, _, _ := newPaymentService(t, client)

	_, err := svc.GetPayment("not-a-uuid")
	require.Error(t, err)
	assert.Equal(t, errors.InvalidInput, appErrCode(t, err))
}

func TestResolveChallenge(t *testing.T) {
	client := &stubClient{resp: &processor.SubmitResponse{
		ExternalID: "psp_ch",
		Outcome:    processor.OutcomeChallengeRequired,
	}}
	svc, _, _ := newPaymentService(t, client)

	_, err := svc.CreatePayment(context.Background(), createRequest())
	require.NoError(t, err)

	assert.True(t, svc.ResolveChallenge("psp_ch"))
	assert.False(t, svc.ResolveChallenge("psp_ch"), "a challenge resolves at most once")
	assert.False(t, svc.ResolveChallenge("psp_unknown"))
}
