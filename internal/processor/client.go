package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"payment-gateway/internal/errors"
)

// Outcome is the processor's classification of a submitted payment.
type Outcome string

const (
	OutcomeDirectSuccess     Outcome = "DIRECT_SUCCESS"
	OutcomeDirectFailure     Outcome = "DIRECT_FAILURE"
	OutcomeChallengeRequired Outcome = "CHALLENGE_REQUIRED"
)

// SubmitRequest is the outbound delegate submission.
type SubmitRequest struct {
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	InstrumentID     string `json:"instrument_id"`
	InstrumentExpiry string `json:"instrument_expiry"`
	SecurityCode     string `json:"security_code"`
	OrderReference   string `json:"order_reference"`
	CallbackURL      string `json:"callback_url"`
	FailureURL       string `json:"failure_url"`
}

// SubmitResponse carries the processor-assigned external id, the
// outcome, and a challenge redirect when one is required.
type SubmitResponse struct {
	ExternalID  string  `json:"external_id"`
	Outcome     Outcome `json:"outcome"`
	RedirectURL string  `json:"redirect_url,omitempty"`
}

// Client submits payments to the external processor.
type Client interface {
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error)
}

// HTTPClient is the production Client implementation.
type HTTPClient struct {
	mu          sync.RWMutex
	baseURL     string
	http        *http.Client
	attempts    int
	backoffBase time.Duration
	logger      *slog.Logger
}

// NewClient returns an HTTP delegate client. attempts is the total try
// count; retries back off as base * 2^(attempt-1) with no jitter.
func NewClient(baseURL string, attempts int, backoffBase time.Duration, logger *slog.Logger) *HTTPClient {
	if attempts < 1 {
		attempts = 1
	}
	return &HTTPClient{
		baseURL:     baseURL,
		http:        &http.Client{Timeout: 10 * time.Second},
		attempts:    attempts,
		backoffBase: backoffBase,
		logger:      logger,
	}
}

// SetBaseURL repoints the client, used when the embedded simulator's
// address is only known after the listener starts.
func (c *HTTPClient) SetBaseURL(baseURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = baseURL
}

// Submit retries connection-level failures and server-class responses
// with exponential backoff; client-class responses abort immediately.
// Callers only ever see the final response or DelegateUnavailable — no
// retryable failure leaks across this boundary.
func (c *HTTPClient) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	var resp *SubmitResponse
	attempt := 0

	operation := func() error {
		attempt++
		r, err := c.doSubmit(ctx, req)
		if err != nil {
			c.logger.Warn("Delegate submission attempt failed",
				"order_reference", req.OrderReference, "attempt", attempt, "error", err)
			return err
		}
		resp = r
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(c.attempts-1)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, errors.NewAppError(errors.DelegateUnavailable, "payment processor unavailable").WithDetails(err.Error())
	}

	c.logger.Info("Delegate submission accepted",
		"order_reference", req.OrderReference, "external_id", resp.ExternalID, "outcome", resp.Outcome, "attempts", attempt)
	return resp, nil
}

func (c *HTTPClient) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.backoffBase
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0
	return b
}

func (c *HTTPClient) doSubmit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	c.mu.RLock()
	url := c.baseURL + "/processor/payments"
	c.mu.RUnlock()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		// Connection-level failure: retryable.
		return nil, err
	}
	defer httpResp.Body.Close()

	switch {
	case httpResp.StatusCode >= 500:
		// Server-class error: retryable.
		return nil, fmt.Errorf("processor returned %d", httpResp.StatusCode)
	case httpResp.StatusCode >= 400:
		// Client-class error: permanent, do not retry.
		msg, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, backoff.Permanent(fmt.Errorf("processor rejected request: %d %s", httpResp.StatusCode, msg))
	}

	var resp SubmitResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decoding processor response: %w", err)
	}
	return &resp, nil
}
