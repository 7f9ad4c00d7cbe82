package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"payment-gateway/internal/domain"
	"payment-gateway/internal/errors"
	"payment-gateway/internal/money"
	"payment-gateway/internal/service"
)

type PaymentHandler struct {
	paymentService *service.PaymentService
}

func NewPaymentHandler(paymentService *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
	}
}

type CreatePaymentRequest struct {
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	InstrumentID     string `json:"instrument_id"`
	InstrumentExpiry string `json:"instrument_expiry"`
	SecurityCode     string `json:"security_code"`
	OrderReference   string `json:"order_reference"`
	CallbackURL      string `json:"callback_url,omitempty"`
}

type PaymentResponse struct {
	PaymentID       string  `json:"payment_id"`
	OrderReference  string  `json:"order_reference"`
	Amount          int64   `json:"amount"`
	AmountFormatted string  `json:"amount_formatted"`
	Currency        string  `json:"currency"`
	Status          string  `json:"status"`
	ExternalID      *string `json:"external_id,omitempty"`
	FinalAmount     *int64  `json:"final_amount,omitempty"`
	ChallengeURL    string  `json:"challenge_url,omitempty"`
}

func paymentResponse(txn *domain.Transaction, challengeURL string) PaymentResponse {
	return PaymentResponse{
		PaymentID:       txn.ID.String(),
		OrderReference:  txn.OrderReference,
		Amount:          txn.Amount,
		AmountFormatted: money.Format(txn.Amount, txn.Currency),
		Currency:        txn.Currency,
		Status:          string(txn.Status),
		ExternalID:      txn.ExternalID,
		FinalAmount:     txn.FinalAmount,
		ChallengeURL:    challengeURL,
	}
}

func (h *PaymentHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewAppError(errors.InvalidInput, "invalid request body").WithDetails(err.Error()))
		return
	}

	result, err := h.paymentService.CreatePayment(r.Context(), service.CreatePaymentRequest{
		Amount:           req.Amount,
		Currency:         req.Currency,
		InstrumentID:     req.InstrumentID,
		InstrumentExpiry: req.InstrumentExpiry,
		SecurityCode:     req.SecurityCode,
		OrderReference:   req.OrderReference,
		CallbackURL:      req.CallbackURL,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, paymentResponse(result.Transaction, result.ChallengeURL))
}

func (h *PaymentHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	txn, err := h.paymentService.GetPayment(vars["payment_id"])
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, paymentResponse(txn, ""))
}
