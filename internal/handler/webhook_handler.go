package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"payment-gateway/internal/errors"
	"payment-gateway/internal/service"
)

type WebhookHandler struct {
	webhookService *service.WebhookService
	paymentService *service.PaymentService
}

func NewWebhookHandler(webhookService *service.WebhookService, paymentService *service.PaymentService) *WebhookHandler {
	return &WebhookHandler{
		webhookService: webhookService,
		paymentService: paymentService,
	}
}

type NotificationRequest struct {
	ExternalID  string `json:"external_id"`
	Status      string `json:"status"`
	FinalAmount int64  `json:"final_amount"`
}

type NotificationResponse struct {
	Received    bool   `json:"received"`
	Status      string `json:"status"`
	FinalAmount int64  `json:"final_amount"`
	Duplicate   bool   `json:"duplicate,omitempty"`
}

// HandleNotification is the inbound webhook endpoint. Duplicates are
// accepted with 200; conflicts come back as 409, unknown external ids
// as 404, unknown vocabulary as 400.
func (h *WebhookHandler) HandleNotification(w http.ResponseWriter, r *http.Request) {
	var req NotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewAppError(errors.InvalidInput, "invalid request body").WithDetails(err.Error()))
		return
	}
	if req.ExternalID == "" {
		writeError(w, errors.NewAppError(errors.InvalidInput, "external_id is required"))
		return
	}

	result, err := h.webhookService.ProcessNotification(r.Context(), req.ExternalID, req.Status, req.FinalAmount)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, NotificationResponse{
		Received:    true,
		Status:      string(result.Status),
		FinalAmount: result.FinalAmount,
		Duplicate:   result.Duplicate,
	})
}

type ResolveChallengeResponse struct {
	Resolved bool `json:"resolved"`
}

// CompleteChallenge is the human-initiated resolution trigger.
func (h *WebhookHandler) CompleteChallenge(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	externalID := vars["external_id"]

	if !h.paymentService.ResolveChallenge(externalID) {
		writeError(w, errors.NewAppError(errors.TransactionNotFound, "no pending challenge for external id"))
		return
	}

	writeJSON(w, http.StatusOK, ResolveChallengeResponse{Resolved: true})
}
