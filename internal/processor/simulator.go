package processor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// Simulator stands in for the external payment processor. Its whole
// contract: accept a submission, then either deliver exactly one
// terminal notification to the callback target, or hand back a
// challenge redirect and deliver nothing.
//
// The outcome is decided by the instrument prefix:
//
//	4000... -> direct failure
//	4111... -> 3-D Secure challenge required
//	others  -> direct success
type Simulator struct {
	logger      *slog.Logger
	notifyDelay time.Duration
	http        *http.Client
}

func NewSimulator(logger *slog.Logger, notifyDelay time.Duration) *Simulator {
	return &Simulator{
		logger:      logger.With("component", "processor-simulator"),
		notifyDelay: notifyDelay,
		http:        &http.Client{Timeout: 10 * time.Second},
	}
}

// AppendRoutes mounts the simulator endpoints on a router.
func (s *Simulator) AppendRoutes(router *mux.Router) {
	router.HandleFunc("/processor/payments", s.handleSubmit).Methods("POST")
}

func (s *Simulator) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Amount <= 0 || len(req.Currency) != 3 || req.InstrumentID == "" {
		http.Error(w, "invalid submission", http.StatusUnprocessableEntity)
		return
	}

	externalID := "psp_" + uuid.New().String()
	resp := SubmitResponse{ExternalID: externalID}

	switch {
	case strings.HasPrefix(req.InstrumentID, "4000"):
		resp.Outcome = OutcomeDirectFailure
		s.scheduleNotification(req.CallbackURL, externalID, "FAILED", req.Amount)
	case strings.HasPrefix(req.InstrumentID, "4111"):
		resp.Outcome = OutcomeChallengeRequired
		resp.RedirectURL = fmt.Sprintf("http://%s/processor/challenges/%s", r.Host, externalID)
	default:
		resp.Outcome = OutcomeDirectSuccess
		s.scheduleNotification(req.CallbackURL, externalID, "SUCCESS", req.Amount)
	}

	s.logger.Info("Payment submission accepted",
		"external_id", externalID, "outcome", resp.Outcome, "order_reference", req.OrderReference)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}

func (s *Simulator) scheduleNotification(callbackURL, externalID, status string, amount int64) {
	if callbackURL == "" {
		return
	}

	time.AfterFunc(s.notifyDelay, func() {
		body, _ := json.Marshal(map[string]interface{}{
			"external_id":  externalID,
			"status":       status,
			"final_amount": amount,
		})

		resp, err := s.http.Post(callbackURL, "application/json", bytes.NewReader(body))
		if err != nil {
			s.logger.Error("Failed to deliver notification", "external_id", externalID, "error", err)
			return
		}
		resp.Body.Close()

		s.logger.Info("Notification delivered",
			"external_id", externalID, "status", status, "http_status", resp.StatusCode)
	})
}
