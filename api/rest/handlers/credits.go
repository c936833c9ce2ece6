package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"video-orchestrator/api/rest/middleware"
	"video-orchestrator/core/models"
	"video-orchestrator/core/payments"
	"video-orchestrator/core/tuning"
)

// CreditReader is the slice of the credit repository the API reads from.
type CreditReader interface {
	Balance(ctx context.Context, userID string) (int, error)
	CheckCredits(ctx context.Context, userID string, durationSeconds int) (models.CreditCheck, error)
}

// CreditHandler handles credit-balance and payment-webhook requests
type CreditHandler struct {
	credits  CreditReader
	payments *payments.Service
	tun      *tuning.Tuning
}

// NewCreditHandler creates a new credit handler
func NewCreditHandler(credits CreditReader, payments *payments.Service, tun *tuning.Tuning) *CreditHandler {
	return &CreditHandler{
		credits:  credits,
		payments: payments,
		tun:      tun,
	}
}

// GetCredits handles GET /v1/credits
//
// An optional ?duration=N query returns an affordability check for a
// video of that length alongside the balance.
func (h *CreditHandler) GetCredits(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)

	response := map[string]interface{}{
		"userId": userID,
	}

	if raw := r.URL.Query().Get("duration"); raw != "" {
		duration, err := strconv.Atoi(raw)
		if err != nil || duration < 0 {
			http.Error(w, "Invalid duration parameter", http.StatusBadRequest)
			return
		}
		if _, err := h.tun.CostFor(duration); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		check, err := h.credits.CheckCredits(r.Context(), userID, duration)
		if err != nil {
			http.Error(w, "Failed to check credits: "+err.Error(), http.StatusInternalServerError)
			return
		}
		response["balance"] = check.Balance
		response["check"] = check
	} else {
		balance, err := h.credits.Balance(r.Context(), userID)
		if err != nil {
			http.Error(w, "Failed to fetch balance: "+err.Error(), http.StatusInternalServerError)
			return
		}
		response["balance"] = balance
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// PaymentWebhook handles POST /v1/credits/webhook
func (h *CreditHandler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var input payments.WebhookInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.payments.Process(r.Context(), input)
	if err != nil {
		var ve *models.ValidationError
		if errors.As(err, &ve) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "Failed to process payment event: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}
