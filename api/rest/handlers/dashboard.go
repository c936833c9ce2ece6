package handlers

import (
	"encoding/json"
	"net/http"

	"video-orchestrator/api/rest/middleware"
	"video-orchestrator/core/models"
	"video-orchestrator/core/progress"
	"video-orchestrator/core/repository"
	"video-orchestrator/core/tuning"
)

// DashboardHandler handles account dashboard requests
type DashboardHandler struct {
	agg     *progress.Aggregator
	credits *repository.CreditRepository
	tun     *tuning.Tuning
}

// NewDashboardHandler creates a new dashboard handler
func NewDashboardHandler(
	agg *progress.Aggregator,
	credits *repository.CreditRepository,
	tun *tuning.Tuning,
) *DashboardHandler {
	return &DashboardHandler{
		agg:     agg,
		credits: credits,
		tun:     tun,
	}
}

// GetDashboard returns the account overview: credit balance, jobs in
// flight and the credits currently held by those jobs.
func (h *DashboardHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)

	balance, err := h.credits.Balance(r.Context(), userID)
	if err != nil {
		http.Error(w, "Failed to fetch balance: "+err.Error(), http.StatusInternalServerError)
		return
	}

	jobs := h.agg.Jobs(userID)

	queued := 0
	processing := 0
	creditsInFlight := 0
	for _, job := range jobs {
		switch job.Status {
		case models.JobStatusQueued, models.JobStatusPending:
			queued++
		case models.JobStatusProcessing:
			processing++
		}
		if cost, err := h.tun.CostFor(job.DurationSeconds); err == nil {
			creditsInFlight += cost
		}
	}

	response := map[string]interface{}{
		"balance": balance,
		"jobs": map[string]interface{}{
			"active":     len(jobs),
			"queued":     queued,
			"processing": processing,
		},
		"creditsInFlight": creditsInFlight,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
