package routes

import (
	"net/http"

	"video-orchestrator/api/rest/handlers"
	"video-orchestrator/api/rest/middleware"
	"video-orchestrator/core/cache"
	"video-orchestrator/core/orchestrator"
	"video-orchestrator/core/payments"
	"video-orchestrator/core/progress"
	"video-orchestrator/core/renderer"
	"video-orchestrator/core/repository"
	"video-orchestrator/core/tuning"
	"video-orchestrator/storage"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps carries everything the HTTP surface needs.
type Deps struct {
	DB       *repository.DB
	Orch     *orchestrator.Orchestrator
	Agg      *progress.Aggregator
	Render   *renderer.Client
	Payments *payments.Service
	Archiver *storage.Archiver  // optional
	Statuses *cache.StatusCache // optional
	Tuning   *tuning.Tuning
	Limiter  func(next http.Handler) http.Handler // optional
}

// SetupRoutes configures all API routes
func SetupRoutes(r *mux.Router, deps Deps) {
	creditRepo := repository.NewCreditRepository(deps.DB, deps.Tuning)
	eventRepo := repository.NewEventRepository(deps.DB)

	videoHandler := handlers.NewVideoHandler(deps.Orch, deps.Agg, deps.Render, eventRepo, deps.Archiver, deps.Statuses, deps.Tuning)
	creditHandler := handlers.NewCreditHandler(creditRepo, deps.Payments, deps.Tuning)
	dashboardHandler := handlers.NewDashboardHandler(deps.Agg, creditRepo, deps.Tuning)

	r.Use(middleware.RequestID)
	r.Handle("/metrics", promhttp.Handler())

	// Webhooks carry their own idempotency key and are authenticated by
	// the payment provider, not by a user session.
	r.HandleFunc("/v1/credits/webhook", creditHandler.PaymentWebhook).Methods("POST")

	api := r.PathPrefix("/v1").Subrouter()
	api.Use(middleware.Auth)
	if deps.Limiter != nil {
		api.Use(deps.Limiter)
	}

	// Video endpoints
	api.HandleFunc("/videos", videoHandler.SubmitVideo).Methods("POST")
	api.HandleFunc("/videos", videoHandler.ListVideos).Methods("GET")
	api.HandleFunc("/videos/{id}", videoHandler.GetVideo).Methods("GET")
	api.HandleFunc("/videos/{id}/cancel", videoHandler.CancelVideo).Methods("POST")
	api.HandleFunc("/videos/{id}/download", videoHandler.DownloadVideo).Methods("GET")
	api.HandleFunc("/jobs/{id}/events", videoHandler.GetJobEvents).Methods("GET")

	// Account endpoints
	api.HandleFunc("/credits", creditHandler.GetCredits).Methods("GET")
	api.HandleFunc("/dashboard", dashboardHandler.GetDashboard).Methods("GET")
}
