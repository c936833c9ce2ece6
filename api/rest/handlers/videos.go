package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"video-orchestrator/api/rest/middleware"
	"video-orchestrator/core/cache"
	"video-orchestrator/core/models"
	"video-orchestrator/core/orchestrator"
	"video-orchestrator/core/progress"
	"video-orchestrator/core/renderer"
	"video-orchestrator/core/repository"
	"video-orchestrator/core/tuning"
	"video-orchestrator/storage"

	"github.com/gorilla/mux"
)

// VideoHandler handles video-generation HTTP requests
type VideoHandler struct {
	orch     *orchestrator.Orchestrator
	agg      *progress.Aggregator
	render   *renderer.Client
	events   *repository.EventRepository
	archiver *storage.Archiver  // nil when object storage is not configured
	statuses *cache.StatusCache // nil when redis is not configured
	tun      *tuning.Tuning
}

// NewVideoHandler creates a new video handler
func NewVideoHandler(
	orch *orchestrator.Orchestrator,
	agg *progress.Aggregator,
	render *renderer.Client,
	events *repository.EventRepository,
	archiver *storage.Archiver,
	statuses *cache.StatusCache,
	tun *tuning.Tuning,
) *VideoHandler {
	return &VideoHandler{
		orch:     orch,
		agg:      agg,
		render:   render,
		events:   events,
		archiver: archiver,
		statuses: statuses,
		tun:      tun,
	}
}

// SubmitVideo handles POST /v1/videos
func (h *VideoHandler) SubmitVideo(w http.ResponseWriter, r *http.Request) {
	var input models.SubmitInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	userID := middleware.UserID(r)

	result, err := h.orch.Submit(r.Context(), userID, input)
	if err != nil {
		switch {
		case orchestrator.IsValidationError(err):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, models.ErrInsufficientCredits):
			http.Error(w, err.Error(), http.StatusPaymentRequired)
		case errors.Is(err, models.ErrSubmissionFailed):
			http.Error(w, err.Error(), http.StatusBadGateway)
		default:
			http.Error(w, "Failed to submit job: "+err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(result)
}

// GetVideo handles GET /v1/videos/{id}
func (h *VideoHandler) GetVideo(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	jobID := vars["id"]

	job, err := h.render.Status(r.Context(), jobID)
	if err != nil {
		var pe *models.PollError
		if errors.As(err, &pe) && !pe.Transient {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}
		// Rendering service is flaky right now; serve the last
		// status we cached, if any.
		if h.statuses != nil {
			if status, cerr := h.statuses.GetStatus(r.Context(), jobID); cerr == nil && status != "" {
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(map[string]interface{}{
					"jobId":   jobID,
					"status":  status,
					"percent": progress.Percent(h.tun, models.JobStatus(status), ""),
					"stale":   true,
				})
				return
			}
		}
		http.Error(w, "Rendering service unavailable", http.StatusBadGateway)
		return
	}

	response := map[string]interface{}{
		"jobId":    job.JobID,
		"status":   job.Status,
		"progress": job.Progress,
		"percent":  progress.Percent(h.tun, job.Status, job.Progress),
		"timestamps": map[string]interface{}{
			"created_at": job.CreatedAt,
			"updated_at": job.UpdatedAt,
		},
	}
	if job.QueuePosition != nil {
		response["queuePosition"] = *job.QueuePosition
	}
	if job.Error != "" {
		response["error"] = job.Error
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// ListVideos handles GET /v1/videos
func (h *VideoHandler) ListVideos(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)
	items := h.agg.Jobs(userID)
	if items == nil {
		items = []progress.Update{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"items": items,
	})
}

// CancelVideo handles POST /v1/videos/{id}/cancel
func (h *VideoHandler) CancelVideo(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	jobID := vars["id"]
	userID := middleware.UserID(r)

	res, err := h.orch.Cancel(r.Context(), userID, jobID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrJobNotFound):
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		case errors.Is(err, models.ErrRefundFailed):
			// The job is retired but the credits could not be
			// returned automatically.
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"id":     jobID,
				"status": "cancelled",
				"refund": map[string]interface{}{
					"applied": false,
					"message": "refund failed, please contact support",
				},
			})
			return
		default:
			http.Error(w, "Failed to cancel job: "+err.Error(), http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":     jobID,
		"status": "cancelled",
		"refund": map[string]interface{}{
			"applied": true,
			"amount":  res.Amount,
		},
	})
}

// DownloadVideo handles GET /v1/videos/{id}/download
func (h *VideoHandler) DownloadVideo(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	jobID := vars["id"]
	userID := middleware.UserID(r)

	var rc io.ReadCloser
	var err error
	if h.archiver != nil {
		rc, err = h.archiver.Open(r.Context(), userID, jobID)
	} else {
		rc, err = h.render.Video(r.Context(), jobID)
	}
	if err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			http.Error(w, "Video not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to fetch video: "+err.Error(), http.StatusBadGateway)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "video/mp4")
	if _, err := io.Copy(w, rc); err != nil {
		log.Printf("streaming video %s aborted: %v", jobID, err)
	}
}

// GetJobEvents handles GET /v1/jobs/{id}/events
func (h *VideoHandler) GetJobEvents(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	jobID := vars["id"]

	events, err := h.events.JobEvents(r.Context(), jobID, 100)
	if err != nil {
		http.Error(w, "Failed to fetch events: "+err.Error(), http.StatusInternalServerError)
		return
	}

	items := make([]map[string]interface{}, len(events))
	for i, event := range events {
		items[i] = map[string]interface{}{
			"at":     event.At,
			"kind":   event.Kind,
			"detail": event.Detail,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"items": items,
	})
}
