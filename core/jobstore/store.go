// Package jobstore persists the pending-job ledger: the set of in-flight
// jobs per user that polling is rebuilt from after a restart. Entries are
// added at submission and removed on terminal state; last-write-wins is
// acceptable because the authoritative state lives in the rendering
// service and the credit ledger.
package jobstore

import (
	"context"

	"video-orchestrator/core/models"
)

// Store is the key-value persistence port for pending jobs.
type Store interface {
	SaveJob(ctx context.Context, userID string, job models.PendingJob) error
	GetJob(ctx context.Context, userID, jobID string) (*models.PendingJob, error)
	RemoveJob(ctx context.Context, userID, jobID string) error
	ListJobs(ctx context.Context, userID string) ([]models.PendingJob, error)
	// ListAll returns every tracked job across users, for rehydrating
	// the global aggregator on startup.
	ListAll(ctx context.Context) (map[string][]models.PendingJob, error)
}
