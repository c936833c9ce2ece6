package repository

import (
	"context"
	"database/sql"
	"errors"

	"video-orchestrator/core/models"
)

// TrackedJobRepository is the Postgres-backed pending-job ledger,
// keyed (user_id, job_id). It implements jobstore.Store.
type TrackedJobRepository struct {
	db *DB
}

// NewTrackedJobRepository creates a new tracked-job repository
func NewTrackedJobRepository(db *DB) *TrackedJobRepository {
	return &TrackedJobRepository{db: db}
}

// SaveJob upserts the ledger entry for a job.
func (r *TrackedJobRepository) SaveJob(ctx context.Context, userID string, job models.PendingJob) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tracked_jobs (user_id, job_id, title, duration_seconds, started_at, last_status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, job_id) DO UPDATE
		SET title = EXCLUDED.title, last_status = EXCLUDED.last_status
	`, userID, job.JobID, job.Title, job.DurationSeconds, job.StartedAt, job.LastStatus)
	return err
}

// GetJob returns the tracked entry, or nil when absent.
func (r *TrackedJobRepository) GetJob(ctx context.Context, userID, jobID string) (*models.PendingJob, error) {
	var job models.PendingJob
	err := r.db.QueryRowContext(ctx, `
		SELECT job_id, title, duration_seconds, started_at, last_status
		FROM tracked_jobs
		WHERE user_id = $1 AND job_id = $2
	`, userID, jobID).Scan(&job.JobID, &job.Title, &job.DurationSeconds, &job.StartedAt, &job.LastStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// RemoveJob deletes the entry. Removing an absent job is a no-op.
func (r *TrackedJobRepository) RemoveJob(ctx context.Context, userID, jobID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM tracked_jobs WHERE user_id = $1 AND job_id = $2`, userID, jobID)
	return err
}

// ListJobs returns all tracked jobs for a user, oldest first.
func (r *TrackedJobRepository) ListJobs(ctx context.Context, userID string) ([]models.PendingJob, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT job_id, title, duration_seconds, started_at, last_status
		FROM tracked_jobs
		WHERE user_id = $1
		ORDER BY started_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPendingJobs(rows)
}

// ListAll returns every tracked job grouped by user.
func (r *TrackedJobRepository) ListAll(ctx context.Context) (map[string][]models.PendingJob, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, job_id, title, duration_seconds, started_at, last_status
		FROM tracked_jobs
		ORDER BY started_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	all := make(map[string][]models.PendingJob)
	for rows.Next() {
		var userID string
		var job models.PendingJob
		if err := rows.Scan(&userID, &job.JobID, &job.Title, &job.DurationSeconds, &job.StartedAt, &job.LastStatus); err != nil {
			return nil, err
		}
		all[userID] = append(all[userID], job)
	}
	return all, rows.Err()
}

func scanPendingJobs(rows *sql.Rows) ([]models.PendingJob, error) {
	var jobs []models.PendingJob
	for rows.Next() {
		var job models.PendingJob
		if err := rows.Scan(&job.JobID, &job.Title, &job.DurationSeconds, &job.StartedAt, &job.LastStatus); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
