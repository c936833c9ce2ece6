package repository

import (
	"context"

	"video-orchestrator/core/models"
)

// EventRepository handles database operations for the job lifecycle
// audit trail
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// Record appends one audit event.
func (r *EventRepository) Record(ctx context.Context, jobID, userID string, kind models.EventKind, detail string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO job_events (job_id, user_id, kind, detail)
		VALUES ($1, $2, $3, $4)
	`, jobID, userID, kind, detail)
	return err
}

// JobEvents retrieves events for a job, newest first.
func (r *EventRepository) JobEvents(ctx context.Context, jobID string, limit int) ([]models.JobEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, job_id, user_id, at, kind, detail
		FROM job_events
		WHERE job_id = $1
		ORDER BY at DESC
		LIMIT $2
	`, jobID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.JobEvent
	for rows.Next() {
		var ev models.JobEvent
		if err := rows.Scan(&ev.ID, &ev.JobID, &ev.UserID, &ev.At, &ev.Kind, &ev.Detail); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
