package repository

import (
	"context"
	"database/sql"
	"errors"

	"video-orchestrator/core/models"
)

// ArtifactRepository handles database operations for job artifacts
type ArtifactRepository struct {
	db *DB
}

// NewArtifactRepository creates a new artifact repository
func NewArtifactRepository(db *DB) *ArtifactRepository {
	return &ArtifactRepository{db: db}
}

// CreateArtifact records a stored object for a job.
func (r *ArtifactRepository) CreateArtifact(ctx context.Context, jobID string, artifactType models.ArtifactType, uri string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO job_artifacts (job_id, type, uri)
		VALUES ($1, $2, $3)
	`, jobID, artifactType, uri)
	return err
}

// LatestArtifact returns the newest artifact of a type for a job, or nil.
func (r *ArtifactRepository) LatestArtifact(ctx context.Context, jobID string, artifactType models.ArtifactType) (*models.JobArtifact, error) {
	var a models.JobArtifact
	err := r.db.QueryRowContext(ctx, `
		SELECT id, job_id, type, uri, created_at
		FROM job_artifacts
		WHERE job_id = $1 AND type = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, jobID, artifactType).Scan(&a.ID, &a.JobID, &a.Type, &a.URI, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
