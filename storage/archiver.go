// Package storage archives finished videos into object storage so
// downloads survive the rendering service's retention window.
package storage

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"video-orchestrator/core/models"
)

// archiveTimeout bounds one download-and-upload cycle.
const archiveTimeout = 5 * time.Minute

// VideoSource streams a finished video from the rendering service.
type VideoSource interface {
	Video(ctx context.Context, jobID string) (io.ReadCloser, error)
}

// ArtifactRecorder persists artifact references.
type ArtifactRecorder interface {
	CreateArtifact(ctx context.Context, jobID string, artifactType models.ArtifactType, uri string) error
	LatestArtifact(ctx context.Context, jobID string, artifactType models.ArtifactType) (*models.JobArtifact, error)
}

// NewMinioClient creates an object-storage client.
func NewMinioClient(endpoint, accessKeyID, secretKey string, secure bool) (*minio.Client, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKeyID, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	return client, nil
}

// Archiver copies completed videos into a bucket and records the
// artifact. It implements the aggregator's completion hook.
type Archiver struct {
	source    VideoSource
	client    *minio.Client
	bucket    string
	artifacts ArtifactRecorder
}

// NewArchiver creates an archiver.
func NewArchiver(source VideoSource, client *minio.Client, bucket string, artifacts ArtifactRecorder) *Archiver {
	return &Archiver{
		source:    source,
		client:    client,
		bucket:    bucket,
		artifacts: artifacts,
	}
}

// EnsureBucket creates the archive bucket if it does not exist yet.
func (a *Archiver) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", a.bucket, err)
	}
	return nil
}

// HandleCompleted archives one finished video. Failures are logged; the
// job is already retired and a missed archive only means the download
// handler falls back to the rendering service.
func (a *Archiver) HandleCompleted(userID string, job *models.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	existing, err := a.artifacts.LatestArtifact(ctx, job.JobID, models.ArtifactTypeVideo)
	if err != nil {
		log.Printf("archiver: lookup artifact for %s: %v", job.JobID, err)
		return
	}
	if existing != nil {
		return
	}

	rc, err := a.source.Video(ctx, job.JobID)
	if err != nil {
		log.Printf("archiver: download video %s: %v", job.JobID, err)
		return
	}
	defer rc.Close()

	key := fmt.Sprintf("videos/%s/%s.mp4", userID, job.JobID)
	if _, err := a.client.PutObject(ctx, a.bucket, key, rc, -1, minio.PutObjectOptions{
		ContentType: "video/mp4",
	}); err != nil {
		log.Printf("archiver: upload video %s: %v", job.JobID, err)
		return
	}

	uri := fmt.Sprintf("s3://%s/%s", a.bucket, key)
	if err := a.artifacts.CreateArtifact(ctx, job.JobID, models.ArtifactTypeVideo, uri); err != nil {
		log.Printf("archiver: record artifact for %s: %v", job.JobID, err)
		return
	}
	log.Printf("archived video for job %s to %s", job.JobID, uri)
}

// Open returns a reader for a job's video, preferring the archived copy
// and falling back to the rendering service.
func (a *Archiver) Open(ctx context.Context, userID, jobID string) (io.ReadCloser, error) {
	artifact, err := a.artifacts.LatestArtifact(ctx, jobID, models.ArtifactTypeVideo)
	if err == nil && artifact != nil {
		key := fmt.Sprintf("videos/%s/%s.mp4", userID, jobID)
		obj, oerr := a.client.GetObject(ctx, a.bucket, key, minio.GetObjectOptions{})
		if oerr == nil {
			return obj, nil
		}
		log.Printf("archiver: read archived video %s: %v", jobID, oerr)
	}
	return a.source.Video(ctx, jobID)
}
