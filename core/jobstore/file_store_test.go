package jobstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"video-orchestrator/core/models"
)

func pending(jobID string) models.PendingJob {
	return models.PendingJob{
		JobID:           jobID,
		Title:           "clip",
		DurationSeconds: 30,
		StartedAt:       time.Now().Truncate(time.Second),
		LastStatus:      models.JobStatusPending,
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	if err := s.SaveJob(ctx, "u1", pending("job-1")); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}

	got, err := s.GetJob(ctx, "u1", "job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got == nil || got.JobID != "job-1" || got.Title != "clip" {
		t.Errorf("GetJob = %+v", got)
	}

	if missing, _ := s.GetJob(ctx, "u1", "nope"); missing != nil {
		t.Errorf("absent job = %+v, want nil", missing)
	}
	if other, _ := s.GetJob(ctx, "u2", "job-1"); other != nil {
		t.Errorf("other user's job = %+v, want nil", other)
	}
}

func TestFileStoreSaveReplacesEntry(t *testing.T) {
	s, _ := NewFileStore(t.TempDir())
	ctx := context.Background()

	pj := pending("job-1")
	s.SaveJob(ctx, "u1", pj)
	pj.LastStatus = models.JobStatusProcessing
	s.SaveJob(ctx, "u1", pj)

	jobs, err := s.ListJobs(ctx, "u1")
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want 1 (replaced, not appended)", len(jobs))
	}
	if jobs[0].LastStatus != models.JobStatusProcessing {
		t.Errorf("LastStatus = %s, want processing", jobs[0].LastStatus)
	}
}

func TestFileStoreRemoveLastJobDeletesFile(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewFileStore(dir)
	ctx := context.Background()

	s.SaveJob(ctx, "u1", pending("job-1"))
	if err := s.RemoveJob(ctx, "u1", "job-1"); err != nil {
		t.Fatalf("RemoveJob: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "u1.json")); !os.IsNotExist(err) {
		t.Error("empty ledger file should be deleted")
	}
	// Removing again is a no-op.
	if err := s.RemoveJob(ctx, "u1", "job-1"); err != nil {
		t.Errorf("second RemoveJob: %v", err)
	}
}

func TestFileStoreListAll(t *testing.T) {
	s, _ := NewFileStore(t.TempDir())
	ctx := context.Background()

	s.SaveJob(ctx, "u1", pending("job-1"))
	s.SaveJob(ctx, "u1", pending("job-2"))
	s.SaveJob(ctx, "u2", pending("job-3"))

	all, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 2 || len(all["u1"]) != 2 || len(all["u2"]) != 1 {
		t.Errorf("ListAll = %+v", all)
	}
}

func TestFileStoreSanitizesUserID(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewFileStore(dir)
	ctx := context.Background()

	if err := s.SaveJob(ctx, "../../etc/passwd", pending("job-1")); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if filepath.Dir(filepath.Join(dir, e.Name())) != dir {
			t.Errorf("ledger escaped base directory: %s", e.Name())
		}
	}
	got, err := s.GetJob(ctx, "../../etc/passwd", "job-1")
	if err != nil || got == nil {
		t.Errorf("GetJob after sanitize = %+v, %v", got, err)
	}
}

func TestFileStoreSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1, _ := NewFileStore(dir)
	s1.SaveJob(ctx, "u1", pending("job-1"))

	// A new store over the same directory sees the ledger.
	s2, _ := NewFileStore(dir)
	got, err := s2.GetJob(ctx, "u1", "job-1")
	if err != nil || got == nil {
		t.Fatalf("GetJob after restart = %+v, %v", got, err)
	}
}
