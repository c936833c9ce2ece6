package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"video-orchestrator/core/models"
)

// FileStore keeps one JSON file per user under a base directory. Writes go
// through a temp file and an atomic rename so a crash never leaves a
// half-written ledger. Intended for single-node and test use; production
// runs on the Postgres-backed store.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates a file-backed store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create jobstore directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) userPath(userID string) string {
	// User ids come from the identity provider; sanitize for the filesystem.
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, userID)
	return filepath.Join(s.dir, safe+".json")
}

func (s *FileStore) read(userID string) ([]models.PendingJob, error) {
	data, err := os.ReadFile(s.userPath(userID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read job ledger for %s: %w", userID, err)
	}
	var jobs []models.PendingJob
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("parse job ledger for %s: %w", userID, err)
	}
	return jobs, nil
}

func (s *FileStore) write(userID string, jobs []models.PendingJob) error {
	path := s.userPath(userID)
	if len(jobs) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove job ledger for %s: %w", userID, err)
		}
		return nil
	}
	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job ledger for %s: %w", userID, err)
	}
	tmp, err := os.CreateTemp(s.dir, ".ledger-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp ledger for %s: %w", userID, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp ledger for %s: %w", userID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp ledger for %s: %w", userID, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("atomic rename for %s: %w", userID, err)
	}
	return nil
}

// SaveJob inserts or replaces the entry for job.JobID.
func (s *FileStore) SaveJob(_ context.Context, userID string, job models.PendingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs, err := s.read(userID)
	if err != nil {
		return err
	}
	replaced := false
	for i := range jobs {
		if jobs[i].JobID == job.JobID {
			jobs[i] = job
			replaced = true
			break
		}
	}
	if !replaced {
		jobs = append(jobs, job)
	}
	return s.write(userID, jobs)
}

// GetJob returns the tracked entry, or nil when absent.
func (s *FileStore) GetJob(_ context.Context, userID, jobID string) (*models.PendingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs, err := s.read(userID)
	if err != nil {
		return nil, err
	}
	for i := range jobs {
		if jobs[i].JobID == jobID {
			return &jobs[i], nil
		}
	}
	return nil, nil
}

// RemoveJob deletes the entry. Removing an absent job is a no-op.
func (s *FileStore) RemoveJob(_ context.Context, userID, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs, err := s.read(userID)
	if err != nil {
		return err
	}
	kept := jobs[:0]
	for _, j := range jobs {
		if j.JobID != jobID {
			kept = append(kept, j)
		}
	}
	return s.write(userID, kept)
}

// ListJobs returns all tracked jobs for a user.
func (s *FileStore) ListJobs(_ context.Context, userID string) ([]models.PendingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(userID)
}

// ListAll walks every per-user ledger file.
func (s *FileStore) ListAll(_ context.Context) (map[string][]models.PendingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read jobstore directory %s: %w", s.dir, err)
	}
	all := make(map[string][]models.PendingJob)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		userID := strings.TrimSuffix(name, ".json")
		jobs, err := s.read(userID)
		if err != nil {
			return nil, err
		}
		if len(jobs) > 0 {
			all[userID] = jobs
		}
	}
	return all, nil
}
