package poller

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"video-orchestrator/core/models"
)

// scriptedFetcher returns its responses in order, repeating the last one.
type scriptedFetcher struct {
	mu        sync.Mutex
	responses []func() (*models.Job, error)
	calls     int
}

func (f *scriptedFetcher) Status(_ context.Context, jobID string) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	f.calls++
	return f.responses[i]()
}

func jobWith(status models.JobStatus, errMsg string) func() (*models.Job, error) {
	return func() (*models.Job, error) {
		return &models.Job{JobID: "job-1", Status: status, Error: errMsg}, nil
	}
}

func transientErr() (*models.Job, error) {
	return nil, &models.PollError{Transient: true, StatusCode: 500, Err: context.DeadlineExceeded}
}

func permanentErr() (*models.Job, error) {
	return nil, &models.PollError{Transient: false, StatusCode: 400, Err: context.DeadlineExceeded}
}

func fastConfig() Config {
	return Config{
		BaseInterval:         time.Millisecond,
		RecoveryInterval:     time.Millisecond,
		BackoffBase:          time.Millisecond,
		BackoffCap:           2 * time.Millisecond,
		MaxConsecutiveErrors: 7,
		WarnAfter:            3,
		JobTimeout:           time.Minute,
	}
}

func TestRunCompletesJob(t *testing.T) {
	fetcher := &scriptedFetcher{responses: []func() (*models.Job, error){
		jobWith(models.JobStatusProcessing, ""),
		jobWith(models.JobStatusProcessing, ""),
		jobWith(models.JobStatusCompleted, ""),
	}}
	p := New(fetcher, fastConfig())

	var completed *models.Job
	var snapshots int
	p.Run(context.Background(), "job-1", time.Now(), Callbacks{
		OnSnapshot:  func(*models.Job) { snapshots++ },
		OnCompleted: func(job *models.Job) { completed = job },
		OnFailed:    func(jobID, reason string) { t.Fatalf("unexpected failure: %s", reason) },
	})

	if completed == nil {
		t.Fatal("OnCompleted never fired")
	}
	if snapshots != 3 {
		t.Errorf("snapshots = %d, want 3", snapshots)
	}
	if p.State() != StateCompleted {
		t.Errorf("state = %s, want completed", p.State())
	}
}

func TestRunFailsWithServerReason(t *testing.T) {
	fetcher := &scriptedFetcher{responses: []func() (*models.Job, error){
		jobWith(models.JobStatusFailed, "audio synthesis failed"),
	}}
	p := New(fetcher, fastConfig())

	var reason string
	p.Run(context.Background(), "job-1", time.Now(), Callbacks{
		OnFailed: func(_, r string) { reason = r },
	})

	if reason != "audio synthesis failed" {
		t.Errorf("reason = %q, want server-reported reason", reason)
	}
}

func TestRunFailsWithDefaultReasonWhenServerOmitsIt(t *testing.T) {
	fetcher := &scriptedFetcher{responses: []func() (*models.Job, error){
		jobWith(models.JobStatusFailed, ""),
	}}
	p := New(fetcher, fastConfig())

	var reason string
	p.Run(context.Background(), "job-1", time.Now(), Callbacks{
		OnFailed: func(_, r string) { reason = r },
	})

	if reason != "rendering failed" {
		t.Errorf("reason = %q, want fallback reason", reason)
	}
}

func TestRunForceFailsAfterMaxConsecutiveErrors(t *testing.T) {
	fetcher := &scriptedFetcher{responses: []func() (*models.Job, error){transientErr}}
	p := New(fetcher, fastConfig())

	var reason string
	var warnings int
	p.Run(context.Background(), "job-1", time.Now(), Callbacks{
		OnFailed:  func(_, r string) { reason = r },
		OnWarning: func(string, int, error) { warnings++ },
	})

	if !strings.Contains(reason, "failed after 7 attempts") {
		t.Errorf("reason = %q, want exhausted-retries reason", reason)
	}
	if fetcher.calls != 7 {
		t.Errorf("status calls = %d, want 7", fetcher.calls)
	}
	// Warnings at 3..6 consecutive errors; the 7th fails instead.
	if warnings != 4 {
		t.Errorf("warnings = %d, want 4", warnings)
	}
}

func TestRunRecoveryResetsErrorCount(t *testing.T) {
	fetcher := &scriptedFetcher{responses: []func() (*models.Job, error){
		transientErr,
		transientErr,
		jobWith(models.JobStatusProcessing, ""),
		transientErr,
		transientErr,
		transientErr,
		transientErr,
		transientErr,
		transientErr,
		jobWith(models.JobStatusCompleted, ""),
	}}
	p := New(fetcher, fastConfig())

	var completed bool
	p.Run(context.Background(), "job-1", time.Now(), Callbacks{
		OnCompleted: func(*models.Job) { completed = true },
		OnFailed:    func(_, r string) { t.Fatalf("unexpected failure: %s", r) },
	})

	if !completed {
		t.Fatal("job should survive 6 consecutive errors after a reset")
	}
}

func TestRunFailsPermanentErrorImmediately(t *testing.T) {
	fetcher := &scriptedFetcher{responses: []func() (*models.Job, error){permanentErr}}
	p := New(fetcher, fastConfig())

	var failures int
	p.Run(context.Background(), "job-1", time.Now(), Callbacks{
		OnFailed: func(string, string) { failures++ },
	})

	if failures != 1 {
		t.Errorf("failures = %d, want 1", failures)
	}
	if fetcher.calls != 1 {
		t.Errorf("status calls = %d, want 1 (no retry on permanent error)", fetcher.calls)
	}
}

func TestRunTimesOutStaleJob(t *testing.T) {
	fetcher := &scriptedFetcher{responses: []func() (*models.Job, error){
		jobWith(models.JobStatusProcessing, ""),
	}}
	cfg := fastConfig()
	cfg.JobTimeout = 10 * time.Millisecond
	p := New(fetcher, cfg)

	var reason string
	// startedAt in the past: a resumed job already over the bound fails
	// before its first poll.
	p.Run(context.Background(), "job-1", time.Now().Add(-time.Minute), Callbacks{
		OnFailed: func(_, r string) { reason = r },
	})

	if reason != "timed out" {
		t.Errorf("reason = %q, want %q", reason, "timed out")
	}
	if fetcher.calls != 0 {
		t.Errorf("status calls = %d, want 0", fetcher.calls)
	}
}

func TestRunCancelledContextDiscardsResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetcher := &scriptedFetcher{responses: []func() (*models.Job, error){
		func() (*models.Job, error) {
			cancel()
			return &models.Job{JobID: "job-1", Status: models.JobStatusCompleted}, nil
		},
	}}
	p := New(fetcher, fastConfig())

	p.Run(ctx, "job-1", time.Now(), Callbacks{
		OnCompleted: func(*models.Job) { t.Fatal("completion must be discarded after cancel") },
		OnFailed:    func(_, r string) { t.Fatalf("unexpected failure: %s", r) },
	})

	if p.State() != StateCancelled {
		t.Errorf("state = %s, want cancelled", p.State())
	}
}
