// Package poller runs the per-job status-polling state machine:
//
//	Idle → Submitting → Polling → {Completed, Failed, Cancelled}
//
// Polls within one job are strictly sequential; the next poll is
// scheduled only after the previous one resolved, so status snapshots
// are never applied out of order.
package poller

import (
	"fmt"
	"log"
	"sync"
	"time"

	"context"

	"video-orchestrator/core/models"
)

// State of the polling state machine
type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StatePolling    State = "polling"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// StatusFetcher is the slice of the rendering client the poller needs.
type StatusFetcher interface {
	Status(ctx context.Context, jobID string) (*models.Job, error)
}

// Callbacks receive terminal outcomes and per-poll snapshots. Only
// terminal outcomes are surfaced upward; transient errors stay inside
// the loop, except the non-blocking warning once WarnAfter consecutive
// errors accumulate.
type Callbacks struct {
	// OnSnapshot fires on every successful poll with the latest job.
	OnSnapshot func(job *models.Job)
	// OnCompleted fires once when the job reaches completed.
	OnCompleted func(job *models.Job)
	// OnFailed fires once for server-reported failure, permanent poll
	// errors, timeout, or exhausted retries.
	OnFailed func(jobID, reason string)
	// OnWarning fires on each consecutive transient error at or past
	// the warning threshold.
	OnWarning func(jobID string, consecutive int, err error)
}

// Poller drives one job's polling loop
type Poller struct {
	fetcher StatusFetcher
	cfg     Config

	mu    sync.Mutex
	state State
}

// New creates a poller for one job.
func New(fetcher StatusFetcher, cfg Config) *Poller {
	return &Poller{
		fetcher: fetcher,
		cfg:     cfg.WithDefaults(),
		state:   StateIdle,
	}
}

// State returns the current machine state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Poller) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// MarkSubmitting records that submission is in flight; startedAt for the
// wall-clock bound is anchored here.
func (p *Poller) MarkSubmitting() {
	p.setState(StateSubmitting)
}

// Run polls until a terminal transition or context cancellation.
// startedAt anchors the whole-job timeout; for resumed jobs it is the
// original submission time, so a job rehydrated past the bound fails on
// the first evaluation.
func (p *Poller) Run(ctx context.Context, jobID string, startedAt time.Time, cb Callbacks) {
	p.setState(StatePolling)

	consecutive := 0
	rateLimited := false
	lastErrored := false

	for {
		if time.Since(startedAt) > p.cfg.JobTimeout {
			p.setState(StateFailed)
			cb.OnFailed(jobID, "timed out")
			return
		}

		job, err := p.fetcher.Status(ctx, jobID)
		if ctx.Err() != nil {
			// Cancelled mid-flight: discard whatever came back.
			p.setState(StateCancelled)
			return
		}

		var delay time.Duration
		switch {
		case err == nil:
			consecutive = 0
			rateLimited = false
			if cb.OnSnapshot != nil {
				cb.OnSnapshot(job)
			}
			switch job.Status {
			case models.JobStatusCompleted:
				p.setState(StateCompleted)
				if cb.OnCompleted != nil {
					cb.OnCompleted(job)
				}
				return
			case models.JobStatusFailed:
				p.setState(StateFailed)
				reason := job.Error
				if reason == "" {
					reason = "rendering failed"
				}
				cb.OnFailed(jobID, reason)
				return
			}
			delay = p.cfg.BaseInterval
			if lastErrored {
				delay = p.cfg.RecoveryInterval
			}
			lastErrored = false

		case models.IsTransient(err):
			rateLimited = models.IsRateLimited(err)
			delay = p.cfg.Backoff(consecutive, rateLimited)
			consecutive++
			lastErrored = true
			log.Printf("poll for job %s failed (%d consecutive): %v", jobID, consecutive, err)
			if consecutive >= p.cfg.MaxConsecutiveErrors {
				p.setState(StateFailed)
				cb.OnFailed(jobID, fmt.Sprintf("connection to rendering service failed after %d attempts", consecutive))
				return
			}
			if consecutive >= p.cfg.WarnAfter && cb.OnWarning != nil {
				cb.OnWarning(jobID, consecutive, err)
			}

		default:
			p.setState(StateFailed)
			cb.OnFailed(jobID, err.Error())
			return
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.setState(StateCancelled)
			return
		case <-timer.C:
		}
	}
}
