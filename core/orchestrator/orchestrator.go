// Package orchestrator owns the job lifecycle: it validates submissions,
// deducts credits only after the rendering service confirmed a job id,
// runs one status poller per job, and funnels every failure, cancellation
// and stale-job sweep through the same idempotent refund path.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"video-orchestrator/core/jobstore"
	"video-orchestrator/core/models"
	"video-orchestrator/core/monitoring"
	"video-orchestrator/core/notify"
	"video-orchestrator/core/poller"
	"video-orchestrator/core/tuning"
)

// CreditLedger is the slice of the credit repository the orchestrator uses.
type CreditLedger interface {
	CheckCredits(ctx context.Context, userID string, durationSeconds int) (models.CreditCheck, error)
	Deduct(ctx context.Context, userID string, amount int) (int, error)
	Refund(ctx context.Context, jobID, userID string, amount int, reason string) (models.RefundResult, error)
}

// RenderClient submits jobs to and polls the external rendering service.
type RenderClient interface {
	Submit(ctx context.Context, input models.SubmitInput) (string, error)
	Status(ctx context.Context, jobID string) (*models.Job, error)
}

// EventRecorder appends lifecycle audit events.
type EventRecorder interface {
	Record(ctx context.Context, jobID, userID string, kind models.EventKind, detail string) error
}

// Sink receives per-poll snapshots and terminal resolutions; implemented
// by the global progress aggregator.
type Sink interface {
	// Track begins following a freshly submitted job.
	Track(userID string, pj models.PendingJob)
	// Publish hands over the latest snapshot of a tracked job.
	Publish(userID string, job *models.Job)
	// Resolve marks a job terminal; the sink notifies the user at most
	// once and stops tracking.
	Resolve(ctx context.Context, ev notify.Event)
	// Completed is Resolve for successful jobs: it additionally hands
	// the final snapshot to the sink's completion hook (archival).
	Completed(ctx context.Context, userID string, job *models.Job, ev notify.Event)
	// Forget drops a job from tracking without notifying.
	Forget(userID, jobID string)
}

// SubmitResult is returned from a successful submission
type SubmitResult struct {
	JobID            string `json:"jobId"`
	CreditsDeducted  int    `json:"creditsDeducted"`
	RemainingCredits int    `json:"remainingCredits"`
}

// Orchestrator manages submission, polling and credit reconciliation
type Orchestrator struct {
	ledger  CreditLedger
	render  RenderClient
	store   jobstore.Store
	events  EventRecorder
	tun     *tuning.Tuning
	pollCfg poller.Config
	sink    Sink

	baseCtx context.Context

	mu     sync.Mutex
	active map[string]*activeJob
}

type activeJob struct {
	userID    string
	title     string
	duration  int
	startedAt time.Time
	cancel    context.CancelFunc
}

// New creates an orchestrator. Call Start before submitting.
func New(ledger CreditLedger, render RenderClient, store jobstore.Store, events EventRecorder, tun *tuning.Tuning, pollCfg poller.Config) *Orchestrator {
	return &Orchestrator{
		ledger:  ledger,
		render:  render,
		store:   store,
		events:  events,
		tun:     tun,
		pollCfg: pollCfg.WithDefaults(),
		active:  make(map[string]*activeJob),
	}
}

// SetSink attaches the progress aggregator. Must be called before Start.
func (o *Orchestrator) SetSink(sink Sink) {
	o.sink = sink
}

// Start anchors the orchestrator's lifetime to ctx and resumes polling
// for every job the pending-job ledger still tracks.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.baseCtx = ctx

	all, err := o.store.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("rehydrate pending jobs: %w", err)
	}
	for userID, jobs := range all {
		for _, pj := range jobs {
			log.Printf("resuming polling for job %s (user %s)", pj.JobID, userID)
			o.startPolling(userID, pj)
		}
	}
	return nil
}

// Submit validates, checks credits, submits to the rendering service,
// deducts, persists and begins polling. Credits are only deducted after
// a confirmed job id; a failed external call costs nothing.
func (o *Orchestrator) Submit(ctx context.Context, userID string, input models.SubmitInput) (*SubmitResult, error) {
	if err := ValidateInput(input, o.tun); err != nil {
		return nil, err
	}

	check, err := o.ledger.CheckCredits(ctx, userID, input.DurationSeconds)
	if err != nil {
		return nil, err
	}
	if !check.HasEnough {
		return nil, fmt.Errorf("%w: need %d, have %d", models.ErrInsufficientCredits, check.Required, check.Balance)
	}

	jobID, err := o.render.Submit(ctx, input)
	if err != nil {
		return nil, err
	}

	remaining, err := o.ledger.Deduct(ctx, userID, check.Required)
	if err != nil {
		// The job is already running remotely but could not be paid
		// for (a concurrent spend drained the balance). Refund-path
		// bookkeeping does not apply; surface the error as-is.
		return nil, err
	}

	pj := models.PendingJob{
		JobID:           jobID,
		Title:           input.Title,
		DurationSeconds: input.DurationSeconds,
		StartedAt:       time.Now(),
		LastStatus:      models.JobStatusPending,
	}
	// The remote job exists and credits are spent: persistence must not
	// depend on the request staying open, or a disconnect here would
	// strand a paid job outside the ledger.
	pctx := o.lifecycleCtx()
	if err := o.store.SaveJob(pctx, userID, pj); err != nil {
		log.Printf("failed to persist pending job %s: %v", jobID, err)
	}
	if err := o.events.Record(pctx, jobID, userID, models.EventSubmitted,
		fmt.Sprintf("mode=%s duration=%ds cost=%d", input.Mode, input.DurationSeconds, check.Required)); err != nil {
		log.Printf("failed to record submission event for %s: %v", jobID, err)
	}

	monitoring.JobsSubmitted.WithLabelValues(string(input.Mode), strconv.Itoa(input.DurationSeconds)).Inc()
	monitoring.CreditsDeducted.Add(float64(check.Required))

	if o.sink != nil {
		o.sink.Track(userID, pj)
	}
	o.startPolling(userID, pj)

	return &SubmitResult{
		JobID:            jobID,
		CreditsDeducted:  check.Required,
		RemainingCredits: remaining,
	}, nil
}

func (o *Orchestrator) startPolling(userID string, pj models.PendingJob) {
	base := o.baseCtx
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)

	o.mu.Lock()
	if _, exists := o.active[pj.JobID]; exists {
		o.mu.Unlock()
		cancel()
		return
	}
	o.active[pj.JobID] = &activeJob{
		userID:    userID,
		title:     pj.Title,
		duration:  pj.DurationSeconds,
		startedAt: pj.StartedAt,
		cancel:    cancel,
	}
	o.mu.Unlock()

	p := poller.New(o.render, o.pollCfg)
	go p.Run(ctx, pj.JobID, pj.StartedAt, poller.Callbacks{
		OnSnapshot: func(job *models.Job) {
			o.applySnapshot(ctx, userID, pj, job)
		},
		OnCompleted: func(job *models.Job) {
			o.completeJob(userID, pj.JobID, job)
		},
		OnFailed: func(jobID, reason string) {
			o.failJob(userID, jobID, reason)
		},
		OnWarning: func(jobID string, consecutive int, err error) {
			monitoring.PollErrors.WithLabelValues("transient").Inc()
			log.Printf("job %s: %d consecutive poll errors, last: %v", jobID, consecutive, err)
		},
	})
}

// applySnapshot persists and republishes a successful poll result,
// unless the job was cancelled while the poll was in flight.
func (o *Orchestrator) applySnapshot(ctx context.Context, userID string, pj models.PendingJob, job *models.Job) {
	if !o.isTracked(pj.JobID) {
		return
	}
	pj.LastStatus = job.Status
	if err := o.store.SaveJob(ctx, userID, pj); err != nil {
		log.Printf("failed to update pending job %s: %v", pj.JobID, err)
	}
	if o.sink != nil {
		o.sink.Publish(userID, job)
	}
}

func (o *Orchestrator) isTracked(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[jobID]
	return ok
}

// untrack stops the poller and forgets the job; returns its metadata.
func (o *Orchestrator) untrack(jobID string) *activeJob {
	o.mu.Lock()
	aj, ok := o.active[jobID]
	if ok {
		delete(o.active, jobID)
	}
	o.mu.Unlock()
	if ok {
		aj.cancel()
		return aj
	}
	return nil
}

func (o *Orchestrator) completeJob(userID, jobID string, job *models.Job) {
	aj := o.untrack(jobID)
	if aj == nil {
		// Cancelled while the final poll was in flight; discard.
		return
	}
	ctx := o.lifecycleCtx()

	if err := o.store.RemoveJob(ctx, userID, jobID); err != nil {
		log.Printf("failed to remove completed job %s: %v", jobID, err)
	}
	if err := o.events.Record(ctx, jobID, userID, models.EventCompleted, ""); err != nil {
		log.Printf("failed to record completion event for %s: %v", jobID, err)
	}
	monitoring.JobsFinished.WithLabelValues("completed").Inc()
	monitoring.JobDuration.WithLabelValues("completed").Observe(time.Since(aj.startedAt).Seconds())

	if o.sink != nil {
		o.sink.Completed(ctx, userID, job, notify.Event{
			JobID:   jobID,
			UserID:  userID,
			Title:   aj.title,
			Outcome: "completed",
			At:      time.Now(),
		})
	}
}

func (o *Orchestrator) failJob(userID, jobID, reason string) {
	aj := o.untrack(jobID)
	if aj == nil {
		return
	}
	ctx := o.lifecycleCtx()

	outcome := "failed"
	kind := models.EventFailed
	if reason == "timed out" {
		outcome = "timed_out"
		kind = models.EventTimedOut
	}
	if err := o.events.Record(ctx, jobID, userID, kind, reason); err != nil {
		log.Printf("failed to record failure event for %s: %v", jobID, err)
	}
	monitoring.JobsFinished.WithLabelValues(outcome).Inc()
	monitoring.JobDuration.WithLabelValues(outcome).Observe(time.Since(aj.startedAt).Seconds())

	res, err := o.refundAndRetire(ctx, userID, jobID, aj.duration, reason)
	if err != nil {
		log.Printf("refund for failed job %s did not apply: %v", jobID, err)
	}

	if o.sink != nil {
		o.sink.Resolve(ctx, notify.Event{
			JobID:         jobID,
			UserID:        userID,
			Title:         aj.title,
			Outcome:       "failed",
			Reason:        reason,
			RefundApplied: err == nil,
			RefundAmount:  res.Amount,
			At:            time.Now(),
		})
	}
}

// refundAndRetire attempts exactly one refund through the idempotent
// ledger path and removes the job from the pending-job ledger regardless
// of the refund outcome. A pre-existing refund record counts as success.
// A failed ledger transaction is reported but never leaves the job stuck
// in flight.
func (o *Orchestrator) refundAndRetire(ctx context.Context, userID, jobID string, durationSeconds int, reason string) (models.RefundResult, error) {
	defer func() {
		if err := o.store.RemoveJob(ctx, userID, jobID); err != nil {
			log.Printf("failed to remove job %s from ledger: %v", jobID, err)
		}
	}()

	cost, err := o.tun.CostFor(durationSeconds)
	if err != nil {
		return models.RefundResult{}, fmt.Errorf("%w: %v", models.ErrRefundFailed, err)
	}

	res, err := o.ledger.Refund(ctx, jobID, userID, cost, reason)
	if err != nil {
		monitoring.RefundFailures.Inc()
		if rerr := o.events.Record(ctx, jobID, userID, models.EventRefundFailed, err.Error()); rerr != nil {
			log.Printf("failed to record refund failure for %s: %v", jobID, rerr)
		}
		return models.RefundResult{}, fmt.Errorf("%w: %v", models.ErrRefundFailed, err)
	}

	if res.Applied {
		monitoring.CreditsRefunded.Add(float64(res.Amount))
		if rerr := o.events.Record(ctx, jobID, userID, models.EventRefundApplied,
			fmt.Sprintf("amount=%d reason=%s", res.Amount, reason)); rerr != nil {
			log.Printf("failed to record refund for %s: %v", jobID, rerr)
		}
	} else {
		// Another path (auto handler, manual cancel, sweep) won the
		// refund record. Success, nothing more to do.
		monitoring.RefundConflicts.Inc()
		if rerr := o.events.Record(ctx, jobID, userID, models.EventRefundConflict,
			fmt.Sprintf("already refunded amount=%d", res.Amount)); rerr != nil {
			log.Printf("failed to record refund conflict for %s: %v", jobID, rerr)
		}
	}
	return res, nil
}

// Cancel stops polling immediately and refunds through the idempotent
// path. A poll response already in flight is discarded.
func (o *Orchestrator) Cancel(ctx context.Context, userID, jobID string) (models.RefundResult, error) {
	pj, err := o.store.GetJob(ctx, userID, jobID)
	if err != nil {
		return models.RefundResult{}, err
	}
	if pj == nil {
		return models.RefundResult{}, models.ErrJobNotFound
	}

	o.untrack(jobID)

	if err := o.events.Record(ctx, jobID, userID, models.EventCancelled, "user requested"); err != nil {
		log.Printf("failed to record cancellation for %s: %v", jobID, err)
	}
	monitoring.JobsFinished.WithLabelValues("cancelled").Inc()

	res, rerr := o.refundAndRetire(ctx, userID, jobID, pj.DurationSeconds, "cancelled by user")

	if o.sink != nil {
		o.sink.Forget(userID, jobID)
	}
	return res, rerr
}

// HandleFailure is the shared terminal-failure path for callers outside
// the per-job poller (the global aggregator observing a failed status).
func (o *Orchestrator) HandleFailure(ctx context.Context, userID, jobID string, durationSeconds int, reason string) (models.RefundResult, error) {
	o.untrack(jobID)
	if err := o.events.Record(ctx, jobID, userID, models.EventFailed, reason); err != nil {
		log.Printf("failed to record failure event for %s: %v", jobID, err)
	}
	monitoring.JobsFinished.WithLabelValues("failed").Inc()
	return o.refundAndRetire(ctx, userID, jobID, durationSeconds, reason)
}

// ReconcileStaleJob independently queries the rendering service for a
// tracked job and, when it is terminal or unreachable, runs the same
// idempotent refund path. Racing the per-job poller is safe: only one
// caller creates the refund record.
func (o *Orchestrator) ReconcileStaleJob(ctx context.Context, userID, jobID string, durationSeconds int) error {
	job, err := o.render.Status(ctx, jobID)
	switch {
	case err == nil && job.Status == models.JobStatusCompleted:
		o.untrack(jobID)
		if err := o.store.RemoveJob(ctx, userID, jobID); err != nil {
			return err
		}
		if o.sink != nil {
			o.sink.Forget(userID, jobID)
		}
		return nil

	case err == nil && job.Status == models.JobStatusFailed:
		reason := job.Error
		if reason == "" {
			reason = "rendering failed"
		}
		_, rerr := o.HandleFailure(ctx, userID, jobID, durationSeconds, reason)
		o.forget(userID, jobID)
		return rerr

	case err == nil:
		// Still honestly in flight; leave it alone.
		return nil

	default:
		// Unreachable or unknown to the service: reclaim the credits.
		_, rerr := o.HandleFailure(ctx, userID, jobID, durationSeconds,
			fmt.Sprintf("stale job: %v", err))
		o.forget(userID, jobID)
		return rerr
	}
}

func (o *Orchestrator) forget(userID, jobID string) {
	if o.sink != nil {
		o.sink.Forget(userID, jobID)
	}
}

// SweepStaleJobs reconciles every tracked job older than the job timeout.
func (o *Orchestrator) SweepStaleJobs(ctx context.Context) {
	all, err := o.store.ListAll(ctx)
	if err != nil {
		log.Printf("stale-job sweep: list failed: %v", err)
		return
	}
	cutoff := time.Now().Add(-o.pollCfg.JobTimeout)
	for userID, jobs := range all {
		for _, pj := range jobs {
			if pj.StartedAt.After(cutoff) {
				continue
			}
			if err := o.ReconcileStaleJob(ctx, userID, pj.JobID, pj.DurationSeconds); err != nil {
				log.Printf("stale-job sweep: reconcile %s failed: %v", pj.JobID, err)
			}
		}
	}
}

// RunSweeper runs SweepStaleJobs on a ticker until ctx is cancelled.
func (o *Orchestrator) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.SweepStaleJobs(ctx)
		}
	}
}

func (o *Orchestrator) lifecycleCtx() context.Context {
	if o.baseCtx != nil && o.baseCtx.Err() == nil {
		return o.baseCtx
	}
	return context.Background()
}

// IsValidationError reports whether err should map to a 400.
func IsValidationError(err error) bool {
	var ve *models.ValidationError
	return errors.As(err, &ve)
}
