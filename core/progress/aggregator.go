// Package progress tracks every non-terminal job of the node's users,
// independent of which page or per-job poller is alive, and surfaces a
// single notification when a job finishes. It is an injectable service
// with an explicit lifetime: initialized once per process, torn down
// with its context.
package progress

import (
	"context"
	"log"
	"sync"
	"time"

	"video-orchestrator/core/jobstore"
	"video-orchestrator/core/models"
	"video-orchestrator/core/notify"
	"video-orchestrator/core/poller"
	"video-orchestrator/core/tuning"
)

// RefundHandler retires a failed job through the idempotent refund path.
type RefundHandler interface {
	HandleFailure(ctx context.Context, userID, jobID string, durationSeconds int, reason string) (models.RefundResult, error)
}

// StatusCache mirrors the latest status for cheap API reads. Optional.
type StatusCache interface {
	SetStatus(ctx context.Context, jobID, status string) error
}

// CompletionHook runs after a job completes (video archiving). Optional.
type CompletionHook interface {
	HandleCompleted(userID string, job *models.Job)
}

// Update is one fan-out message to subscribers
type Update struct {
	UserID          string           `json:"userId"`
	JobID           string           `json:"jobId"`
	Title           string           `json:"title"`
	DurationSeconds int              `json:"durationSeconds,omitempty"`
	Status          models.JobStatus `json:"status"`
	Progress        string           `json:"progress,omitempty"`
	Percent         int              `json:"percent"`
}

type trackedJob struct {
	userID string
	pj     models.PendingJob
}

// Aggregator is the global fan-out poller over all in-flight jobs
type Aggregator struct {
	fetcher  poller.StatusFetcher
	store    jobstore.Store
	notifier notify.Notifier
	refunds  RefundHandler
	tun      *tuning.Tuning
	cache    StatusCache
	hook     CompletionHook
	interval time.Duration

	mu            sync.Mutex
	tracked       map[string]trackedJob
	notified      map[string]struct{}
	notifiedOrder []string
	subs          map[int]chan Update
	nextSub       int
}

// notifiedLimit bounds the notification-dedup set; the oldest entries
// are evicted FIFO. A long-retired job id coming back after eviction is
/// harmless: its refund dedup lives in the database, not here.
const notifiedLimit = 1000

// NewAggregator creates the aggregator. cache and hook may be nil.
func NewAggregator(fetcher poller.StatusFetcher, store jobstore.Store, notifier notify.Notifier, refunds RefundHandler, tun *tuning.Tuning) *Aggregator {
	return &Aggregator{
		fetcher:  fetcher,
		store:    store,
		notifier: notifier,
		refunds:  refunds,
		tun:      tun,
		interval: 3000 * time.Millisecond,
		tracked:  make(map[string]trackedJob),
		notified: make(map[string]struct{}),
		subs:     make(map[int]chan Update),
	}
}

// SetStatusCache attaches the redis status mirror.
func (a *Aggregator) SetStatusCache(cache StatusCache) { a.cache = cache }

// SetCompletionHook attaches the post-completion hook.
func (a *Aggregator) SetCompletionHook(hook CompletionHook) { a.hook = hook }

// SetInterval overrides the poll round interval (tests).
func (a *Aggregator) SetInterval(d time.Duration) { a.interval = d }

// Start rehydrates tracking from the pending-job ledger and polls every
// tracked job each round until ctx is cancelled.
func (a *Aggregator) Start(ctx context.Context) error {
	all, err := a.store.ListAll(ctx)
	if err != nil {
		return err
	}
	a.mu.Lock()
	for userID, jobs := range all {
		for _, pj := range jobs {
			a.tracked[pj.JobID] = trackedJob{userID: userID, pj: pj}
		}
	}
	a.mu.Unlock()

	go a.run(ctx)
	return nil
}

func (a *Aggregator) run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.closeSubs()
			return
		case <-ticker.C:
			a.pollRound(ctx)
		}
	}
}

// pollRound queries every tracked job concurrently. One job's fetch
// failure never blocks the others; its last-known status is retained
// and retried next round.
func (a *Aggregator) pollRound(ctx context.Context) {
	a.mu.Lock()
	batch := make([]trackedJob, 0, len(a.tracked))
	for _, t := range a.tracked {
		batch = append(batch, t)
	}
	a.mu.Unlock()

	var wg sync.WaitGroup
	for _, t := range batch {
		wg.Add(1)
		go func(t trackedJob) {
			defer wg.Done()
			job, err := a.fetcher.Status(ctx, t.pj.JobID)
			if err != nil {
				if !models.IsTransient(err) {
					// The service no longer knows this job; refund
					// and retire rather than poll forever.
					a.resolveFailed(ctx, t, err.Error())
					return
				}
				log.Printf("aggregator: poll %s failed: %v", t.pj.JobID, err)
				return
			}
			a.apply(ctx, t, job)
		}(t)
	}
	wg.Wait()
}

func (a *Aggregator) apply(ctx context.Context, t trackedJob, job *models.Job) {
	switch job.Status {
	case models.JobStatusCompleted:
		a.resolveCompleted(ctx, t, job)
	case models.JobStatusFailed:
		reason := job.Error
		if reason == "" {
			reason = "rendering failed"
		}
		a.resolveFailed(ctx, t, reason)
	default:
		a.Publish(t.userID, job)
	}
}

func (a *Aggregator) resolveCompleted(ctx context.Context, t trackedJob, job *models.Job) {
	if err := a.store.RemoveJob(ctx, t.userID, t.pj.JobID); err != nil {
		log.Printf("aggregator: remove completed job %s: %v", t.pj.JobID, err)
	}
	a.Completed(ctx, t.userID, job, notify.Event{
		JobID:   t.pj.JobID,
		UserID:  t.userID,
		Title:   t.pj.Title,
		Outcome: "completed",
		At:      time.Now(),
	})
}

func (a *Aggregator) resolveFailed(ctx context.Context, t trackedJob, reason string) {
	res, err := a.refunds.HandleFailure(ctx, t.userID, t.pj.JobID, t.pj.DurationSeconds, reason)
	if err != nil {
		log.Printf("aggregator: refund for %s did not apply: %v", t.pj.JobID, err)
	}
	a.Resolve(ctx, notify.Event{
		JobID:         t.pj.JobID,
		UserID:        t.userID,
		Title:         t.pj.Title,
		Outcome:       "failed",
		Reason:        reason,
		RefundApplied: err == nil,
		RefundAmount:  res.Amount,
		At:            time.Now(),
	})
}

// Track begins following a job. Called at submission and on rehydration.
func (a *Aggregator) Track(userID string, pj models.PendingJob) {
	a.mu.Lock()
	a.tracked[pj.JobID] = trackedJob{userID: userID, pj: pj}
	a.mu.Unlock()
}

// Forget drops a job without notifying (cancellation, external retire).
func (a *Aggregator) Forget(_ string, jobID string) {
	a.mu.Lock()
	delete(a.tracked, jobID)
	a.mu.Unlock()
}

// Publish applies the latest snapshot of a still-tracked job: updates
// the tracked entry, mirrors the status to the cache and fans the update
// out to subscribers.
func (a *Aggregator) Publish(userID string, job *models.Job) {
	a.mu.Lock()
	t, ok := a.tracked[job.JobID]
	if ok {
		t.pj.LastStatus = job.Status
		a.tracked[job.JobID] = t
	}
	a.mu.Unlock()
	if !ok {
		return
	}

	if a.cache != nil {
		if err := a.cache.SetStatus(context.Background(), job.JobID, string(job.Status)); err != nil {
			log.Printf("aggregator: cache status for %s: %v", job.JobID, err)
		}
	}
	a.fanOut(Update{
		UserID:          userID,
		JobID:           job.JobID,
		Title:           t.pj.Title,
		DurationSeconds: t.pj.DurationSeconds,
		Status:          job.Status,
		Progress:        job.Progress,
		Percent:         Percent(a.tun, job.Status, job.Progress),
	})
}

// Resolve finishes tracking a job and notifies the user exactly once.
// Replays (the per-job poller and a fan-out round racing each other, or
// repeated polls of a terminal job) are deduplicated by job id.
func (a *Aggregator) Resolve(ctx context.Context, ev notify.Event) {
	a.resolve(ctx, ev)
}

// Completed resolves a successfully finished job and hands it to the
// completion hook. The hook runs at most once per job, gated on the same
// dedup as the notification, so the per-job poller and a fan-out round
// reaching completed concurrently archive only once.
func (a *Aggregator) Completed(ctx context.Context, userID string, job *models.Job, ev notify.Event) {
	if a.resolve(ctx, ev) && a.hook != nil {
		go a.hook.HandleCompleted(userID, job)
	}
}

// resolve reports whether this call was the first resolution of the job.
func (a *Aggregator) resolve(ctx context.Context, ev notify.Event) bool {
	a.mu.Lock()
	t, tracked := a.tracked[ev.JobID]
	delete(a.tracked, ev.JobID)
	_, already := a.notified[ev.JobID]
	if !already {
		a.notified[ev.JobID] = struct{}{}
		a.notifiedOrder = append(a.notifiedOrder, ev.JobID)
		if len(a.notifiedOrder) > notifiedLimit {
			oldest := a.notifiedOrder[0]
			a.notifiedOrder = a.notifiedOrder[1:]
			delete(a.notified, oldest)
		}
	}
	a.mu.Unlock()

	if already {
		return false
	}
	if ev.Title == "" && tracked {
		ev.Title = t.pj.Title
	}

	status := models.JobStatusFailed
	percent := 0
	if ev.Outcome == "completed" {
		status = models.JobStatusCompleted
		percent = 100
	}
	if a.cache != nil {
		if err := a.cache.SetStatus(context.Background(), ev.JobID, string(status)); err != nil {
			log.Printf("aggregator: cache status for %s: %v", ev.JobID, err)
		}
	}
	a.fanOut(Update{
		UserID:  ev.UserID,
		JobID:   ev.JobID,
		Title:   ev.Title,
		Status:  status,
		Percent: percent,
	})

	if err := a.notifier.Notify(ctx, ev); err != nil {
		log.Printf("aggregator: notify for %s failed: %v", ev.JobID, err)
	}
	return true
}

// Jobs returns the tracked jobs for one user with display percentages.
func (a *Aggregator) Jobs(userID string) []Update {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Update
	for _, t := range a.tracked {
		if t.userID != userID {
			continue
		}
		out = append(out, Update{
			UserID:          userID,
			JobID:           t.pj.JobID,
			Title:           t.pj.Title,
			DurationSeconds: t.pj.DurationSeconds,
			Status:          t.pj.LastStatus,
			Percent:         Percent(a.tun, t.pj.LastStatus, ""),
		})
	}
	return out
}

// Subscribe returns a channel of updates and a cancel function. Slow
// subscribers drop updates rather than stall polling.
func (a *Aggregator) Subscribe() (<-chan Update, func()) {
	a.mu.Lock()
	id := a.nextSub
	a.nextSub++
	ch := make(chan Update, 64)
	a.subs[id] = ch
	a.mu.Unlock()

	return ch, func() {
		a.mu.Lock()
		if sub, ok := a.subs[id]; ok {
			delete(a.subs, id)
			close(sub)
		}
		a.mu.Unlock()
	}
}

func (a *Aggregator) fanOut(u Update) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ch := range a.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

func (a *Aggregator) closeSubs() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, ch := range a.subs {
		delete(a.subs, id)
		close(ch)
	}
}
