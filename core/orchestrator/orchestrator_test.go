package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"video-orchestrator/core/models"
	"video-orchestrator/core/notify"
	"video-orchestrator/core/poller"
	"video-orchestrator/core/progress"
	"video-orchestrator/core/tuning"
)

// fakeLedger mimics the credit repository: a conditional deduct and an
// idempotent refund keyed by job id.
type fakeLedger struct {
	mu       sync.Mutex
	tun      *tuning.Tuning
	balance  int
	refunds  map[string]int
	refundCh chan string
	failNext error
}

func newFakeLedger(balance int) *fakeLedger {
	return &fakeLedger{
		tun:      tuning.Default(),
		balance:  balance,
		refunds:  make(map[string]int),
		refundCh: make(chan string, 16),
	}
}

func (l *fakeLedger) CheckCredits(_ context.Context, _ string, durationSeconds int) (models.CreditCheck, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	required, err := l.tun.CostFor(durationSeconds)
	if err != nil {
		return models.CreditCheck{}, err
	}
	check := models.CreditCheck{Required: required, Balance: l.balance, HasEnough: l.balance >= required}
	if !check.HasEnough {
		check.Shortfall = required - l.balance
	}
	return check, nil
}

func (l *fakeLedger) Deduct(_ context.Context, _ string, amount int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balance < amount {
		return 0, models.ErrInsufficientCredits
	}
	l.balance -= amount
	return l.balance, nil
}

func (l *fakeLedger) Refund(_ context.Context, jobID, _ string, amount int, _ string) (models.RefundResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failNext != nil {
		err := l.failNext
		l.failNext = nil
		return models.RefundResult{}, err
	}
	if recorded, ok := l.refunds[jobID]; ok {
		return models.RefundResult{Applied: false, Amount: recorded}, nil
	}
	l.refunds[jobID] = amount
	l.balance += amount
	select {
	case l.refundCh <- jobID:
	default:
	}
	return models.RefundResult{Applied: true, Amount: amount}, nil
}

func (l *fakeLedger) currentBalance() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance
}

// fakeRender scripts the rendering service.
type fakeRender struct {
	mu        sync.Mutex
	submitErr error
	submits   int
	status    func(jobID string) (*models.Job, error)
}

func (r *fakeRender) Submit(_ context.Context, _ models.SubmitInput) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.submitErr != nil {
		return "", r.submitErr
	}
	r.submits++
	return fmt.Sprintf("job-%d", r.submits), nil
}

func (r *fakeRender) Status(_ context.Context, jobID string) (*models.Job, error) {
	r.mu.Lock()
	fn := r.status
	r.mu.Unlock()
	if fn == nil {
		return &models.Job{JobID: jobID, Status: models.JobStatusProcessing}, nil
	}
	return fn(jobID)
}

// memStore is an in-memory pending-job ledger.
type memStore struct {
	mu   sync.Mutex
	jobs map[string]map[string]models.PendingJob
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]map[string]models.PendingJob)}
}

func (s *memStore) SaveJob(_ context.Context, userID string, job models.PendingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobs[userID] == nil {
		s.jobs[userID] = make(map[string]models.PendingJob)
	}
	s.jobs[userID][job.JobID] = job
	return nil
}

func (s *memStore) GetJob(_ context.Context, userID, jobID string) (*models.PendingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[userID][jobID]; ok {
		return &job, nil
	}
	return nil, nil
}

func (s *memStore) RemoveJob(_ context.Context, userID, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs[userID], jobID)
	return nil
}

func (s *memStore) ListJobs(_ context.Context, userID string) ([]models.PendingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PendingJob
	for _, job := range s.jobs[userID] {
		out = append(out, job)
	}
	return out, nil
}

func (s *memStore) ListAll(_ context.Context) (map[string][]models.PendingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]models.PendingJob)
	for userID, jobs := range s.jobs {
		for _, job := range jobs {
			out[userID] = append(out[userID], job)
		}
	}
	return out, nil
}

func (s *memStore) count(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs[userID])
}

type recordedEvent struct {
	jobID string
	kind  models.EventKind
}

type fakeEvents struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (e *fakeEvents) Record(_ context.Context, jobID, _ string, kind models.EventKind, _ string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, recordedEvent{jobID: jobID, kind: kind})
	return nil
}

func (e *fakeEvents) kinds(jobID string) []models.EventKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []models.EventKind
	for _, ev := range e.events {
		if ev.jobID == jobID {
			out = append(out, ev.kind)
		}
	}
	return out
}

func testPollConfig() poller.Config {
	return poller.Config{
		BaseInterval:     5 * time.Millisecond,
		RecoveryInterval: 5 * time.Millisecond,
		BackoffBase:      time.Millisecond,
		BackoffCap:       5 * time.Millisecond,
		JobTimeout:       time.Minute,
	}
}

func newTestOrchestrator(t *testing.T, ledger *fakeLedger, render *fakeRender) (*Orchestrator, *memStore, *fakeEvents) {
	t.Helper()
	store := newMemStore()
	events := &fakeEvents{}
	o := New(ledger, render, store, events, tuning.Default(), testPollConfig())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return o, store, events
}

func awaitRefund(t *testing.T, ledger *fakeLedger) string {
	t.Helper()
	select {
	case jobID := <-ledger.refundCh:
		return jobID
	case <-time.After(2 * time.Second):
		t.Fatal("refund never happened")
		return ""
	}
}

func TestSubmitDeductsAfterConfirmedJobID(t *testing.T) {
	ledger := newFakeLedger(10)
	o, store, events := newTestOrchestrator(t, ledger, &fakeRender{})

	res, err := o.Submit(context.Background(), "u1", validSingle())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.CreditsDeducted != 10 || res.RemainingCredits != 0 {
		t.Errorf("result = %+v, want 10 deducted, 0 remaining", res)
	}
	if ledger.currentBalance() != 0 {
		t.Errorf("balance = %d, want 0", ledger.currentBalance())
	}
	if store.count("u1") != 1 {
		t.Errorf("pending jobs = %d, want 1", store.count("u1"))
	}
	if kinds := events.kinds(res.JobID); len(kinds) != 1 || kinds[0] != models.EventSubmitted {
		t.Errorf("events = %v, want [submitted]", kinds)
	}
}

func TestSubmitRejectsInsufficientBalance(t *testing.T) {
	ledger := newFakeLedger(5)
	render := &fakeRender{}
	o, store, _ := newTestOrchestrator(t, ledger, render)

	_, err := o.Submit(context.Background(), "u1", validSingle())
	if !errors.Is(err, models.ErrInsufficientCredits) {
		t.Fatalf("err = %v, want ErrInsufficientCredits", err)
	}
	if render.submits != 0 {
		t.Error("rendering service must not be called without credits")
	}
	if ledger.currentBalance() != 5 {
		t.Errorf("balance = %d, want untouched 5", ledger.currentBalance())
	}
	if store.count("u1") != 0 {
		t.Error("no pending job should be recorded")
	}
}

func TestSubmitFailureCostsNothing(t *testing.T) {
	ledger := newFakeLedger(10)
	render := &fakeRender{submitErr: fmt.Errorf("%w: rendering service returned 503", models.ErrSubmissionFailed)}
	o, store, _ := newTestOrchestrator(t, ledger, render)

	_, err := o.Submit(context.Background(), "u1", validSingle())
	if !errors.Is(err, models.ErrSubmissionFailed) {
		t.Fatalf("err = %v, want ErrSubmissionFailed", err)
	}
	if ledger.currentBalance() != 10 {
		t.Errorf("balance = %d, want untouched 10", ledger.currentBalance())
	}
	if store.count("u1") != 0 {
		t.Error("no pending job should be recorded")
	}
}

func TestFailedJobIsRefunded(t *testing.T) {
	ledger := newFakeLedger(10)
	render := &fakeRender{}
	render.status = func(jobID string) (*models.Job, error) {
		return &models.Job{JobID: jobID, Status: models.JobStatusFailed, Error: "render crashed"}, nil
	}
	o, store, events := newTestOrchestrator(t, ledger, render)

	res, err := o.Submit(context.Background(), "u1", validSingle())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if refunded := awaitRefund(t, ledger); refunded != res.JobID {
		t.Errorf("refunded job = %s, want %s", refunded, res.JobID)
	}
	if ledger.currentBalance() != 10 {
		t.Errorf("balance = %d, want restored 10", ledger.currentBalance())
	}

	// Retirement is asynchronous, right after the refund.
	deadline := time.Now().Add(2 * time.Second)
	for store.count("u1") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("pending job never retired")
		}
		time.Sleep(5 * time.Millisecond)
	}

	kinds := events.kinds(res.JobID)
	var sawFailed, sawRefund bool
	for _, k := range kinds {
		if k == models.EventFailed {
			sawFailed = true
		}
		if k == models.EventRefundApplied {
			sawRefund = true
		}
	}
	if !sawFailed || !sawRefund {
		t.Errorf("events = %v, want failed and refund_applied", kinds)
	}
}

func TestRefundIsAppliedOnce(t *testing.T) {
	ledger := newFakeLedger(10)
	o, _, events := newTestOrchestrator(t, ledger, &fakeRender{})

	res, err := o.Submit(context.Background(), "u1", validSingle())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	first, err := o.Cancel(context.Background(), "u1", res.JobID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !first.Applied || first.Amount != 10 {
		t.Errorf("first refund = %+v, want applied 10", first)
	}

	// A racing failure path hits the same idempotent refund record.
	second, err := o.HandleFailure(context.Background(), "u1", res.JobID, 30, "render crashed")
	if err != nil {
		t.Fatalf("HandleFailure: %v", err)
	}
	if second.Applied {
		t.Error("second refund must not apply")
	}
	if ledger.currentBalance() != 10 {
		t.Errorf("balance = %d, want 10 (single refund)", ledger.currentBalance())
	}

	var conflicts int
	for _, k := range events.kinds(res.JobID) {
		if k == models.EventRefundConflict {
			conflicts++
		}
	}
	if conflicts != 1 {
		t.Errorf("refund conflicts = %d, want 1", conflicts)
	}
}

func TestCancelUnknownJob(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, newFakeLedger(10), &fakeRender{})

	if _, err := o.Cancel(context.Background(), "u1", "nope"); !errors.Is(err, models.ErrJobNotFound) {
		t.Errorf("err = %v, want ErrJobNotFound", err)
	}
}

func TestRefundFailureStillRetiresJob(t *testing.T) {
	ledger := newFakeLedger(10)
	o, store, events := newTestOrchestrator(t, ledger, &fakeRender{})

	res, err := o.Submit(context.Background(), "u1", validSingle())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ledger.mu.Lock()
	ledger.failNext = errors.New("ledger down")
	ledger.mu.Unlock()

	_, err = o.Cancel(context.Background(), "u1", res.JobID)
	if !errors.Is(err, models.ErrRefundFailed) {
		t.Fatalf("err = %v, want ErrRefundFailed", err)
	}
	if store.count("u1") != 0 {
		t.Error("job must be retired even when the refund fails")
	}

	var sawRefundFailed bool
	for _, k := range events.kinds(res.JobID) {
		if k == models.EventRefundFailed {
			sawRefundFailed = true
		}
	}
	if !sawRefundFailed {
		t.Error("refund_failed event missing")
	}
}

func TestStartResumesTrackedJobs(t *testing.T) {
	ledger := newFakeLedger(0)
	render := &fakeRender{}
	render.status = func(jobID string) (*models.Job, error) {
		return &models.Job{JobID: jobID, Status: models.JobStatusFailed, Error: "lost"}, nil
	}
	store := newMemStore()
	events := &fakeEvents{}
	store.SaveJob(context.Background(), "u1", models.PendingJob{
		JobID:           "job-old",
		DurationSeconds: 30,
		StartedAt:       time.Now().Add(-time.Minute),
		LastStatus:      models.JobStatusProcessing,
	})

	o := New(ledger, render, store, events, tuning.Default(), testPollConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if refunded := awaitRefund(t, ledger); refunded != "job-old" {
		t.Errorf("refunded job = %s, want job-old", refunded)
	}
}

type archiveHook struct {
	done chan string
}

func (h *archiveHook) HandleCompleted(_ string, job *models.Job) {
	select {
	case h.done <- job.JobID:
	default:
	}
}

func TestCompletedJobReachesArchiveHook(t *testing.T) {
	ledger := newFakeLedger(10)
	render := &fakeRender{}
	render.status = func(jobID string) (*models.Job, error) {
		return &models.Job{JobID: jobID, Status: models.JobStatusCompleted}, nil
	}
	store := newMemStore()
	events := &fakeEvents{}
	o := New(ledger, render, store, events, tuning.Default(), testPollConfig())

	agg := progress.NewAggregator(render, store, notify.LogNotifier{}, o, tuning.Default())
	hook := &archiveHook{done: make(chan string, 1)}
	agg.SetCompletionHook(hook)
	o.SetSink(agg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	res, err := o.Submit(context.Background(), "u1", validSingle())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// The per-job poller retires the completed job; the archive hook
	// must still fire on that path, not only on aggregator rounds.
	select {
	case jobID := <-hook.done:
		if jobID != res.JobID {
			t.Errorf("archived job = %s, want %s", jobID, res.JobID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("archive hook never invoked")
	}

	if ledger.currentBalance() != 0 {
		t.Errorf("balance = %d, completed job must not be refunded", ledger.currentBalance())
	}
}

// ctxAwareStore honors context cancellation on writes, the way the
// postgres-backed store does.
type ctxAwareStore struct {
	*memStore
}

func (s *ctxAwareStore) SaveJob(ctx context.Context, userID string, job models.PendingJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.memStore.SaveJob(ctx, userID, job)
}

func TestSubmitPersistsAfterClientDisconnect(t *testing.T) {
	ledger := newFakeLedger(10)
	store := &ctxAwareStore{memStore: newMemStore()}
	events := &fakeEvents{}
	o := New(ledger, &fakeRender{}, store, events, tuning.Default(), testPollConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The client goes away the instant the remote job is confirmed.
	// Credits are already spent, so the ledger entry must land anyway.
	reqCtx, disconnect := context.WithCancel(context.Background())
	disconnect()

	res, err := o.Submit(reqCtx, "u1", validSingle())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if store.count("u1") != 1 {
		t.Fatalf("pending jobs = %d, want 1 despite cancelled request", store.count("u1"))
	}
	if kinds := events.kinds(res.JobID); len(kinds) != 1 || kinds[0] != models.EventSubmitted {
		t.Errorf("events = %v, want [submitted]", kinds)
	}
}

func TestSweepReconcilesStaleJobs(t *testing.T) {
	ledger := newFakeLedger(0)
	render := &fakeRender{}
	render.status = func(jobID string) (*models.Job, error) {
		return nil, &models.PollError{Transient: true, Err: errors.New("unreachable")}
	}
	store := newMemStore()
	events := &fakeEvents{}
	store.SaveJob(context.Background(), "u1", models.PendingJob{
		JobID:           "job-stuck",
		DurationSeconds: 60,
		StartedAt:       time.Now().Add(-time.Hour),
	})
	store.SaveJob(context.Background(), "u1", models.PendingJob{
		JobID:           "job-fresh",
		DurationSeconds: 30,
		StartedAt:       time.Now(),
	})

	o := New(ledger, render, store, events, tuning.Default(), testPollConfig())
	o.SweepStaleJobs(context.Background())

	if _, ok := ledger.refunds["job-stuck"]; !ok {
		t.Error("stale job should be refunded")
	}
	if _, ok := ledger.refunds["job-fresh"]; ok {
		t.Error("fresh job must be left alone")
	}
	if ledger.currentBalance() != 20 {
		t.Errorf("balance = %d, want 20", ledger.currentBalance())
	}
}
