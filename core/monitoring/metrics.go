package monitoring

import (
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "videos_submitted_total",
		Help: "The total number of submitted generation jobs",
	}, []string{"mode", "duration"})

	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "videos_finished_total",
		Help: "The total number of jobs that reached a terminal state",
	}, []string{"outcome"}) // outcome: completed, failed, cancelled, timed_out

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "video_job_duration_seconds",
		Help:    "Wall-clock time from submission to terminal state.",
		Buckets: prometheus.ExponentialBuckets(5, 2, 10),
	}, []string{"outcome"})

	CreditsDeducted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credits_deducted_total",
		Help: "Credits deducted at job submission",
	})

	CreditsRefunded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credits_refunded_total",
		Help: "Credits refunded for failed or cancelled jobs",
	})

	RefundConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "refund_conflicts_total",
		Help: "Refund attempts that found an existing refund record",
	})

	RefundFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "refund_failures_total",
		Help: "Refund transactions that failed and need manual support",
	})

	PollErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "status_poll_errors_total",
		Help: "Failed status polls by classification",
	}, []string{"class"}) // class: transient, permanent

	WebhookReplays = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_webhook_replays_total",
		Help: "Payment webhook deliveries dropped as replays",
	})
)

// NewLogger creates the structured logger installed as default in main.
func NewLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}
