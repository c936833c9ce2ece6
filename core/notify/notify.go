// Package notify publishes one-time user-facing notifications when a job
// reaches a terminal state.
package notify

import (
	"context"
	"log"
	"time"
)

// Event is a terminal-state notification
type Event struct {
	JobID         string    `json:"job_id"`
	UserID        string    `json:"user_id"`
	Title         string    `json:"title"`
	Outcome       string    `json:"outcome"` // completed | failed
	Reason        string    `json:"reason,omitempty"`
	RefundApplied bool      `json:"refund_applied,omitempty"`
	RefundAmount  int       `json:"refund_amount,omitempty"`
	At            time.Time `json:"at"`
}

// Notifier delivers terminal-state events to the user-facing channel
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// LogNotifier writes notifications to the process log. Used when no
// message broker is configured.
type LogNotifier struct{}

// Notify logs the event.
func (LogNotifier) Notify(_ context.Context, ev Event) error {
	if ev.Outcome == "completed" {
		log.Printf("job %s (%q) completed for user %s", ev.JobID, ev.Title, ev.UserID)
		return nil
	}
	log.Printf("job %s (%q) failed for user %s: %s (refund applied=%v amount=%d)",
		ev.JobID, ev.Title, ev.UserID, ev.Reason, ev.RefundApplied, ev.RefundAmount)
	return nil
}
