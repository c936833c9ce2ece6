package models

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientCredits is returned before any external call is made.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrSubmissionFailed means the rendering service rejected or was
	// unreachable at submission time. No credits were deducted.
	ErrSubmissionFailed = errors.New("submission failed")

	// ErrJobNotFound is returned for unknown or already retired jobs.
	ErrJobNotFound = errors.New("job not found")

	// ErrRefundFailed means the ledger transaction itself failed. The job
	// is still retired from tracking; the user needs manual support.
	ErrRefundFailed = errors.New("refund failed")

	// ErrJobTimeout marks a job that exceeded the wall-clock bound while
	// still non-terminal.
	ErrJobTimeout = errors.New("job timed out")
)

// ValidationError rejects a submission before any side effect.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// PollError is a failed status-poll attempt, classified for retry.
// Transient errors are retried with backoff; permanent ones fail the job.
type PollError struct {
	Transient   bool
	RateLimited bool
	StatusCode  int
	Err         error
}

func (e *PollError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s poll error (http %d): %v", kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s poll error: %v", kind, e.Err)
}

func (e *PollError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a poll error worth retrying.
func IsTransient(err error) bool {
	var pe *PollError
	return errors.As(err, &pe) && pe.Transient
}

// IsRateLimited reports whether err was caused by service rate limiting.
func IsRateLimited(err error) bool {
	var pe *PollError
	return errors.As(err, &pe) && pe.RateLimited
}
