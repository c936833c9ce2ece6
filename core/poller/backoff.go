package poller

import (
	"math"
	"time"
)

// Config tunes the polling loop. Zero values are replaced by defaults.
type Config struct {
	// BaseInterval separates polls while the job is non-terminal.
	BaseInterval time.Duration
	// RecoveryInterval is used instead of BaseInterval for the first
	// poll after an errored attempt.
	RecoveryInterval time.Duration
	// BackoffBase and BackoffFactor shape the delay after consecutive
	// transient errors: BackoffBase × BackoffFactor^errors, capped at
	// BackoffCap. RateLimitFactor replaces BackoffFactor when the cause
	// is rate limiting.
	BackoffBase     time.Duration
	BackoffFactor   float64
	RateLimitFactor float64
	BackoffCap      time.Duration
	// MaxConsecutiveErrors bounds how long an unreachable backend can
	// hold a job open before it is force-failed.
	MaxConsecutiveErrors int
	// WarnAfter is the consecutive-error count at which a non-blocking
	// warning is surfaced.
	WarnAfter int
	// JobTimeout is the wall-clock bound from submission; a job still
	// non-terminal past it is force-failed regardless of server state.
	JobTimeout time.Duration
}

// DefaultConfig returns the production polling parameters.
func DefaultConfig() Config {
	return Config{
		BaseInterval:         2000 * time.Millisecond,
		RecoveryInterval:     3000 * time.Millisecond,
		BackoffBase:          2000 * time.Millisecond,
		BackoffFactor:        1.5,
		RateLimitFactor:      2.0,
		BackoffCap:           20000 * time.Millisecond,
		MaxConsecutiveErrors: 7,
		WarnAfter:            3,
		JobTimeout:           15 * time.Minute,
	}
}

func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.BaseInterval <= 0 {
		c.BaseInterval = d.BaseInterval
	}
	if c.RecoveryInterval <= 0 {
		c.RecoveryInterval = d.RecoveryInterval
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BackoffFactor <= 1 {
		c.BackoffFactor = d.BackoffFactor
	}
	if c.RateLimitFactor <= 1 {
		c.RateLimitFactor = d.RateLimitFactor
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = d.BackoffCap
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = d.MaxConsecutiveErrors
	}
	if c.WarnAfter <= 0 {
		c.WarnAfter = d.WarnAfter
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = d.JobTimeout
	}
	return c
}

// Backoff returns the delay before the next attempt, given how many
// consecutive errors preceded it (0 for the first retry).
func (c Config) Backoff(priorErrors int, rateLimited bool) time.Duration {
	factor := c.BackoffFactor
	if rateLimited {
		factor = c.RateLimitFactor
	}
	delay := time.Duration(float64(c.BackoffBase) * math.Pow(factor, float64(priorErrors)))
	if delay > c.BackoffCap || delay <= 0 {
		return c.BackoffCap
	}
	return delay
}
