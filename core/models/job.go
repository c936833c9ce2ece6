package models

import "time"

// Job is the rendering service's view of one video-generation request,
// as returned by its status endpoint. The service assigns the id and owns
// every field; this side only reads them.
type Job struct {
	JobID           string    `json:"jobId"`
	Status          JobStatus `json:"status"`
	Progress        string    `json:"progress,omitempty"`
	QueuePosition   *int      `json:"queuePosition,omitempty"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
	DurationSeconds int       `json:"durationSeconds,omitempty"`
}

// JobStatus represents the current status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions can occur.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Mode represents the script layout of a generated video
type Mode string

const (
	ModeSingle        Mode = "single"
	ModeHostGuestHost Mode = "host_guest_host"
)

// SubmitInput is the submission payload for a new video
type SubmitInput struct {
	Mode                Mode   `json:"mode"`
	DurationSeconds     int    `json:"durationSeconds"`
	SelectedHost        string `json:"selectedHost"`
	SelectedGuest       string `json:"selectedGuest,omitempty"`
	SingleCharacterText string `json:"singleCharacterText,omitempty"`
	Host1Text           string `json:"host1Text,omitempty"`
	Guest1Text          string `json:"guest1Text,omitempty"`
	Host2Text           string `json:"host2Text,omitempty"`
	Title               string `json:"title,omitempty"`
}

// PendingJob is one entry of the pending-job ledger: an in-flight job
// tracked durably so polling resumes after a restart.
type PendingJob struct {
	JobID           string    `json:"job_id"`
	Title           string    `json:"title"`
	DurationSeconds int       `json:"duration_seconds"`
	StartedAt       time.Time `json:"started_at"`
	LastStatus      JobStatus `json:"last_status"`
}

// EventKind classifies a lifecycle audit event
type EventKind string

const (
	EventSubmitted      EventKind = "submitted"
	EventCompleted      EventKind = "completed"
	EventFailed         EventKind = "failed"
	EventCancelled      EventKind = "cancelled"
	EventTimedOut       EventKind = "timed_out"
	EventRefundApplied  EventKind = "refund_applied"
	EventRefundConflict EventKind = "refund_conflict"
	EventRefundFailed   EventKind = "refund_failed"
	EventArchived       EventKind = "archived"
)

// JobEvent is one row of the lifecycle audit trail
type JobEvent struct {
	ID     int64
	JobID  string
	UserID string
	At     time.Time
	Kind   EventKind
	Detail string
}

// ArtifactType represents the type of a stored job artifact
type ArtifactType string

const (
	ArtifactTypeVideo ArtifactType = "video"
)

// JobArtifact references an object stored for a finished job
type JobArtifact struct {
	ID        int64
	JobID     string
	Type      ArtifactType
	URI       string
	CreatedAt time.Time
}
