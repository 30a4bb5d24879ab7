package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobTypeSearch       = "search"
	JobTypeProfileFetch = "profile-fetch"
)

const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// Payload keys the scheduler understands. Everything else in a payload is
// opaque to the orchestration core and interpreted by execution handlers.
const (
	PayloadScheduledFor = "scheduled_for" // RFC3339
	PayloadRecurrence   = "recurrence"    // once | daily | weekly | monthly
	PayloadEndDate      = "end_date"      // RFC3339
)

// Job is one unit of deferred orchestrated work, serialized as JSON into the
// shared store. Lifecycle state is derived from which timestamps are set; there
// is no separate status column to drift out of sync.
type Job struct {
	ID          uuid.UUID         `json:"id"`
	Type        string            `json:"type"`
	CampaignID  uuid.UUID         `json:"campaign_id"`
	Priority    string            `json:"priority"`
	Payload     map[string]string `json:"payload,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	FailedAt    *time.Time        `json:"failed_at,omitempty"`
	RetryCount  int               `json:"retry_count"`
	MaxRetries  int               `json:"max_retries"`
	LastError   *string           `json:"last_error,omitempty"`
}

// Status derives the lifecycle state from the job's timestamps.
func (j *Job) Status() string {
	switch {
	case j.CompletedAt != nil:
		return JobStatusCompleted
	case j.FailedAt != nil && j.RetryCount >= j.MaxRetries:
		return JobStatusFailed
	case j.StartedAt != nil:
		return JobStatusProcessing
	default:
		return JobStatusQueued
	}
}

// ScheduledFor returns the payload's due time, if the job carries one.
func (j *Job) ScheduledFor() (time.Time, bool) {
	raw, ok := j.Payload[PayloadScheduledFor]
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// PriorityRank maps a priority tier to its sort rank; lower dequeues first.
func PriorityRank(priority string) int {
	switch priority {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// ValidPriority reports whether the given tier is one the queue accepts.
func ValidPriority(priority string) bool {
	return priority == PriorityHigh || priority == PriorityMedium || priority == PriorityLow
}

// ValidJobType reports whether the given type has a registered queue.
func ValidJobType(jobType string) bool {
	return jobType == JobTypeSearch || jobType == JobTypeProfileFetch
}
