package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	CampaignStatusQueued          = "queued"
	CampaignStatusRunning         = "running"
	CampaignStatusSearchCompleted = "search_completed"
	CampaignStatusCompleted       = "completed"
	CampaignStatusFailed          = "failed"
	CampaignStatusPaused          = "paused"
)

const (
	RecurrenceOnce    = "once"
	RecurrenceDaily   = "daily"
	RecurrenceWeekly  = "weekly"
	RecurrenceMonthly = "monthly"
)

// Campaign is one search/scrape effort against LinkedIn. It owns jobs in the
// queue and leads in the database; its status is advanced by the scheduler's
// reconciliation pass, never directly by a single job's outcome.
type Campaign struct {
	ID              uuid.UUID  `db:"id"                json:"id"`
	Name            string     `db:"name"              json:"name"`
	SearchQuery     string     `db:"search_query"      json:"search_query"`
	Status          string     `db:"status"            json:"status"`
	Priority        string     `db:"priority"          json:"priority"`
	AccountID       uuid.UUID  `db:"account_id"        json:"account_id"`
	ScheduledFor    *time.Time `db:"scheduled_for"     json:"scheduled_for,omitempty"`
	Recurrence      string     `db:"recurrence"        json:"recurrence"`
	ScheduleEndDate *time.Time `db:"schedule_end_date" json:"schedule_end_date,omitempty"`
	LeadsFound      int        `db:"leads_found"       json:"leads_found"`
	LeadsProcessed  int        `db:"leads_processed"   json:"leads_processed"`
	LastError       *string    `db:"last_error"        json:"last_error,omitempty"`
	CreatedAt       time.Time  `db:"created_at"        json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"        json:"updated_at"`
}
