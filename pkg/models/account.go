package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	AccountStatusActive   = "active"
	AccountStatusDisabled = "disabled"
)

// Account is a LinkedIn identity used to drive automation sessions. Repeated
// authentication failures bump FailureCount; past a threshold the account is
// disabled and no longer handed out to jobs.
type Account struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	Email        string     `db:"email"         json:"email"`
	Password     string     `db:"password"      json:"-"`
	Status       string     `db:"status"        json:"status"`
	FailureCount int        `db:"failure_count" json:"failure_count"`
	LastUsedAt   *time.Time `db:"last_used_at"  json:"last_used_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updated_at"`
}
