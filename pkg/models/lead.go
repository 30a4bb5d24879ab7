package models

import (
	"time"

	"github.com/google/uuid"
)

// Lead is a single profile discovered by a campaign search, waiting to have
// its full profile fetched.
type Lead struct {
	ID          uuid.UUID  `db:"id"           json:"id"`
	CampaignID  uuid.UUID  `db:"campaign_id"  json:"campaign_id"`
	ProfileURL  string     `db:"profile_url"  json:"profile_url"`
	FullName    string     `db:"full_name"    json:"full_name"`
	Headline    string     `db:"headline"     json:"headline"`
	Location    string     `db:"location"     json:"location"`
	Processed   bool       `db:"processed"    json:"processed"`
	ProfileData []byte     `db:"profile_data" json:"profile_data,omitempty"`
	ProcessedAt *time.Time `db:"processed_at" json:"processed_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"   json:"updated_at"`
}
