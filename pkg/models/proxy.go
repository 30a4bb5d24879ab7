package models

import (
	"time"

	"github.com/google/uuid"
)

// Proxy is a network egress point rotated across automation sessions.
type Proxy struct {
	ID         uuid.UUID  `db:"id"           json:"id"`
	Host       string     `db:"host"         json:"host"`
	Port       int        `db:"port"         json:"port"`
	Username   string     `db:"username"     json:"username"`
	Password   string     `db:"password"     json:"-"`
	Active     bool       `db:"active"       json:"active"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"   json:"updated_at"`
}
