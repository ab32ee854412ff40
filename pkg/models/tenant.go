package models

import (
	"time"
)

// Tenant is one agency account. DedupWindowSeconds bounds the window inside
// which two signals with the same fingerprint are treated as duplicates; zero
// means the deployment default applies.
type Tenant struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Domain             string    `json:"domain"`
	DedupWindowSeconds int       `json:"dedup_window_seconds,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}
