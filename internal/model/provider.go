package model

import "time"

type Provider struct {
	ID                  string     `db:"id"`
	Name                string     `db:"name"`
	Address             string     `db:"address"`
	Owner               string     `db:"owner_address"`
	Credential          string     `db:"credential"`
	Active              bool       `db:"is_active"`
	ConsecutiveFailures int        `db:"consecutive_failures"`
	LastFailureAt       *time.Time `db:"last_failure_at"`
	MarkedInactiveAt    *time.Time `db:"marked_inactive_at"`
	Points              int64      `db:"points"`
	AvgResponseMs       float64    `db:"avg_response_ms"`
	TotalRequests       int64      `db:"total_requests"`
	CreatedAt           time.Time  `db:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at"`
}

// Eligible reports whether the provider can be offered to the selection policy.
func (p Provider) Eligible() bool {
	return p.Active && p.Credential != ""
}

func (p Provider) State() string {
	if p.Active {
		return "active"
	}
	return "inactive"
}
