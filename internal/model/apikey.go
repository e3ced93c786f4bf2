package model

import "time"

type APIKey struct {
	ID          string    `db:"id"`
	Owner       string    `db:"owner_address"`
	Name        string    `db:"name"`
	Key         string    `db:"api_key"`
	Kind        KeyKind   `db:"kind"`
	Active      bool      `db:"is_active"`
	TotalUsage  int64     `db:"total_usage"`
	DailyUsage  int       `db:"daily_usage"`
	LastResetAt time.Time `db:"last_reset_at"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// QuotaCounter is the daily usage state of one identity.
type QuotaCounter struct {
	Used        int
	Total       int64
	LastResetAt time.Time
}
