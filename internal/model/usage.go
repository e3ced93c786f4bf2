package model

import "time"

type UsageStatus string

const (
	UsageSuccess UsageStatus = "success"
	UsageFailed  UsageStatus = "failed"
)

func (s UsageStatus) String() string { return string(s) }

func (s UsageStatus) Valid() bool { return s == UsageSuccess || s == UsageFailed }

// UsageRecord is the append-only audit row of one dispatch attempt.
type UsageRecord struct {
	ID               string      `db:"id" json:"id"`
	IdentityRef      string      `db:"identity_ref" json:"identity_ref"`
	IdentityKind     KeyKind     `db:"identity_kind" json:"identity_kind"`
	ProviderID       string      `db:"provider_id" json:"provider_id"`
	Model            string      `db:"model" json:"model"`
	Intent           Intent      `db:"intent" json:"intent"`
	PromptTokens     int         `db:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens int         `db:"completion_tokens" json:"completion_tokens"`
	TotalTokens      int         `db:"total_tokens" json:"total_tokens"`
	Cost             int         `db:"cost" json:"cost"`
	LatencyMs        int64       `db:"latency_ms" json:"latency_ms"`
	Status           UsageStatus `db:"status" json:"status"`
	ErrorReason      string      `db:"error_reason" json:"error_reason,omitempty"`
	CreatedAt        time.Time   `db:"created_at" json:"created_at"`
}

// UsageEvent is the payload published to Kafka for the analytics sink.
type UsageEvent struct {
	Version int         `json:"v"`
	Record  UsageRecord `json:"record"`
}
