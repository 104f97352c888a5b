package domain

import "time"

// UsageRecord is the per-request metadata kept in the usage ledger.
// It never carries message content or credential material.
type UsageRecord struct {
	RequestID    string
	Model        string
	MaxTokens    int
	MessageCount int
	InputTokens  int64
	OutputTokens int64
	Outcome      string
	LatencyMs    int64
	CreatedAt    time.Time
	TTL          int64
}

const (
	OutcomeSuccess       = "success"
	OutcomeUpstreamError = "upstream_error"
)
