package domain

import "encoding/json"

// ChatMessage is a single role/content pair as callers send it.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the payload forwarded to the upstream messages endpoint.
// Messages is relayed byte-for-byte.
type CompletionRequest struct {
	Model     string
	MaxTokens int
	Messages  json.RawMessage
}
