package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"chat-relay/internal/credential"
	"chat-relay/internal/domain"
)

const (
	DefaultModel     = "claude-3-haiku-20240307"
	DefaultMaxTokens = 1000
)

// Caller-facing error texts.
const (
	MsgMessagesRequired = "Messages array is required"
	MsgMaxTokensInvalid = "max_tokens must be a positive integer"
	MsgKeyMissing       = "API key not configured"
	MsgKeyInvalid       = "Invalid API key format"
	MsgKeyLoadFailed    = "Failed to load API key"
	MsgUpstream         = "Claude API error"
)

type Upstream interface {
	CreateMessage(ctx context.Context, apiKey string, req domain.CompletionRequest) (json.RawMessage, error)
}

type UsageRecorder interface {
	RecordUsage(ctx context.Context, rec domain.UsageRecord) error
}

type upstreamMessager interface {
	UpstreamMessage() string
}

// RelayService forwards one chat request upstream per call. It keeps no state
// between calls.
type RelayService struct {
	creds     credential.Source
	guard     credential.Guard
	upstream  Upstream
	usage     UsageRecorder
	model     string
	maxTokens int
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*RelayService)

// WithGuard enables the key format check.
func WithGuard(g credential.Guard) Option {
	return func(s *RelayService) { s.guard = g }
}

// WithUsageRecorder enables the usage ledger. A nil recorder leaves it off.
func WithUsageRecorder(r UsageRecorder) Option {
	return func(s *RelayService) { s.usage = r }
}

func WithModel(model string) Option {
	return func(s *RelayService) {
		if m := strings.TrimSpace(model); m != "" {
			s.model = m
		}
	}
}

func WithDefaultMaxTokens(n int) Option {
	return func(s *RelayService) {
		if n > 0 {
			s.maxTokens = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *RelayService) {
		if l != nil {
			s.logger = l
		}
	}
}

type RelayInput struct {
	Body      []byte
	RequestID string
}

type RelayOutput struct {
	Response json.RawMessage
}

func NewRelayService(creds credential.Source, upstream Upstream, opts ...Option) (*RelayService, error) {
	if creds == nil {
		return nil, errors.New("usecase: credential source must not be nil")
	}
	if upstream == nil {
		return nil, errors.New("usecase: upstream client must not be nil")
	}
	s := &RelayService{
		creds:     creds,
		upstream:  upstream,
		model:     DefaultModel,
		maxTokens: DefaultMaxTokens,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *RelayService) Relay(ctx context.Context, in RelayInput) (RelayOutput, error) {
	apiKey, err := s.creds.APIKey(ctx)
	if err != nil {
		if errors.Is(err, credential.ErrNotConfigured) {
			return RelayOutput{}, newError(ErrorConfigMissing, "api_key_missing", MsgKeyMissing, s.creds.Location()+" is missing", err)
		}
		return RelayOutput{}, newError(ErrorInternal, "api_key_load_error", MsgKeyLoadFailed, "", err)
	}
	if err := s.guard.Check(apiKey); err != nil {
		return RelayOutput{}, newError(ErrorConfigInvalid, "api_key_format", MsgKeyInvalid, err.Error(), nil)
	}

	req, count, err := s.parseRequest(in.Body)
	if err != nil {
		return RelayOutput{}, err
	}

	start := s.now()
	resp, err := s.upstream.CreateMessage(ctx, apiKey, req)
	latency := s.now().Sub(start)
	if err != nil {
		s.logger.ErrorContext(ctx, "claude api error", "err", err, "correlation_id", in.RequestID)
		s.recordUsage(ctx, in.RequestID, req, count, nil, domain.OutcomeUpstreamError, latency)
		return RelayOutput{}, newError(ErrorUpstream, "upstream_error", MsgUpstream, upstreamMessage(err), err)
	}

	s.recordUsage(ctx, in.RequestID, req, count, resp, domain.OutcomeSuccess, latency)
	return RelayOutput{Response: resp}, nil
}

type relayBody struct {
	Messages  json.RawMessage `json:"messages"`
	MaxTokens json.RawMessage `json:"max_tokens"`
}

func (s *RelayService) parseRequest(body []byte) (domain.CompletionRequest, int, error) {
	var b relayBody
	if err := json.Unmarshal(body, &b); err != nil {
		return domain.CompletionRequest{}, 0, newError(ErrorInvalidInput, "invalid_body", MsgMessagesRequired, "", err)
	}

	var items []json.RawMessage
	if !isJSONArray(b.Messages) {
		return domain.CompletionRequest{}, 0, newError(ErrorInvalidInput, "messages_missing", MsgMessagesRequired, "", nil)
	}
	if err := json.Unmarshal(b.Messages, &items); err != nil {
		return domain.CompletionRequest{}, 0, newError(ErrorInvalidInput, "messages_malformed", MsgMessagesRequired, "", err)
	}

	maxTokens := s.maxTokens
	if len(b.MaxTokens) > 0 && !isJSONNull(b.MaxTokens) {
		n, ok := positiveInt(b.MaxTokens)
		if !ok {
			return domain.CompletionRequest{}, 0, newError(ErrorInvalidInput, "max_tokens_invalid", MsgMaxTokensInvalid, "", nil)
		}
		maxTokens = n
	}

	return domain.CompletionRequest{
		Model:     s.model,
		MaxTokens: maxTokens,
		Messages:  b.Messages,
	}, len(items), nil
}

func (s *RelayService) recordUsage(ctx context.Context, requestID string, req domain.CompletionRequest, count int, resp json.RawMessage, outcome string, latency time.Duration) {
	if s.usage == nil {
		return
	}
	rec := domain.UsageRecord{
		RequestID:    requestID,
		Model:        req.Model,
		MaxTokens:    req.MaxTokens,
		MessageCount: count,
		InputTokens:  gjson.GetBytes(resp, "usage.input_tokens").Int(),
		OutputTokens: gjson.GetBytes(resp, "usage.output_tokens").Int(),
		Outcome:      outcome,
		LatencyMs:    latency.Milliseconds(),
	}
	if err := s.usage.RecordUsage(ctx, rec); err != nil {
		s.logger.WarnContext(ctx, "failed to record usage", "err", err, "correlation_id", requestID)
	}
}

func upstreamMessage(err error) string {
	var m upstreamMessager
	if errors.As(err, &m) {
		return m.UpstreamMessage()
	}
	return err.Error()
}

func isJSONArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

func isJSONNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// positiveInt accepts JSON numbers with no fractional part in [1, MaxInt32].
func positiveInt(raw json.RawMessage) (int, bool) {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	if f < 1 || f > math.MaxInt32 || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}
