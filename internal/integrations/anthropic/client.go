package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/tidwall/gjson"

	"chat-relay/internal/domain"
)

// UpstreamError captures any failure of a messages call. Message is the text
// the provider reported, or the transport error text when there was no reply.
type UpstreamError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("anthropic: upstream status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("anthropic: %s", e.Message)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func (e *UpstreamError) HTTPStatusCode() int {
	return e.StatusCode
}

func (e *UpstreamError) UpstreamMessage() string {
	return e.Message
}

// Client relays message requests to the Anthropic Messages API. It holds no
// credential; an SDK client is built per call from the key it is given.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) requestOptions(apiKey string) []option.RequestOption {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if c.baseURL != "" {
		opts = append(opts, option.WithBaseURL(c.baseURL))
	}
	if c.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(c.httpClient))
	}
	return opts
}

// CreateMessage sends req to the messages endpoint and returns the reply body
// exactly as the provider produced it.
func (c *Client) CreateMessage(ctx context.Context, apiKey string, req domain.CompletionRequest) (json.RawMessage, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key must not be empty")
	}
	if req.Model == "" {
		return nil, errors.New("anthropic: model must not be empty")
	}
	if len(req.Messages) == 0 {
		return nil, errors.New("anthropic: messages must not be empty")
	}

	client := anthropic.NewClient(c.requestOptions(apiKey)...)

	// messages goes into the body untouched instead of through MessageParam.
	msg, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
	}, option.WithJSONSet("messages", req.Messages))
	if err != nil {
		return nil, toUpstreamError(err)
	}

	raw := msg.RawJSON()
	if raw == "" {
		return nil, &UpstreamError{Message: "empty response from upstream"}
	}
	return json.RawMessage(raw), nil
}

func toUpstreamError(err error) *UpstreamError {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		msg := gjson.Get(apiErr.RawJSON(), "error.message").String()
		if msg == "" {
			msg = apiErr.Error()
		}
		return &UpstreamError{StatusCode: apiErr.StatusCode, Message: msg, Err: err}
	}
	return &UpstreamError{Message: err.Error(), Err: err}
}
