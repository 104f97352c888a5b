package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"chat-relay/internal/domain"
	"chat-relay/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	allowedMethods    = "GET, POST, OPTIONS"
)

// Relayer is the use case behind POST requests.
type Relayer interface {
	Relay(ctx context.Context, in usecase.RelayInput) (usecase.RelayOutput, error)
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Debug   string `json:"debug,omitempty"`
}

type infoResponse struct {
	Message string      `json:"message"`
	Usage   string      `json:"usage"`
	Example infoExample `json:"example"`
}

type infoExample struct {
	Messages []domain.ChatMessage `json:"messages"`
}

var readyInfo = infoResponse{
	Message: "Claude API is ready!",
	Usage:   "Send POST request with messages array",
	Example: infoExample{
		Messages: []domain.ChatMessage{{Role: "user", Content: "Hello Claude!"}},
	},
}

// Handler serves the chat relay endpoint for API Gateway proxy events and,
// through ServeHTTP, for plain net/http.
type Handler struct {
	relay  Relayer
	logger *slog.Logger
}

type Option func(*Handler)

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

func NewHandler(r Relayer, opts ...Option) (*Handler, error) {
	if r == nil {
		return nil, errors.New("handler: relayer must not be nil")
	}
	h := &Handler{relay: r, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handle never returns a non-nil error; every failure is a JSON response.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	start := time.Now()
	corrID := headerValue(req.Headers, correlationHeader)
	if corrID == "" {
		corrID = newCorrelationID()
	}
	method := strings.ToUpper(req.HTTPMethod)
	if method == "" {
		method = strings.ToUpper(req.RequestContext.HTTPMethod)
	}

	resp := h.dispatch(ctx, method, corrID, req)

	h.logger.InfoContext(ctx, "request",
		"method", method,
		"path", req.Path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
		"correlation_id", corrID,
	)
	return resp, nil
}

func (h *Handler) dispatch(ctx context.Context, method, corrID string, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	headers := baseHeaders(corrID)

	switch method {
	case http.MethodOptions:
		return events.APIGatewayProxyResponse{StatusCode: http.StatusOK, Headers: headers}
	case http.MethodGet:
		return jsonResponse(http.StatusOK, headers, readyInfo)
	case http.MethodPost:
		return h.relayPost(ctx, corrID, headers, req)
	default:
		headers["Allow"] = allowedMethods
		return jsonResponse(http.StatusMethodNotAllowed, headers, errorResponse{Error: "Method not allowed"})
	}
}

func (h *Handler) relayPost(ctx context.Context, corrID string, headers map[string]string, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			h.logger.InfoContext(ctx, "undecodable request body", "err", err, "correlation_id", corrID)
			return jsonResponse(http.StatusBadRequest, headers, errorResponse{Error: usecase.MsgMessagesRequired})
		}
		body = decoded
	}

	out, err := h.relay.Relay(ctx, usecase.RelayInput{Body: body, RequestID: corrID})
	if err != nil {
		status, payload := h.mapError(ctx, corrID, err)
		return jsonResponse(status, headers, payload)
	}

	headers["Content-Type"] = "application/json"
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers:    headers,
		Body:       string(out.Response),
	}
}

func (h *Handler) mapError(ctx context.Context, corrID string, err error) (int, errorResponse) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		h.logger.ErrorContext(ctx, "unexpected relay error", "err", err, "correlation_id", corrID)
		return http.StatusInternalServerError, errorResponse{Error: "Internal server error"}
	}

	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest, errorResponse{Error: ucErr.Message}
	case usecase.ErrorConfigMissing, usecase.ErrorConfigInvalid:
		h.logger.ErrorContext(ctx, "relay misconfigured", "reason", ucErr.Reason, "correlation_id", corrID)
		return http.StatusInternalServerError, errorResponse{Error: ucErr.Message, Debug: ucErr.Detail}
	case usecase.ErrorUpstream:
		return http.StatusInternalServerError, errorResponse{Error: ucErr.Message, Message: ucErr.Detail}
	default:
		h.logger.ErrorContext(ctx, "relay failed", "err", err, "correlation_id", corrID)
		msg := ucErr.Message
		if msg == "" {
			msg = "Internal server error"
		}
		return http.StatusInternalServerError, errorResponse{Error: msg}
	}
}

func baseHeaders(corrID string) map[string]string {
	return map[string]string{
		"Access-Control-Allow-Origin":  "*",
		"Access-Control-Allow-Methods": allowedMethods,
		"Access-Control-Allow-Headers": "Content-Type",
		correlationHeader:              corrID,
	}
}

func jsonResponse(status int, headers map[string]string, v any) events.APIGatewayProxyResponse {
	headers["Content-Type"] = "application/json"
	body, err := json.Marshal(v)
	if err != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Headers:    headers,
			Body:       `{"error":"Internal server error"}`,
		}
	}
	return events.APIGatewayProxyResponse{StatusCode: status, Headers: headers, Body: string(body)}
}

// headerValue looks a header up case-insensitively; API Gateway keeps the
// client's casing.
func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

var newCorrelationID = func() string {
	return uuid.NewString()
}
