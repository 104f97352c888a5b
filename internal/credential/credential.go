// Package credential resolves the upstream API key and checks its shape.
package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNotConfigured reports that no API key is available from the source.
var ErrNotConfigured = errors.New("credential: api key not configured")

// Source yields the API key for one request.
type Source interface {
	APIKey(ctx context.Context) (string, error)
	// Location names where the key is expected, for diagnostics.
	Location() string
}

// EnvSource reads the key from an environment variable on every call.
type EnvSource struct {
	name   string
	lookup func(string) (string, bool)
}

func NewEnvSource(name string) (*EnvSource, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("credential: env variable name must not be empty")
	}
	return &EnvSource{name: name, lookup: os.LookupEnv}, nil
}

func (s *EnvSource) APIKey(_ context.Context) (string, error) {
	v, ok := s.lookup(s.name)
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return "", fmt.Errorf("credential: %s: %w", s.name, ErrNotConfigured)
	}
	return v, nil
}

func (s *EnvSource) Location() string {
	return s.name + " environment variable"
}

// Guard checks the key format. A zero Guard accepts any non-empty key.
type Guard struct {
	Prefix string
}

// FormatError is returned by Guard.Check. Got holds the redacted key only.
type FormatError struct {
	Prefix string
	Got    string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("API key should start with %s, got: %s", e.Prefix, e.Got)
}

func (g Guard) Check(key string) error {
	if g.Prefix == "" || strings.HasPrefix(key, g.Prefix) {
		return nil
	}
	return &FormatError{Prefix: g.Prefix, Got: Redact(key)}
}

// Redact keeps at most four leading characters of key. Short keys reveal half.
func Redact(key string) string {
	show := 4
	if len(key) <= 2*show {
		show = len(key) / 2
	}
	return key[:show] + "..."
}
