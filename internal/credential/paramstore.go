package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// ssmAPI is the minimal AWS SSM interface required by ParamStoreSource.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// tokenPayload is the optional JSON shape of the stored value.
type tokenPayload struct {
	Token string `json:"token"`
}

// ParamStoreSource reads the key from an SSM parameter. The first successful
// read is reused for the lifetime of the process; failures are retried on the
// next request.
type ParamStoreSource struct {
	api  ssmAPI
	name string

	mu     sync.Mutex
	cached string
}

func NewParamStoreSource(api ssmAPI, name string) (*ParamStoreSource, error) {
	if api == nil {
		return nil, errors.New("credential: ssm api must not be nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("credential: parameter name must not be empty")
	}
	return &ParamStoreSource{api: api, name: name}, nil
}

func (s *ParamStoreSource) APIKey(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != "" {
		return s.cached, nil
	}

	out, err := s.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(s.name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var notFound *types.ParameterNotFound
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("credential: parameter %q: %w", s.name, ErrNotConfigured)
		}
		return "", fmt.Errorf("credential: get parameter %q: %w", s.name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("credential: parameter %q has no value: %w", s.name, ErrNotConfigured)
	}

	key, err := decodeKey(*out.Parameter.Value)
	if err != nil {
		return "", fmt.Errorf("credential: parameter %q: %w", s.name, err)
	}
	if key == "" {
		return "", fmt.Errorf("credential: parameter %q is empty: %w", s.name, ErrNotConfigured)
	}
	s.cached = key
	return key, nil
}

func (s *ParamStoreSource) Location() string {
	return "SSM parameter " + s.name
}

// decodeKey accepts either the bare key or {"token":"..."}.
func decodeKey(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "{") {
		return raw, nil
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("unmarshal token value as JSON: %w", err)
	}
	return strings.TrimSpace(tp.Token), nil
}
