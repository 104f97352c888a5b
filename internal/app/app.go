// Package app wires the relay from configuration. Both binaries use it.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"chat-relay/handler"
	"chat-relay/internal/config"
	"chat-relay/internal/credential"
	"chat-relay/internal/integrations/anthropic"
	"chat-relay/internal/repository"
	"chat-relay/internal/usecase"
)

// NewLogger returns a JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, cfg config.Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: cfg.LogLevel}))
}

// New builds the handler. AWS config is loaded only when SSM or DynamoDB is
// configured, so an env-only setup needs no AWS credentials.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*handler.Handler, error) {
	var (
		awsCfg    aws.Config
		awsLoaded bool
	)
	loadAWS := func() (aws.Config, error) {
		if awsLoaded {
			return awsCfg, nil
		}
		c, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return aws.Config{}, fmt.Errorf("app: load AWS config: %w", err)
		}
		awsCfg, awsLoaded = c, true
		return awsCfg, nil
	}

	var creds credential.Source
	if cfg.KeyParam != "" {
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		src, err := credential.NewParamStoreSource(awsssm.NewFromConfig(c), cfg.KeyParam)
		if err != nil {
			return nil, fmt.Errorf("app: create SSM key source: %w", err)
		}
		creds = src
	} else {
		src, err := credential.NewEnvSource(cfg.KeyEnv)
		if err != nil {
			return nil, fmt.Errorf("app: create env key source: %w", err)
		}
		creds = src
	}

	opts := []usecase.Option{
		usecase.WithGuard(credential.Guard{Prefix: cfg.KeyPrefix}),
		usecase.WithModel(cfg.Model),
		usecase.WithDefaultMaxTokens(cfg.DefaultMaxTokens),
		usecase.WithLogger(logger),
	}
	if cfg.UsageTable != "" {
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		ledger, err := repository.New(awsdynamodb.NewFromConfig(c), cfg.UsageTable)
		if err != nil {
			return nil, fmt.Errorf("app: create usage ledger: %w", err)
		}
		opts = append(opts, usecase.WithUsageRecorder(ledger))
	}

	var clientOpts []anthropic.Option
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, anthropic.WithBaseURL(cfg.BaseURL))
	}

	svc, err := usecase.NewRelayService(creds, anthropic.NewClient(clientOpts...), opts...)
	if err != nil {
		return nil, fmt.Errorf("app: create relay service: %w", err)
	}
	return handler.NewHandler(svc, handler.WithLogger(logger))
}
