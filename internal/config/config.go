// Package config loads the relay settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"chat-relay/internal/usecase"
)

const (
	DefaultKeyEnv    = "CLAUDE_API_KEY"
	DefaultKeyPrefix = "sk-ant-"
	DefaultLocalAddr = ":3000"

	// noPrefix disables the key format check.
	noPrefix = "none"
)

type Config struct {
	// KeyEnv names the variable holding the key when KeyParam is empty.
	KeyEnv string
	// KeyParam is an SSM parameter name; when set it replaces KeyEnv.
	KeyParam         string
	KeyPrefix        string
	Model            string
	DefaultMaxTokens int
	BaseURL          string
	UsageTable       string
	LogLevel         slog.Level
	LocalAddr        string
}

// Load reads settings through lookup, normally os.LookupEnv.
func Load(lookup func(string) (string, bool)) (Config, error) {
	get := func(key, def string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}

	cfg := Config{
		KeyEnv:     get("CLAUDE_API_KEY_ENV", DefaultKeyEnv),
		KeyParam:   get("CLAUDE_API_KEY_PARAM", ""),
		KeyPrefix:  get("CLAUDE_KEY_PREFIX", DefaultKeyPrefix),
		Model:      get("CLAUDE_MODEL", usecase.DefaultModel),
		BaseURL:    get("ANTHROPIC_BASE_URL", ""),
		UsageTable: get("USAGE_TABLE", ""),
		LocalAddr:  get("LOCAL_ADDR", DefaultLocalAddr),
	}
	if strings.EqualFold(cfg.KeyPrefix, noPrefix) {
		cfg.KeyPrefix = ""
	}

	maxTokens, err := envInt(get("DEFAULT_MAX_TOKENS", ""), usecase.DefaultMaxTokens)
	if err != nil {
		return Config{}, fmt.Errorf("config: DEFAULT_MAX_TOKENS: %w", err)
	}
	cfg.DefaultMaxTokens = maxTokens

	if err := cfg.LogLevel.UnmarshalText([]byte(get("LOG_LEVEL", "info"))); err != nil {
		return Config{}, fmt.Errorf("config: LOG_LEVEL: %w", err)
	}
	return cfg, nil
}

// FromEnv is Load over the process environment.
func FromEnv() (Config, error) {
	return Load(os.LookupEnv)
}

func envInt(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("must be positive, got %d", n)
	}
	return n, nil
}
