package config

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func lookupFrom(vals map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vals[k]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(lookupFrom(nil))
	require.NoError(t, err)
	require.Equal(t, Config{
		KeyEnv:           "CLAUDE_API_KEY",
		KeyPrefix:        "sk-ant-",
		Model:            "claude-3-haiku-20240307",
		DefaultMaxTokens: 1000,
		LogLevel:         slog.LevelInfo,
		LocalAddr:        ":3000",
	}, cfg)
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := Load(lookupFrom(map[string]string{
		"CLAUDE_API_KEY_ENV":   "MY_KEY",
		"CLAUDE_API_KEY_PARAM": " /chat-relay/key ",
		"CLAUDE_KEY_PREFIX":    "sk-",
		"CLAUDE_MODEL":         "claude-3-5-haiku-latest",
		"DEFAULT_MAX_TOKENS":   "256",
		"ANTHROPIC_BASE_URL":   "http://localhost:9999",
		"USAGE_TABLE":          "relay-usage",
		"LOG_LEVEL":            "debug",
		"LOCAL_ADDR":           ":8080",
	}))
	require.NoError(t, err)
	require.Equal(t, "MY_KEY", cfg.KeyEnv)
	require.Equal(t, "/chat-relay/key", cfg.KeyParam)
	require.Equal(t, "sk-", cfg.KeyPrefix)
	require.Equal(t, "claude-3-5-haiku-latest", cfg.Model)
	require.Equal(t, 256, cfg.DefaultMaxTokens)
	require.Equal(t, "http://localhost:9999", cfg.BaseURL)
	require.Equal(t, "relay-usage", cfg.UsageTable)
	require.Equal(t, slog.LevelDebug, cfg.LogLevel)
	require.Equal(t, ":8080", cfg.LocalAddr)
}

func TestLoad_PrefixCanBeDisabled(t *testing.T) {
	cfg, err := Load(lookupFrom(map[string]string{"CLAUDE_KEY_PREFIX": "NONE"}))
	require.NoError(t, err)
	require.Empty(t, cfg.KeyPrefix)
}

func TestLoad_BlankValuesUseDefaults(t *testing.T) {
	cfg, err := Load(lookupFrom(map[string]string{"CLAUDE_MODEL": "  ", "DEFAULT_MAX_TOKENS": ""}))
	require.NoError(t, err)
	require.Equal(t, "claude-3-haiku-20240307", cfg.Model)
	require.Equal(t, 1000, cfg.DefaultMaxTokens)
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"max tokens not a number": {"DEFAULT_MAX_TOKENS": "lots"},
		"max tokens zero":         {"DEFAULT_MAX_TOKENS": "0"},
		"bad log level":           {"LOG_LEVEL": "chatty"},
	}
	for name, vals := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(lookupFrom(vals))
			require.Error(t, err)
		})
	}
}
