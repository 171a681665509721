package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DefaultsAndFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
credits:
  starting_balance: 42
  costs:
    retrieve: "11"
`)

	cfg, err := Load("test", path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, int64(42), cfg.Credits.StartingBalance)
	assert.Equal(t, 90*time.Second, cfg.Credits.CallTimeout)
	assert.Equal(t, "11", cfg.Credits.Costs["retrieve"])
	_, hasParse := cfg.Credits.Costs["parse"]
	assert.False(t, hasParse)
	assert.Equal(t, "gpt-4o-mini", cfg.Providers.OpenAI.Model)
	assert.Equal(t, 2*time.Second, cfg.QA.PollInterval)
}

func TestLoad_EnvOverridesCost(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8080\n")
	t.Setenv("APP_CREDITS_COSTS_PARSE", "not-a-number")
	t.Setenv("APP_PROVIDERS_RAGIE_API_KEY", "platform-ragie")

	cfg, err := Load("test", path)
	require.NoError(t, err)

	assert.Equal(t, "not-a-number", cfg.Credits.Costs["parse"])
	assert.Equal(t, "platform-ragie", cfg.Providers.Ragie.APIKey)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load("test", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
