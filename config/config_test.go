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
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `{}`))
	require.NoError(t, err)
	assert.Equal(t, ":10001", cfg.Server.Address)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.False(t, cfg.LLM.Enabled())
	assert.Equal(t, 3, cfg.Agents.MaxIterations)
	assert.Equal(t, 10*time.Second, cfg.Agents.ToolTimeout)
	assert.Equal(t, 5, cfg.Agents.SummaryLimit)
	assert.Equal(t, 10, cfg.Agents.SynthesisContextLimit)
	assert.Equal(t, 720*time.Hour, cfg.Storage.Redis.ConversationTTL)
	assert.Equal(t, 0.8, cfg.Memory.RecallThreshold)
	assert.Equal(t, 1200, cfg.Memory.PageChunkSize)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := writeConfig(t, `{
		"llm": {"provider": "anthropic", "model": "claude-x", "timeout": "15s"},
		"agents": {"max_iterations": 4},
		"storage": {"postgres": {"host": "db", "dbname": "lc", "user": "u", "password": "p"}}
	}`)
	t.Setenv("LIFECONTEXT_LLM_API_KEY", "sk-test")
	t.Setenv("LIFECONTEXT_SERVER_JWT_SECRET", "shh")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, 15*time.Second, cfg.LLM.Timeout)
	assert.True(t, cfg.LLM.Enabled())
	assert.Equal(t, "shh", cfg.Server.JWTSecret)
	assert.Equal(t, 4, cfg.Agents.MaxIterations)
	assert.Equal(t, "postgres://u:p@db:5432/lc?sslmode=disable", cfg.Storage.Postgres.DSN())
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `{"llm": {"provider": "cohere"}}`))
	assert.ErrorContains(t, err, "llm.provider")

	_, err = LoadConfig(writeConfig(t, `{"agents": {"max_iterations": 50}}`))
	assert.ErrorContains(t, err, "max_iterations")

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestPostgresURLWins(t *testing.T) {
	p := PostgresConfig{URL: "postgres://x/y", Host: "ignored"}
	assert.NoError(t, p.Validate())
	assert.Equal(t, "postgres://x/y", p.DSN())
	assert.Error(t, PostgresConfig{}.Validate())
}

func TestAgentsNormalize(t *testing.T) {
	a := AgentsConfig{MaxIterations: 2}.Normalize()
	assert.Equal(t, 2, a.MaxIterations)
	assert.Equal(t, 5, a.MaxCallsPerRound)
	assert.Equal(t, 4, a.WorkerPoolSize)
	assert.Equal(t, 5*time.Second, a.PersistTimeout)
}
