package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  host: 0.0.0.0\n"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.NotZero(t, cfg.Server.Port)
	assert.Equal(t, 20000, cfg.Session.MaxContextTokens)
	assert.InDelta(t, 0.4, cfg.Retrieval.KeywordWeight, 1e-9)
	assert.InDelta(t, 0.6, cfg.Retrieval.SemanticWeight, 1e-9)
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("NEFRO_TEST_PORT", "9090")
	t.Setenv("NEFRO_TEST_KEY", "sk-test")

	cfg, err := Load(writeConfig(t, `
server:
  port: ${NEFRO_TEST_PORT}
llm:
  api_key: ${NEFRO_TEST_KEY}
session:
  max_context_tokens: ${NEFRO_TEST_ABSENT:-15000}
`))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, 15000, cfg.Session.MaxContextTokens)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad port", "server:\n  port: 70000\n"},
		{"bad driver", "document_store:\n  driver: oracle\n"},
		{"remote without url", "remote_agents:\n  coach: {}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("NEFRO_SET", "value")
	os.Unsetenv("NEFRO_UNSET")

	tests := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{"${NEFRO_SET}", "value"},
		{"$NEFRO_SET", "value"},
		{"${NEFRO_UNSET:-fallback}", "fallback"},
		{"${NEFRO_SET:-fallback}", "value"},
		{"${NEFRO_UNSET}", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, expandEnvVars(tt.in), tt.in)
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
}
