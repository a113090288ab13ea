package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/hybridrag"
)

// isolateEnv points the config search paths at empty directories and
// blanks the variables loadConfig reads. Viper treats empty variables
// as unset.
func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	for _, k := range []string{
		"HYBRIDRAG_TOP_K", "HYBRIDRAG_CHAT_API_KEY", "HYBRIDRAG_NEO4J_URI",
		"NEO4J_URI", "NEO4J_USER", "NEO4J_PASSWORD",
		"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GOOGLE_API_KEY",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	isolateEnv(t)

	cfg, err := loadConfig("")
	require.NoError(t, err)

	d := hybridrag.DefaultConfig()
	assert.Equal(t, d.TopK, cfg.TopK)
	assert.Equal(t, d.Chat, cfg.Chat)
	assert.Equal(t, d.Embedding, cfg.Embedding)
	assert.Equal(t, d.AnswerTimeout, cfg.AnswerTimeout)
	assert.Equal(t, d.ChunkSize, cfg.ChunkSize)
	assert.True(t, cfg.LogQueries)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	isolateEnv(t)

	path := filepath.Join(t.TempDir(), "hybridrag.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
top_k: 3
max_connected: 8
answer_timeout: 10s
graph_backend: neo4j
chat:
  provider: anthropic
  model: claude-test
neo4j:
  uri: bolt://file:7687
server:
  addr: ":9090"
log:
  level: debug
  format: text
`), 0o644))

	t.Setenv("HYBRIDRAG_TOP_K", "9")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-from-env-0123456789")
	t.Setenv("NEO4J_URI", "bolt://env:7687")
	t.Setenv("NEO4J_USER", "neo")

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.TopK, "environment beats the file")
	assert.Equal(t, 8, cfg.MaxConnected)
	assert.Equal(t, 10*time.Second, cfg.AnswerTimeout)
	assert.Equal(t, hybridrag.BackendNeo4j, cfg.GraphBackend)
	assert.Equal(t, "anthropic", cfg.Chat.Provider)
	assert.Equal(t, "claude-test", cfg.Chat.Model)
	assert.Equal(t, "sk-ant-from-env-0123456789", cfg.Chat.APIKey)
	assert.Equal(t, "bolt://file:7687", cfg.Neo4j.URI, "legacy names only fill empty settings")
	assert.Equal(t, "neo", cfg.Neo4j.User)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadConfigDotEnv(t *testing.T) {
	isolateEnv(t)
	require.NoError(t, os.WriteFile(".env", []byte("HYBRIDRAG_MAX_DIRECT_MATCHES=2\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("HYBRIDRAG_MAX_DIRECT_MATCHES") })

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.MaxDirectMatches)
}

func TestLoadConfigMissingFile(t *testing.T) {
	isolateEnv(t)
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyLegacyEnv(t *testing.T) {
	isolateEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("GOOGLE_API_KEY", "google-key")

	cfg := hybridrag.Config{
		Chat:      hybridrag.LLMConfig{Provider: "openai"},
		Embedding: hybridrag.LLMConfig{Provider: "gemini", APIKey: "explicit"},
	}
	applyLegacyEnv(&cfg)
	assert.Equal(t, "sk-openai", cfg.Chat.APIKey)
	assert.Equal(t, "explicit", cfg.Embedding.APIKey)

	cfg = hybridrag.Config{Chat: hybridrag.LLMConfig{Provider: "ollama"}}
	applyLegacyEnv(&cfg)
	assert.Empty(t, cfg.Chat.APIKey)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn, err := newLogger(logConfig{Level: "debug", Format: "text"}, &buf)
	require.NoError(t, err)
	logger.Debug("hello", "k", "v")
	assert.Contains(t, buf.String(), "msg=hello k=v")
	assert.NoError(t, closeFn())

	buf.Reset()
	logger, _, err = newLogger(logConfig{Level: "warn"}, &buf)
	require.NoError(t, err)
	logger.Info("dropped")
	logger.Warn("kept")
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), `"msg":"kept"`)

	_, _, err = newLogger(logConfig{Level: "loud"}, &buf)
	assert.Error(t, err)
	_, _, err = newLogger(logConfig{Level: "info", Format: "xml"}, &buf)
	assert.Error(t, err)
}

func TestNewLoggerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "hybridrag.log")
	var buf bytes.Buffer
	logger, closeFn, err := newLogger(logConfig{Level: "info", File: path, MaxSize: 1}, &buf)
	require.NoError(t, err)

	logger.Info("to both")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to both")
	assert.Contains(t, buf.String(), "to both")
}
