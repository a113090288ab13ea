package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/hybridrag"
	"github.com/brunobiangulo/hybridrag/eval"
)

// runCLI executes the root command against eng and returns stdout.
func runCLI(t *testing.T, eng hybridrag.Engine, args ...string) (string, error) {
	t.Helper()
	isolateEnv(t)
	color.NoColor = true

	cfgPath := filepath.Join(t.TempDir(), "hybridrag.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("log:\n  level: error\n"), 0o644))

	prev := openEngine
	openEngine = func(hybridrag.Config) (hybridrag.Engine, error) { return eng, nil }
	t.Cleanup(func() { openEngine = prev })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAskCommand(t *testing.T) {
	eng := newTestEngine()
	out, err := runCLI(t, eng, "ask", "Tell", "me", "about", "'KitKat'")
	require.NoError(t, err)

	assert.Equal(t, "Tell me about 'KitKat'", eng.lastQuestion)
	assert.Contains(t, out, "KitKat is a chocolate wafer bar.")
	assert.Contains(t, out, "Sources:\n  - https://example.com/kitkat")
	assert.Contains(t, out, `entity="KitKat"`)
}

func TestLoadGraphCommandClearsOnce(t *testing.T) {
	eng := newTestEngine()
	out, err := runCLI(t, eng, "load-graph", "--clear", "a.json")
	require.NoError(t, err)
	assert.True(t, eng.lastClear)
	assert.Contains(t, out, "a.json: 1 pages, 1 recipes, 3 ingredients, 0 categories, 3 edges")
}

func TestStatsCommand(t *testing.T) {
	out, err := runCLI(t, newTestEngine(), "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "pages:      2")
	assert.Contains(t, out, "nodes:      4")
	assert.Contains(t, out, "chat model: unavailable")
}

func TestEvalCommandWritesReport(t *testing.T) {
	dir := t.TempDir()
	dataset := filepath.Join(dir, "cases.json")
	require.NoError(t, os.WriteFile(dataset, []byte(`[
		{"question": "Tell me about 'KitKat'", "expected_entity": "KitKat", "expected_facts": ["wafer"]}
	]`), 0o644))
	reportPath := filepath.Join(dir, "report.json")

	out, err := runCLI(t, newTestEngine(), "eval", "--dataset", dataset, "--output", reportPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Evaluation Report: cases")
	assert.Contains(t, out, "1/1 passed")

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var report eval.Report
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, 1, report.Passed)
}

func TestPrintAnswerDegraded(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	printAnswer(&buf, &hybridrag.Answer{
		Text:           "Here's what I found about 'x':\n\nctx",
		Degraded:       true,
		FallbackReason: "model unavailable",
	})
	assert.Contains(t, buf.String(), "degraded answer (model unavailable)")
	assert.NotContains(t, buf.String(), "Sources:")
}
