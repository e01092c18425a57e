package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/config"
	"docqa/internal/domain"
	ragerr "docqa/internal/errors"
	"docqa/internal/service"
)

func writeTestConfig(t *testing.T, generatorURL string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Embedder.Dimension = 64
	cfg.Chunker.ChunkSize = 300
	cfg.Chunker.ChunkOverlap = 30
	cfg.VectorStore.Dir = filepath.Join(dir, "vectors")
	cfg.History.Path = filepath.Join(dir, "history.db")
	cfg.Server.UploadDir = filepath.Join(dir, "uploads")
	cfg.Generator.APIKeyEnv = "DOCQA_TEST_GENERATOR_KEY"
	cfg.Generator.BaseURL = generatorURL
	cfg.Generator.Model = "gpt-test"
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, config.Save(path, cfg))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func chatServer(t *testing.T, answer string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-test",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": %q}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 2, "total_tokens": 12}
		}`, answer)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRootCommand_Help(t *testing.T) {
	out, err := run(t, "--help")

	require.NoError(t, err)
	for _, sub := range []string{"ingest", "ask", "serve", "tui", "stats", "history"} {
		assert.Contains(t, out, sub)
	}
	assert.Contains(t, out, "--config")
	assert.Contains(t, out, "--verbose")
}

func TestIngestStatsAskHistory(t *testing.T) {
	t.Setenv("DOCQA_TEST_GENERATOR_KEY", "sk-test")
	cfgPath := writeTestConfig(t, chatServer(t, "Every month.").URL)
	docs := t.TempDir()
	doc := filepath.Join(docs, "coffee.txt")
	require.NoError(t, os.WriteFile(doc, []byte("The espresso machine needs descaling every month.\n\nUse filtered water."), 0o644))

	out, err := run(t, "--config", cfgPath, "ingest", filepath.Join(docs, "*.txt"))
	require.NoError(t, err)
	assert.Contains(t, out, "ingested coffee.txt (txt, 1 chunks)")

	out, err = run(t, "--config", cfgPath, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "hashed-64")
	assert.Regexp(t, `vectors\s+1`, out)

	out, err = run(t, "--config", cfgPath, "ask", "How", "often", "to", "descale?")
	require.NoError(t, err)
	assert.Contains(t, out, "Every month.")
	assert.Contains(t, out, "coffee.txt - Page 1")

	out, err = run(t, "--config", cfgPath, "history", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "How often to descale?")
}

func TestIngestWithTitle(t *testing.T) {
	cfgPath := writeTestConfig(t, "")
	doc := filepath.Join(t.TempDir(), "notes.md")
	require.NoError(t, os.WriteFile(doc, []byte("# Notes\n\nSome notes."), 0o644))

	out, err := run(t, "--config", cfgPath, "ingest", "--title", "Meeting Notes", doc)

	require.NoError(t, err)
	assert.Contains(t, out, "ingested Meeting Notes")
}

func TestIngestTitleRequiresSingleFile(t *testing.T) {
	cfgPath := writeTestConfig(t, "")

	_, err := run(t, "--config", cfgPath, "ingest", "--title", "x", "a.txt", "b.txt")

	assert.Equal(t, ragerr.CodeCLIInputInvalid, ragerr.CodeOf(err))
}

func TestIngestNothingSupported(t *testing.T) {
	cfgPath := writeTestConfig(t, "")

	_, err := run(t, "--config", cfgPath, "ingest", filepath.Join(t.TempDir(), "*.csv"))

	assert.Equal(t, ragerr.CodeIngestInputInvalid, ragerr.CodeOf(err))
}

func TestAskWithoutAPIKeyFails(t *testing.T) {
	t.Setenv("DOCQA_TEST_GENERATOR_KEY", "")
	cfgPath := writeTestConfig(t, "")

	_, err := run(t, "--config", cfgPath, "ask", "anything?")

	require.Error(t, err)
	assert.Contains(t, strings.ToLower(err.Error()), "api key not set")
}

func TestStatsWorksWithoutAPIKey(t *testing.T) {
	t.Setenv("DOCQA_TEST_GENERATOR_KEY", "")
	cfgPath := writeTestConfig(t, "")

	out, err := run(t, "--config", cfgPath, "stats")

	require.NoError(t, err)
	assert.Contains(t, out, "unavailable")
}

func TestHistoryEmpty(t *testing.T) {
	cfgPath := writeTestConfig(t, "")

	out, err := run(t, "--config", cfgPath, "history")

	require.NoError(t, err)
	assert.Contains(t, out, "no questions asked yet")
}

func TestMissingConfigFile(t *testing.T) {
	_, err := run(t, "--config", "/nonexistent/path.yaml", "stats")

	assert.Equal(t, ragerr.CodeConfigLoadReadFailure, ragerr.CodeOf(err))
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "a b c", oneLine("a\n b\t c", 10))
	assert.Equal(t, "abc...", oneLine("abcdef", 3))
}

func TestTUISummary(t *testing.T) {
	stats := service.Stats{Documents: 2, EmbeddingModel: "hashed-64", GenerationModel: "gpt-test"}
	stats.VectorStore.TotalVectors = 5

	got := tuiSummary(stats, []domain.DocumentRecord{{Title: "a.txt", Summary: "About A."}, {Title: "b.txt"}})

	assert.Equal(t, "2 documents, 5 passages, hashed-64 / gpt-test\na.txt: About A.", got)
}
