package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponentLoggerWritesTaggedLines(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(logDirEnvVar, dir)
	t.Setenv(logLevelEnvVar, "info")

	categoryMu.Lock()
	delete(categoryLoggers, LogCategoryAgent)
	categoryMu.Unlock()

	logger := NewCategorizedLogger(LogCategoryAgent, "Engine").WithLogID("run-1")
	logger.Debug("hidden %d", 1)
	logger.Info("visible %d", 2)

	data, err := os.ReadFile(filepath.Join(dir, "relay-agent.log"))
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "[INFO] [AGENT] [Engine] [log_id=run-1]")
	assert.Contains(t, content, "logger_test.go")
	assert.Contains(t, content, "visible 2")
	assert.NotContains(t, content, "hidden")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, WARN, ParseLevel("Warning"))
	assert.Equal(t, ERROR, ParseLevel("error"))
	assert.Equal(t, DEBUG, ParseLevel(""))
}
