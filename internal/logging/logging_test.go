package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewWritesJSONToFile(t *testing.T) {
	dir := t.TempDir()

	logger, cleanup, err := New(Options{Dir: dir, Level: "info", Production: true, Service: "sicet"})
	require.NoError(t, err)

	logger.Info("overdue run finished", zap.Int("sent", 2))
	logger.Debug("hidden")
	cleanup()

	content, err := os.ReadFile(filepath.Join(dir, "app.log"))
	require.NoError(t, err)
	text := string(content)
	assert.Contains(t, text, `"msg":"overdue run finished"`)
	assert.Contains(t, text, `"service_name":"sicet"`)
	assert.False(t, strings.Contains(text, "hidden"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
}
