// pkg/logger/logger_test.go
package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerConsoleOnly(t *testing.T) {
	l, err := NewLogger("", "INFO", false)
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Nil(t, l.logFile)

	// Запись без файла не должна паниковать
	l.Info("консольное сообщение")
	l.Close()
}

func TestNewLoggerWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "monitor.log")

	l, err := NewLogger(path, "INFO", false)
	require.NoError(t, err)
	defer l.Close()

	l.Info("тестовая запись")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "тестовая запись")
}

func TestShouldLogRespectsLevel(t *testing.T) {
	l, err := NewLogger("", "WARN", false)
	require.NoError(t, err)

	assert.False(t, l.shouldLog(LevelDebug))
	assert.False(t, l.shouldLog(LevelInfo))
	assert.True(t, l.shouldLog(LevelWarn))
	assert.True(t, l.shouldLog(LevelError))
}
