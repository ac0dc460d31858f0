package logging_test

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"convoengine/internal/logging"
)

func TestLoggerLevelFiltering(t *testing.T) {
	t.Run("messages below the minimum level are dropped", func(t *testing.T) {
		var buf bytes.Buffer
		logger := logging.New(&buf, logging.WARN)
		logger.Info("should not appear")
		logger.Warn("should appear")

		assert.Equal(t, 1, strings.Count(buf.String(), "\n"))
		assert.Contains(t, buf.String(), "should appear")
	})

	t.Run("key-value pairs are attached to the JSON line", func(t *testing.T) {
		var buf bytes.Buffer
		logger := logging.New(&buf, logging.INFO)
		logger.Error("tool failed", "chat_id", "abc123", "attempt", 2)

		var decoded map[string]any
		assert.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, "abc123", decoded["chat_id"])
		assert.Equal(t, float64(2), decoded["attempt"])
		assert.Equal(t, "tool failed", decoded["message"])
	})

	t.Run("DEBUG env var forces debug level regardless of the requested level", func(t *testing.T) {
		os.Setenv("DEBUG", "true")
		defer os.Unsetenv("DEBUG")

		var buf bytes.Buffer
		logger := logging.New(&buf, logging.ERROR)
		logger.Debug("visible because DEBUG=true")

		assert.Contains(t, buf.String(), "visible because DEBUG=true")
	})
}

func TestRecoverPanic(t *testing.T) {
	t.Run("recovers a panic and invokes the fallback", func(t *testing.T) {
		var buf bytes.Buffer
		logger := logging.New(&buf, logging.INFO)

		var fallbackCalled bool
		func() {
			defer logger.RecoverPanic("test", func() { fallbackCalled = true })
			panic("boom")
		}()

		assert.True(t, fallbackCalled)
		assert.Contains(t, buf.String(), "panic recovered")
	})
}
