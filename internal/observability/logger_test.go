package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ibeckermayer/claim4me/internal/config"
)

func TestInitialize(t *testing.T) {
	t.Run("console output is colorized and named", func(t *testing.T) {
		ResetForTest()
		defer ResetForTest()
		var buf bytes.Buffer

		Initialize(config.LoggerConfig{Level: "debug", Format: "console", ServiceName: "claim4me"}, zapcore.AddSync(&buf))
		GetLogger().Named("auth").Info("Auth stage.", zap.String("stage", "init"))
		Sync()

		out := buf.String()
		assert.Contains(t, out, levelColors[zapcore.InfoLevel]+"INFO"+colorReset)
		assert.Contains(t, out, "claim4me.auth.")
		assert.Contains(t, out, `"stage": "init"`)
	})

	t.Run("json output", func(t *testing.T) {
		ResetForTest()
		defer ResetForTest()
		var buf bytes.Buffer

		Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "claim4me"}, zapcore.AddSync(&buf))
		GetLogger().Warn("Coupon skipped.", zap.Int("index", 3))
		Sync()

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "claim4me", entry["logger"])
		assert.Equal(t, "Coupon skipped.", entry["msg"])
		assert.EqualValues(t, 3, entry["index"])
	})

	t.Run("level filters debug", func(t *testing.T) {
		ResetForTest()
		defer ResetForTest()
		var buf bytes.Buffer

		Initialize(config.LoggerConfig{Level: "info", Format: "json"}, zapcore.AddSync(&buf))
		GetLogger().Debug("hidden")
		assert.Empty(t, buf.String())
	})

	t.Run("only the first call takes effect", func(t *testing.T) {
		ResetForTest()
		defer ResetForTest()
		var first, second bytes.Buffer

		Initialize(config.LoggerConfig{Level: "info", Format: "json"}, zapcore.AddSync(&first))
		Initialize(config.LoggerConfig{Level: "info", Format: "json"}, zapcore.AddSync(&second))
		GetLogger().Info("once")
		assert.NotEmpty(t, first.String())
		assert.Empty(t, second.String())
	})

	t.Run("file output is json", func(t *testing.T) {
		ResetForTest()
		defer ResetForTest()
		path := filepath.Join(t.TempDir(), "claim4me.log")

		Initialize(config.LoggerConfig{Level: "debug", Format: "console", LogFile: path, MaxSize: 1}, zapcore.AddSync(&bytes.Buffer{}))
		GetLogger().Debug("to file", zap.String("site", "momo"))
		Sync()

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		line := strings.TrimSpace(string(data))
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		assert.Equal(t, "momo", entry["site"])
	})
}

func TestGetLoggerFallback(t *testing.T) {
	ResetForTest()
	logger := GetLogger()
	require.NotNil(t, logger)
	assert.Equal(t, "fallback", logger.Name())
}
