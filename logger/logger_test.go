package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/olegkotsar/dupesweep/config"
	"github.com/stretchr/testify/require"
)

func emitAll(l Logger) {
	l.Error("error message")
	l.Warn("warn message")
	l.Info("info message")
	l.Debug("debug message")
	l.Verbose("verbose message")
}

// jsonLines decodes every emitted JSON line
func jsonLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestNewLogger(t *testing.T) {
	cfg := &config.LoggerConfig{
		Level: config.LogLevelInfo,
	}
	logger := NewLogger(cfg)
	require.NotNil(t, logger)
}

func TestLogLevels(t *testing.T) {
	tests := []struct {
		level config.LogLevel
		want  []string
	}{
		{config.LogLevelSilent, nil},
		{config.LogLevelError, []string{"error message"}},
		{config.LogLevelInfo, []string{"error message", "warn message", "info message"}},
		{config.LogLevelDebug, []string{"error message", "warn message", "info message", "debug message"}},
		{config.LogLevelVerbose, []string{"error message", "warn message", "info message", "debug message", "verbose message"}},
	}

	all := []string{"error message", "warn message", "info message", "debug message", "verbose message"}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			var buf bytes.Buffer
			emitAll(NewLoggerWithWriter(&config.LoggerConfig{Level: tt.level}, &buf))

			output := buf.String()
			for _, msg := range all {
				if contains(tt.want, msg) {
					require.Contains(t, output, msg)
				} else {
					require.NotContains(t, output, msg)
				}
			}
		})
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestLogger_WithFormatting(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&config.LoggerConfig{Level: config.LogLevelInfo}, &buf)

	logger.Info("Deleting %d paths", 100)
	logger.Info("literal 100% done")

	output := buf.String()
	require.Contains(t, output, "Deleting 100 paths")
	require.Contains(t, output, "literal 100% done")
}

func TestLogger_WithAndWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&config.LoggerConfig{Level: config.LogLevelInfo, JSON: true}, &buf)

	logger.With("component", "deleter").With("batch", 3).Info("batch submitted")
	logger.WithFields(map[string]interface{}{
		"component": "catalog",
		"files":     42,
	}).Info("scan completed")

	lines := jsonLines(t, &buf)
	require.Len(t, lines, 2)

	require.Equal(t, "deleter", lines[0]["component"])
	require.EqualValues(t, 3, lines[0]["batch"])
	require.Equal(t, "batch submitted", lines[0]["msg"])

	require.Equal(t, "catalog", lines[1]["component"])
	require.EqualValues(t, 42, lines[1]["files"])
}

func TestLogger_LevelInOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&config.LoggerConfig{Level: config.LogLevelVerbose, JSON: true}, &buf)

	logger.Error("error msg")
	logger.Info("info msg")
	logger.Debug("debug msg")
	logger.Verbose("verbose msg")

	lines := jsonLines(t, &buf)
	require.Len(t, lines, 4)
	require.Equal(t, "error", lines[0]["level"])
	require.Equal(t, "info", lines[1]["level"])
	require.Equal(t, "debug", lines[2]["level"])
	require.Equal(t, "verbose", lines[3]["level"])
}

func TestLogger_Timestamp(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&config.LoggerConfig{
		Level:      config.LogLevelInfo,
		TimeFormat: "2006-01-02 15:04:05",
	}, &buf)

	logger.Info("test message")

	output := buf.String()
	require.Regexp(t, `\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}`, output)
	require.Contains(t, output, "test message")
}

func TestLogger_AddSource(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&config.LoggerConfig{Level: config.LogLevelInfo, AddSource: true, JSON: true}, &buf)

	logger.Info("with caller")

	lines := jsonLines(t, &buf)
	require.Len(t, lines, 1)
	require.Contains(t, lines[0]["caller"], "logger_test.go")
}

func TestNoOpLogger(t *testing.T) {
	logger := NewNoOpLogger()
	require.NotNil(t, logger)

	// Should not panic
	emitAll(logger)

	contextLogger := logger.With("key", "value")
	require.NotNil(t, contextLogger)
	contextLogger.Info("test")

	fieldsLogger := logger.WithFields(map[string]interface{}{"key": "value"})
	require.NotNil(t, fieldsLogger)
	fieldsLogger.Info("test")
}

func TestLoggerConfig_Defaults(t *testing.T) {
	cfg := &config.LoggerConfig{}
	cfg.ApplyDefaults()

	require.Equal(t, config.LogLevelInfo, cfg.Level)
	require.Equal(t, "2006-01-02 15:04:05", cfg.TimeFormat)
}

func TestLoggerConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LoggerConfig
		wantErr bool
	}{
		{"valid silent level", config.LoggerConfig{Level: config.LogLevelSilent}, false},
		{"valid error level", config.LoggerConfig{Level: config.LogLevelError}, false},
		{"valid verbose level", config.LoggerConfig{Level: config.LogLevelVerbose}, false},
		{"empty level (will use default)", config.LoggerConfig{Level: ""}, false},
		{"invalid level", config.LoggerConfig{Level: "invalid"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
