package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/disco0/usbundle/internal/config"
)

func TestSetupWithWriter_Levels(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.Config
		shown   []string
		dropped []string
	}{
		{
			name:  "debug shows everything",
			cfg:   config.Config{LogLevel: "debug", LogFormat: "text"},
			shown: []string{"debug-msg", "info-msg", "error-msg"},
		},
		{
			name:    "info hides debug",
			cfg:     config.Config{LogLevel: "info", LogFormat: "text"},
			shown:   []string{"info-msg", "error-msg"},
			dropped: []string{"debug-msg"},
		},
		{
			name:    "quiet keeps errors only",
			cfg:     config.Config{LogLevel: "debug", LogFormat: "text", Quiet: true},
			shown:   []string{"error-msg"},
			dropped: []string{"debug-msg", "info-msg"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer

			logger := SetupWithWriter(&tt.cfg, &buf)
			logger.Debug("debug-msg")
			logger.Info("info-msg")
			logger.Error("error-msg")

			for _, s := range tt.shown {
				assert.Contains(t, buf.String(), s)
			}

			for _, s := range tt.dropped {
				assert.NotContains(t, buf.String(), s)
			}
		})
	}
}

func TestSetupWithWriter_TextOmitsTime(t *testing.T) {
	var buf bytes.Buffer

	logger := SetupWithWriter(&config.Config{LogLevel: "info", LogFormat: "text"}, &buf)
	logger.Info("rebuild failed", slog.String("error", "boom"))

	assert.NotContains(t, buf.String(), "time=")
	assert.Contains(t, buf.String(), `msg="rebuild failed" error=boom`)
}

func TestSetupWithWriter_JSONKeepsTime(t *testing.T) {
	var buf bytes.Buffer

	logger := SetupWithWriter(&config.Config{LogLevel: "info", LogFormat: "json"}, &buf)
	logger.Info("test-msg")

	assert.Contains(t, buf.String(), `"msg":"test-msg"`)
	assert.Contains(t, buf.String(), `"time":`)
}

func TestSetup_SetsDefault(t *testing.T) {
	logger := Setup(&config.Config{LogLevel: "info", LogFormat: "text"})
	assert.Equal(t, logger.Handler(), slog.Default().Handler())
}

func TestSetupWithWriter_NilWriter(t *testing.T) {
	logger := SetupWithWriter(&config.Config{LogLevel: "info", LogFormat: "text"}, nil)
	require.NotNil(t, logger)
	logger.Info("discarded")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.input))
		})
	}
}

func TestContext(t *testing.T) {
	assert.Equal(t, slog.Default(), FromContext(context.Background()))

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	assert.Equal(t, logger, FromContext(NewContext(context.Background(), logger)))
}

// ---------------------------------------------------------------------------
// Status
// ---------------------------------------------------------------------------

var fixedClock = func() time.Time {
	return time.Date(2024, 3, 1, 9, 5, 7, 123_000_000, time.Local)
}

func TestStatus_Printf(t *testing.T) {
	var buf bytes.Buffer

	NewStatus(&buf).WithClock(fixedClock).Printf("Done (%dms)", 42)

	assert.Equal(t, "[09:05:07.123] Done (42ms)\n", buf.String())
}

func TestStatus_Println(t *testing.T) {
	var buf bytes.Buffer

	NewStatus(&buf).Println("first", "second")

	assert.Equal(t, "first\nsecond\n", buf.String())
}

func TestStatus_Color(t *testing.T) {
	var plain, colored bytes.Buffer

	NewStatus(&plain).WithClock(fixedClock).Failf("Update failed: %s", "boom")
	assert.Equal(t, "[09:05:07.123] Update failed: boom\n", plain.String())

	s := NewStatus(&colored).WithClock(fixedClock).WithColor(true)
	s.Successf("Done")
	s.Failf("Update failed")
	s.Printf("Bundling…")

	assert.Equal(t,
		"[09:05:07.123] \x1b[32mDone\x1b[0m\n"+
			"[09:05:07.123] \x1b[31mUpdate failed\x1b[0m\n"+
			"[09:05:07.123] Bundling…\n",
		colored.String())
}

func TestStatus_NilWriter(t *testing.T) {
	s := NewStatus(nil)
	assert.NotPanics(t, func() { s.Printf("ignored") })
}

func TestColorEnabled(t *testing.T) {
	assert.False(t, ColorEnabled(&bytes.Buffer{}, false), "buffers are not terminals")
	assert.False(t, ColorEnabled(os.Stderr, true), "--no-color wins")

	t.Setenv("NO_COLOR", "1")
	assert.False(t, ColorEnabled(os.Stderr, false))
}
