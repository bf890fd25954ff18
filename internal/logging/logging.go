// Package logging builds the process logger from config, carries it through
// contexts, and prints the timestamped status lines of the dev loop.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/disco0/usbundle/internal/config"
)

type ctxKey struct{}

// Setup returns a logger for cfg writing to stderr and makes it the default.
func Setup(cfg *config.Config) *slog.Logger {
	return SetupWithWriter(cfg, os.Stderr)
}

// SetupWithWriter is Setup with an explicit destination. A nil w discards
// all records.
func SetupWithWriter(cfg *config.Config, w io.Writer) *slog.Logger {
	if w == nil {
		w = io.Discard
	}

	logger := slog.New(newHandler(cfg, w))
	slog.SetDefault(logger)

	return logger
}

func newHandler(cfg *config.Config, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.EffectiveLogLevel())}

	if cfg.LogFormat == config.LogFormatJSON {
		return slog.NewJSONHandler(w, opts)
	}

	// Status lines already carry a wall-clock stamp; text records drop the
	// handler's own time attribute so both line up on a terminal.
	opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) == 0 && a.Key == slog.TimeKey {
			return slog.Attr{}
		}

		return a
	}

	return slog.NewTextHandler(w, opts)
}

// ParseLevel maps a config log level to its slog.Level. Unknown values map
// to info.
func ParseLevel(level string) slog.Level {
	switch level {
	case config.LogLevelDebug:
		return slog.LevelDebug
	case config.LogLevelWarn:
		return slog.LevelWarn
	case config.LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewContext returns a child context carrying logger.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logger stored in ctx or slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}

	return slog.Default()
}

// PreciseTimeLayout formats wall-clock time as hh:mm:ss.sss.
const PreciseTimeLayout = "15:04:05.000"

const (
	ansiRed   = "\x1b[31m"
	ansiGreen = "\x1b[32m"
	ansiReset = "\x1b[0m"
)

// ColorEnabled reports whether status lines written to w may be colored:
// w must be a terminal, and neither noColor nor $NO_COLOR may be set.
func ColorEnabled(w io.Writer, noColor bool) bool {
	if noColor || os.Getenv("NO_COLOR") != "" {
		return false
	}

	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Status prints user-facing progress lines prefixed with a precise local
// timestamp. It is safe for concurrent use.
type Status struct {
	mu    sync.Mutex
	out   io.Writer
	now   func() time.Time
	color bool
}

// NewStatus returns a Status writing to w. A nil w discards output.
func NewStatus(w io.Writer) *Status {
	if w == nil {
		w = io.Discard
	}

	return &Status{out: w, now: time.Now}
}

// WithClock replaces the time source, for tests.
func (s *Status) WithClock(now func() time.Time) *Status {
	s.now = now
	return s
}

// WithColor toggles ANSI coloring of Successf and Failf lines.
func (s *Status) WithColor(on bool) *Status {
	s.color = on
	return s
}

// Printf writes one "[hh:mm:ss.sss] message" line.
func (s *Status) Printf(format string, args ...any) {
	s.stamped("", fmt.Sprintf(format, args...))
}

// Successf is Printf for a finished step, green on a color terminal.
func (s *Status) Successf(format string, args ...any) {
	s.stamped(ansiGreen, fmt.Sprintf(format, args...))
}

// Failf is Printf for a failed step, red on a color terminal.
func (s *Status) Failf(format string, args ...any) {
	s.stamped(ansiRed, fmt.Sprintf(format, args...))
}

func (s *Status) stamped(color, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.color && color != "" {
		msg = color + msg + ansiReset
	}

	_, _ = fmt.Fprintf(s.out, "[%s] %s\n", s.now().Format(PreciseTimeLayout), msg)
}

// Println writes lines verbatim without a timestamp.
func (s *Status) Println(lines ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range lines {
		_, _ = fmt.Fprintln(s.out, l)
	}
}
