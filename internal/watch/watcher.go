package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// TriggerFunc is invoked for every admitted change. The watch loop waits
// for it to return before consuming the next event.
type TriggerFunc func(ctx context.Context, ev Event) error

// Baseline selects what the first admitted event is measured against.
type Baseline int

const (
	// BaselineStart measures the first event against the time the watch
	// started, so changes within one interval of startup are dropped.
	BaselineStart Baseline = iota

	// BaselineNone admits the first event unconditionally.
	BaselineNone
)

// DefaultInterval is the minimum time between two triggers.
const DefaultInterval = 800 * time.Millisecond

// DefaultIgnores are doublestar patterns, relative to the watch root, that
// never trigger and whose directories are never registered.
var DefaultIgnores = []string{
	"**/node_modules",
	"**/node_modules/**",
	"**/.git",
	"**/.git/**",
	"**/*.bundle.user.js",
	"**/.*.bundle.user.js.*",
}

// Options configures Watch.
type Options struct {
	// Root is the file or directory to watch.
	Root string

	// Recursive registers every non-hidden, non-ignored directory below
	// Root, including directories created while watching.
	Recursive bool

	// Filter narrows events to interesting paths.
	Filter Filter

	// Interval is the minimum time between two triggers.
	Interval time.Duration

	// Baseline selects the debounce policy for the first event.
	Baseline Baseline

	// Ignore holds doublestar patterns relative to Root. They are merged
	// with DefaultIgnores.
	Ignore []string

	// Logger is used for structured logging.
	Logger *slog.Logger

	// Now is the clock used for rate limiting. Nil means time.Now.
	Now func() time.Time
}

// DefaultOptions returns recursive watch options with the default interval.
func DefaultOptions() Options {
	return Options{
		Recursive: true,
		Interval:  DefaultInterval,
		Baseline:  BaselineStart,
		Logger:    slog.Default(),
	}
}

// Watch observes opts.Root and calls onTrigger for each admitted change
// until ctx is cancelled. It returns nil on cancellation. A trigger that is
// running when ctx is cancelled runs to completion: it receives a context
// that is not cancelled with ctx.
func Watch(ctx context.Context, opts Options, onTrigger TriggerFunc) error {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ignores := make([]string, 0, len(DefaultIgnores)+len(opts.Ignore))
	ignores = append(ignores, DefaultIgnores...)
	ignores = append(ignores, opts.Ignore...)

	for _, p := range ignores {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid ignore pattern %q", p)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return fmt.Errorf("resolving watch root %q: %w", opts.Root, err)
	}

	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("watching %s: %w", root, err)
	}

	if opts.Recursive && info.IsDir() {
		err = addRecursive(watcher, root, ignores)
	} else {
		err = watcher.Add(root)
	}

	if err != nil {
		return fmt.Errorf("watching %s: %w", root, err)
	}

	l := newLoop(opts, root, ignores, onTrigger)

	opts.Logger.Debug("watching for changes",
		slog.String("root", root),
		slog.Bool("recursive", opts.Recursive),
		slog.Duration("interval", opts.Interval),
	)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if opts.Recursive && event.Has(fsnotify.Create) {
				if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() &&
					!l.ignored(event.Name) {
					if addErr := addRecursive(watcher, event.Name, ignores); addErr != nil {
						opts.Logger.Warn("watching new directory",
							slog.String("path", event.Name),
							slog.String("error", addErr.Error()))
					}
				}
			}

			// Events queued while a trigger ran are still delivered in order
			// but stop flowing once ctx is done.
			if ctx.Err() != nil {
				return nil
			}

			l.handle(ctx, FromFSNotify(event))

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			opts.Logger.Error("watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

// loop holds the per-watch filtering and rate-limiting state.
type loop struct {
	root      string
	ignores   []string
	filter    Filter
	limiter   *Limiter
	onTrigger TriggerFunc
	logger    *slog.Logger
}

func newLoop(opts Options, root string, ignores []string, onTrigger TriggerFunc) *loop {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var baseline time.Time
	if opts.Baseline == BaselineStart {
		baseline = now()
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &loop{
		root:      root,
		ignores:   ignores,
		filter:    opts.Filter,
		limiter:   NewLimiter(opts.Interval, baseline, now),
		onTrigger: onTrigger,
		logger:    logger,
	}
}

// handle runs one event through kind check, ignore patterns, filter and
// limiter, in that order, and invokes the trigger when all pass. It reports
// whether the trigger ran.
func (l *loop) handle(ctx context.Context, ev Event) bool {
	if ev.Kind != KindModify {
		return false
	}

	paths := make([]string, 0, len(ev.Paths))
	for _, p := range ev.Paths {
		if !l.ignored(p) {
			paths = append(paths, p)
		}
	}

	if len(paths) == 0 || !l.filter.Accepts(paths) {
		return false
	}

	if !l.limiter.Allow() {
		l.logger.Debug("change debounced", slog.Any("paths", paths))
		return false
	}

	if err := l.onTrigger(context.WithoutCancel(ctx), Event{Kind: ev.Kind, Paths: paths}); err != nil {
		l.logger.Warn("change handler failed", slog.String("error", err.Error()))
	}

	return true
}

// ignored reports whether p, relative to the watch root, matches one of
// the ignore patterns.
func (l *loop) ignored(p string) bool {
	return matchesAny(l.ignores, l.root, p)
}

func matchesAny(patterns []string, root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = p
	}

	rel = filepath.ToSlash(rel)

	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}

	return false
}

// addRecursive walks root and adds all directories to the watcher, skipping
// hidden and ignored ones.
func addRecursive(watcher *fsnotify.Watcher, root string, ignores []string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		if path != root {
			if strings.HasPrefix(d.Name(), ".") || matchesAny(ignores, root, path) {
				return filepath.SkipDir
			}
		}

		return watcher.Add(path)
	})
}
