// Package dev runs the development session: it serves the current bundle,
// rebuilds it whenever a watched source changes and shuts everything down
// when its context is cancelled.
package dev

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/disco0/usbundle/internal/bundle"
	"github.com/disco0/usbundle/internal/bundler"
	"github.com/disco0/usbundle/internal/capability"
	"github.com/disco0/usbundle/internal/config"
	"github.com/disco0/usbundle/internal/logging"
	"github.com/disco0/usbundle/internal/metablock"
	"github.com/disco0/usbundle/internal/platform"
	"github.com/disco0/usbundle/internal/server"
	"github.com/disco0/usbundle/internal/watch"
)

// DefaultShutdownTimeout bounds the graceful HTTP shutdown.
const DefaultShutdownTimeout = 5 * time.Second

// Options configures a dev session.
type Options struct {
	// Entrypoint is the script to bundle. Required.
	Entrypoint string

	// OutputDir receives the bundle. Empty means next to the entrypoint.
	OutputDir string

	// Endpoints is where the dev server listens.
	Endpoints server.Endpoints

	// Require selects the @require URL: config.RequireHTTP (the served
	// bundle) or config.RequireFile (the bundle file on disk).
	Require string

	// Filter, Debounce and Baseline configure change detection.
	Filter   watch.Filter
	Debounce time.Duration
	Baseline watch.Baseline

	// ShutdownTimeout bounds the graceful server shutdown.
	ShutdownTimeout time.Duration

	Bundler  bundler.Bundler
	Checker  capability.Checker
	Platform *platform.Env
	Logger   *slog.Logger
	Status   *logging.Status

	// Now measures rebuild durations. Nil means time.Now.
	Now func() time.Time

	// OnState observes lifecycle transitions.
	OnState func(State)
}

// Session is one dev run. Create it with New and start it with Run.
type Session struct {
	opts     Options
	entry    string
	pipeline *bundle.Pipeline
	bundles  bundle.State
	hub      *server.Hub
	state    atomic.Int32
}

// New validates opts and prepares a session.
func New(opts Options) (*Session, error) {
	if opts.Entrypoint == "" {
		return nil, errors.New("no entrypoint provided")
	}

	entry, err := filepath.Abs(opts.Entrypoint)
	if err != nil {
		return nil, fmt.Errorf("resolving entrypoint: %w", err)
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.Status == nil {
		opts.Status = logging.NewStatus(nil)
	}

	if opts.Bundler == nil {
		opts.Bundler = bundler.NewESBuild(bundler.WithLogger(opts.Logger))
	}

	if opts.Checker == nil {
		opts.Checker = capability.OSChecker{}
	}

	if opts.Platform == nil {
		opts.Platform = platform.NewEnv()
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}

	if opts.Require == "" {
		opts.Require = config.RequireHTTP
	}

	return &Session{
		opts:  opts,
		entry: entry,
		pipeline: &bundle.Pipeline{
			Bundler:   opts.Bundler,
			OutputDir: opts.OutputDir,
			Logger:    opts.Logger,
		},
		hub: server.NewHub(),
	}, nil
}

// Run creates a session and runs it until ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	s, err := New(opts)
	if err != nil {
		return err
	}

	return s.Run(ctx)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Bundles returns the artifact holder shared with the server.
func (s *Session) Bundles() *bundle.State {
	return &s.bundles
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))

	s.opts.Logger.Debug("dev session state", slog.String("state", st.String()))

	if s.opts.OnState != nil {
		s.opts.OnState(st)
	}
}

// plan records which parts of the session the environment allows.
type plan struct {
	watch bool
	serve bool
}

// Run serves and rebuilds until ctx is cancelled. The initial build must
// succeed; later failures are reported and the previous bundle keeps being
// served.
func (s *Session) Run(ctx context.Context) (err error) {
	s.setState(StateStarting)
	defer s.setState(StateStopped)

	p, err := s.checkCapabilities(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var srv *server.Server

	serveErr := make(chan error, 1)

	if p.serve {
		srv, err = s.newServer(runCtx)
		if err != nil {
			return err
		}

		if err := srv.Listen(runCtx); err != nil {
			return err
		}

		go func() { serveErr <- srv.Serve() }()

		defer func() {
			if shutdownErr := s.shutdown(ctx, srv); shutdownErr != nil && err == nil {
				err = shutdownErr
			}
		}()
	}

	if err := s.build(runCtx); err != nil {
		s.setState(StateShuttingDown)
		return err
	}

	if srv != nil {
		e := srv.Endpoints()
		s.opts.Status.Println(
			"Development userscript metablock at:", e.MetaURL(),
			"Development userscript bundle at:", e.BundleURL(),
			"",
		)
	}

	s.setState(StateServing)

	watchErr := make(chan error, 1)

	if p.watch {
		go func() {
			watchErr <- watch.Watch(runCtx, s.watchOptions(), s.onChange)
		}()

		s.opts.Status.Println("Watching for file changes…", "Use ctrl+c to stop.", "")
	}

	watchDone := false

	select {
	case <-ctx.Done():
	case err = <-serveErr:
	case err = <-watchErr:
		watchDone = true
	}

	cancel()

	// A rebuild in progress finishes before the session shuts down.
	if p.watch && !watchDone {
		if werr := <-watchErr; err == nil {
			err = werr
		}
	}

	s.setState(StateShuttingDown)

	return err
}

func (s *Session) checkCapabilities(ctx context.Context) (plan, error) {
	outPath, err := s.pipeline.OutputPath(s.entry)
	if err != nil {
		return plan{}, err
	}

	results := capability.CheckAll(ctx, s.opts.Checker,
		capability.Request{Kind: capability.Read, Target: s.entry},
		capability.Request{Kind: capability.Read, Target: filepath.Dir(s.entry)},
		capability.Request{Kind: capability.Write, Target: outPath},
		capability.Request{Kind: capability.Net, Target: s.opts.Endpoints.Addr()},
	)

	p := plan{watch: true, serve: true}

	for i, r := range results {
		if r.Granted {
			continue
		}

		switch i {
		case 0:
			if r.Denied() {
				return plan{}, fmt.Errorf("reading entrypoint: %w", r.Err)
			}

			return plan{}, fmt.Errorf("%w: %s", bundle.ErrEntrypointNotFound, s.opts.Entrypoint)
		case 1:
			s.opts.Logger.Warn("source directory is not readable, not watching for changes",
				slog.String("error", r.Err.Error()))

			p.watch = false
		case 2:
			if r.Denied() {
				s.opts.Logger.Warn("output path is not writable, bundle is only served",
					slog.String("path", outPath))

				s.pipeline.SkipWrite = true
			}
		case 3:
			if !r.Denied() {
				return plan{}, fmt.Errorf("binding %s: %w", s.opts.Endpoints.Addr(), r.Err)
			}

			s.opts.Logger.Warn("network access denied, not serving the bundle",
				slog.String("addr", s.opts.Endpoints.Addr()))

			p.serve = false
		}
	}

	return p, nil
}

func (s *Session) newServer(ctx context.Context) (*server.Server, error) {
	opts := []server.Option{
		server.WithLogger(s.opts.Logger),
		server.WithHub(s.hub),
	}

	// Without an explicit URL the server injects its own bundle URL, which
	// is only known once the port is bound.
	if s.opts.Require == config.RequireFile {
		outPath, err := s.pipeline.OutputPath(s.entry)
		if err != nil {
			return nil, err
		}

		fileURL, err := s.opts.Platform.FileURL(ctx, outPath)
		if err != nil {
			s.opts.Logger.Warn("falling back to the served bundle URL for @require",
				slog.String("error", err.Error()))
		} else {
			opts = append(opts, server.WithRequireURL(fileURL))
		}
	}

	return server.New(&s.bundles, s.opts.Endpoints, opts...), nil
}

func (s *Session) watchOptions() watch.Options {
	opts := watch.DefaultOptions()
	opts.Root = filepath.Dir(s.entry)
	opts.Filter = s.opts.Filter
	opts.Interval = s.opts.Debounce
	opts.Baseline = s.opts.Baseline
	opts.Logger = s.opts.Logger

	if s.opts.OutputDir != "" {
		if abs, err := filepath.Abs(s.opts.OutputDir); err == nil {
			if rel, err := filepath.Rel(opts.Root, abs); err == nil && filepath.IsLocal(rel) {
				opts.Ignore = append(opts.Ignore, filepath.ToSlash(rel), filepath.ToSlash(rel)+"/**")
			}
		}
	}

	return opts
}

// build runs the initial rebuild and publishes its artifact.
func (s *Session) build(ctx context.Context) error {
	start := s.opts.Now()

	a, err := s.pipeline.Rebuild(ctx, s.entry)
	if err != nil {
		return err
	}

	s.bundles.Swap(a)

	s.opts.Logger.Info("bundle built",
		slog.String("output", a.OutputPath),
		slog.Duration("duration", s.opts.Now().Sub(start)),
	)

	return nil
}

// onChange rebuilds after an accepted change. Failures are reported and
// never stop the watcher.
func (s *Session) onChange(ctx context.Context, ev watch.Event) error {
	s.setState(StateRebuilding)
	defer s.setState(StateServing)

	s.opts.Logger.Debug("change detected", slog.Any("paths", ev.Paths))
	s.opts.Status.Printf("Bundling…")

	start := s.opts.Now()
	a, err := s.pipeline.Rebuild(ctx, s.entry)
	elapsed := s.opts.Now().Sub(start)

	if err != nil {
		s.opts.Status.Failf("Update failed: %v", err)
		s.opts.Logger.Warn("rebuild failed", slog.String("error", err.Error()))
		s.hub.Publish(server.Event{Type: server.EventTypeRebuild, Error: err.Error(), DurationMS: elapsed.Milliseconds()})

		return nil
	}

	prev := s.bundles.Swap(a)

	s.opts.Status.Successf("Done (%dms)", elapsed.Milliseconds())
	s.hub.Publish(server.Event{Type: server.EventTypeRebuild, OK: true, DurationMS: elapsed.Milliseconds()})

	if prev != nil {
		s.reportMetadataChanges(prev.Metadata, a.Metadata)
	}

	return nil
}

func (s *Session) reportMetadataChanges(prev, curr metablock.Entries) {
	changes := metablock.Diff(prev, curr)
	if len(changes) == 0 {
		return
	}

	s.opts.Logger.Info("metadata changed", slog.String("summary", metablock.Summary(changes)))

	for _, c := range changes {
		s.opts.Logger.Debug("metadata change",
			slog.String("kind", c.Kind),
			slog.String("key", c.Key),
			slog.String("detail", c.Detail),
		)
	}

	if diff, err := metablock.UnifiedDiff(prev, curr); err == nil && diff != "" {
		s.opts.Logger.Debug("metadata diff", slog.String("diff", diff))
	}
}

func (s *Session) shutdown(ctx context.Context, srv *server.Server) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
