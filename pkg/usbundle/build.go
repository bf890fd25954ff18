// Package usbundle provides a public Go API for bundling a userscript
// entrypoint into a single file with its metadata header.
//
// Basic usage:
//
//	result, err := usbundle.Build(ctx, "src/app.user.ts")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.OutputPath)
//
// With options:
//
//	result, err := usbundle.Build(ctx, "src/app.user.ts",
//	    usbundle.WithOutputDir("dist"),
//	    usbundle.WithoutWrite(),
//	)
package usbundle

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/disco0/usbundle/internal/bundle"
	"github.com/disco0/usbundle/internal/bundler"
)

// ErrEntrypointNotFound is returned when the entrypoint is missing or is
// not a regular file.
var ErrEntrypointNotFound = bundle.ErrEntrypointNotFound

// Module types accepted by WithModuleType.
const (
	ModuleClassic = string(bundler.ModuleClassic)
	ModuleESM     = string(bundler.ModuleESM)
)

// BundleFunc compiles the module graph rooted at entrypoint into one
// script body. It replaces the built-in esbuild bundler.
type BundleFunc func(ctx context.Context, entrypoint string) (string, error)

// Option configures Build.
// Use the With* functions to create Options.
type Option func(*options)

type options struct {
	outputDir  string
	moduleType string
	skipWrite  bool
	bundle     BundleFunc
	logger     *slog.Logger
}

// WithOutputDir writes the bundle to dir instead of next to the entrypoint.
func WithOutputDir(dir string) Option { return func(o *options) { o.outputDir = dir } }

// WithModuleType selects ModuleClassic (default) or ModuleESM output.
func WithModuleType(t string) Option { return func(o *options) { o.moduleType = t } }

// WithoutWrite keeps the bundle in memory only.
func WithoutWrite() Option { return func(o *options) { o.skipWrite = true } }

// WithBundler replaces the built-in bundler.
func WithBundler(fn BundleFunc) Option { return func(o *options) { o.bundle = fn } }

// WithLogger sets a logger for warnings. Output is discarded by default.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// Directive is one metadata header line, "// @Key Value". Flags have an
// empty Value.
type Directive struct {
	Key   string
	Value string
}

// Result holds the output of a successful build.
type Result struct {
	// Bundle is the metadata header followed by the compiled script.
	Bundle string

	// Header is the rendered metadata block.
	Header string

	// Metadata lists the header directives in declaration order.
	Metadata []Directive

	// OutputPath is the absolute path of the bundle file.
	OutputPath string
}

// Build bundles entrypoint with its sibling metablock and import map.
func Build(ctx context.Context, entrypoint string, opts ...Option) (*Result, error) {
	if entrypoint == "" {
		return nil, errors.New("entrypoint must not be empty")
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	p := &bundle.Pipeline{
		OutputDir:  o.outputDir,
		ModuleType: bundler.ModuleType(o.moduleType),
		SkipWrite:  o.skipWrite,
		Logger:     o.logger,
	}

	if o.bundle != nil {
		fn := o.bundle
		p.Bundler = bundler.Func(func(ctx context.Context, req bundler.Request) (string, error) {
			return fn(ctx, req.Entrypoint)
		})
	}

	a, err := p.Rebuild(ctx, entrypoint)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Bundle:     a.Bundle,
		Header:     a.Metadata.String(),
		Metadata:   make([]Directive, 0, len(a.Metadata)),
		OutputPath: a.OutputPath,
	}

	for _, e := range a.Metadata {
		res.Metadata = append(res.Metadata, Directive{Key: e.Key, Value: e.Value})
	}

	return res, nil
}
