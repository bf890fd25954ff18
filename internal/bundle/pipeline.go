package bundle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/disco0/usbundle/internal/bundler"
	"github.com/disco0/usbundle/internal/importmap"
	"github.com/disco0/usbundle/internal/metablock"
	"github.com/disco0/usbundle/internal/output"
)

// Pipeline turns an entrypoint into an Artifact.
type Pipeline struct {
	// Bundler compiles the module graph.
	Bundler bundler.Bundler

	// OutputDir receives the bundle. Empty means the entrypoint's directory.
	OutputDir string

	// ModuleType defaults to bundler.ModuleClassic.
	ModuleType bundler.ModuleType

	// SkipWrite keeps the bundle in memory only.
	SkipWrite bool

	// Logger is used for warnings. Nil means slog.Default().
	Logger *slog.Logger
}

// OutputPath returns the absolute path the bundle for entrypoint is
// written to.
func (p *Pipeline) OutputPath(entrypoint string) (string, error) {
	dir := p.OutputDir
	if dir == "" {
		dir = filepath.Dir(entrypoint)
	}

	out, err := filepath.Abs(filepath.Join(dir, OutputName(entrypoint)))
	if err != nil {
		return "", fmt.Errorf("resolving output path: %w", err)
	}

	return out, nil
}

// Rebuild bundles entrypoint with its sibling metablock and import map and
// persists the result.
func (p *Pipeline) Rebuild(ctx context.Context, entrypoint string) (*Artifact, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	entry, err := filepath.Abs(entrypoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrEntrypointNotFound, entrypoint)
	}

	info, err := os.Stat(entry)
	if err != nil || !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrEntrypointNotFound, entrypoint)
	}

	outPath, err := p.OutputPath(entry)
	if err != nil {
		return nil, err
	}

	srcDir := filepath.Dir(entry)

	meta, err := loadMetadata(srcDir, logger)
	if err != nil {
		return nil, err
	}

	imports, err := importmap.Load(srcDir)
	if err != nil {
		if !importmap.IsParseError(err) {
			return nil, err
		}

		logger.Warn("ignoring import map", slog.String("error", err.Error()))

		imports = nil
	}

	b := p.Bundler
	if b == nil {
		b = bundler.NewESBuild(bundler.WithLogger(logger))
	}

	moduleType := p.ModuleType
	if moduleType == "" {
		moduleType = bundler.ModuleClassic
	}

	body, err := b.Bundle(ctx, bundler.Request{
		Entrypoint: entry,
		ModuleType: moduleType,
		ImportMap:  imports,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}

		return nil, &BundleError{Entrypoint: entrypoint, Err: err}
	}

	artifact := &Artifact{
		Bundle:     bundler.WithHeader(meta.String(), body),
		Metadata:   meta,
		OutputPath: outPath,
	}

	if !p.SkipWrite {
		w := output.NewFileWriter(outPath, output.WithLogger(logger))
		if err := w.Write([]byte(artifact.Bundle)); err != nil {
			return nil, err
		}
	}

	return artifact, nil
}

func loadMetadata(dir string, logger *slog.Logger) (metablock.Entries, error) {
	path, err := metablock.Find(dir)
	if err != nil {
		return nil, err
	}

	if path == "" {
		logger.Debug("no metablock file found, using defaults", slog.String("dir", dir))
		return metablock.Defaults(), nil
	}

	meta, err := metablock.Load(path)
	if err != nil {
		return nil, err
	}

	if err := meta.Validate(); err != nil {
		logger.Warn("metablock", slog.String("path", path), slog.String("error", err.Error()))
	}

	return meta, nil
}
