// Package platform answers questions about the host that change how paths
// are presented to a browser running outside the current environment.
package platform

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// Env probes the host lazily. Each probe runs at most once per Env.
type Env struct {
	goos     string
	readFile func(string) ([]byte, error)
	stat     func(string) (fs.FileInfo, error)
	command  func(ctx context.Context, name string, args ...string) ([]byte, error)

	isDocker func() bool
	isWSL    func() bool
}

// Option configures an Env.
type Option func(*Env)

// WithGOOS overrides runtime.GOOS.
func WithGOOS(goos string) Option {
	return func(e *Env) { e.goos = goos }
}

// WithReadFile overrides how probe files are read.
func WithReadFile(fn func(string) ([]byte, error)) Option {
	return func(e *Env) { e.readFile = fn }
}

// WithStat overrides how probe files are stat'ed.
func WithStat(fn func(string) (fs.FileInfo, error)) Option {
	return func(e *Env) { e.stat = fn }
}

// WithCommand overrides how external commands are run.
func WithCommand(fn func(ctx context.Context, name string, args ...string) ([]byte, error)) Option {
	return func(e *Env) { e.command = fn }
}

// NewEnv returns an Env probing the real host unless overridden.
func NewEnv(opts ...Option) *Env {
	e := &Env{
		goos:     runtime.GOOS,
		readFile: os.ReadFile,
		stat:     os.Stat,
		command:  runCommand,
	}

	for _, opt := range opts {
		opt(e)
	}

	e.isDocker = sync.OnceValue(e.detectDocker)
	e.isWSL = sync.OnceValue(e.detectWSL)

	return e
}

// IsDocker reports whether the process runs inside a Docker container.
func (e *Env) IsDocker() bool { return e.isDocker() }

// IsWSL reports whether the process runs under Windows Subsystem for
// Linux. A Docker container on a WSL kernel is not WSL.
func (e *Env) IsWSL() bool { return e.isWSL() }

func (e *Env) detectDocker() bool {
	if _, err := e.stat("/.dockerenv"); err == nil {
		return true
	}

	data, err := e.readFile("/proc/self/cgroup")
	if err != nil {
		return false
	}

	return strings.Contains(string(data), "docker")
}

func (e *Env) detectWSL() bool {
	if e.goos != "linux" {
		return false
	}

	data, err := e.readFile("/proc/version")
	if err != nil {
		return false
	}

	if !strings.Contains(strings.ToLower(string(data)), "microsoft") {
		return false
	}

	return !e.IsDocker()
}

// RealPath resolves symlinks in p and, under WSL, converts the result to a
// Windows path with wslpath.
func (e *Env) RealPath(ctx context.Context, p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", p, err)
	}

	abs, err = resolveSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", p, err)
	}

	if !e.IsWSL() {
		return abs, nil
	}

	out, err := e.command(ctx, "wslpath", "-w", abs)
	if err != nil {
		return "", fmt.Errorf("wslpath %s: %w", abs, err)
	}

	return strings.TrimSpace(string(out)), nil
}

// resolveSymlinks evaluates symlinks in p. A file that does not exist yet
// keeps its name; its directory is still resolved.
func resolveSymlinks(p string) (string, error) {
	resolved, err := filepath.EvalSymlinks(p)
	if err == nil {
		return resolved, nil
	}

	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	dir, err := filepath.EvalSymlinks(filepath.Dir(p))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return p, nil
		}

		return "", err
	}

	return filepath.Join(dir, filepath.Base(p)), nil
}

// FileURL returns the file:// URL a browser on the host uses to open p.
func (e *Env) FileURL(ctx context.Context, p string) (string, error) {
	resolved, err := e.RealPath(ctx, p)
	if err != nil {
		return "", err
	}

	return ToFileURL(resolved), nil
}

// ToFileURL converts an absolute POSIX or Windows path to a file:// URL.
func ToFileURL(p string) string {
	if len(p) >= 2 && p[1] == ':' {
		// C:\dir\file → file:///C:/dir/file
		p = "/" + strings.ReplaceAll(p, `\`, "/")
	} else if strings.HasPrefix(p, `\\`) {
		// \\host\share\file → file://host/share/file
		rest := strings.ReplaceAll(strings.TrimPrefix(p, `\\`), `\`, "/")
		host, share, _ := strings.Cut(rest, "/")

		return (&url.URL{Scheme: "file", Host: host, Path: "/" + share}).String()
	}

	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(p)}).String()
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stderr strings.Builder
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}

		return nil, err
	}

	return out, nil
}
