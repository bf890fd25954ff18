// Package capability probes whether the process may read the sources,
// write the bundle and bind the dev server address before any of that is
// attempted.
package capability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"syscall"

	"k8s.io/apimachinery/pkg/util/sets"
)

// Kind names a capability.
type Kind string

// Capabilities checked before the dev server starts.
const (
	Read  Kind = "read"
	Write Kind = "write"
	Net   Kind = "net"
)

// ErrPermissionDenied marks a capability the environment refused.
var ErrPermissionDenied = errors.New("permission denied")

// Request asks for one capability on one target: a path for Read and
// Write, a host:port for Net.
type Request struct {
	Kind   Kind
	Target string
}

func (r Request) String() string {
	return fmt.Sprintf("%s %s", r.Kind, r.Target)
}

// Result is the outcome of one check. Err is nil when Granted is true.
// A refusal wraps ErrPermissionDenied; any other failure is returned as is.
type Result struct {
	Request
	Granted bool
	Err     error
}

// Denied reports whether the check failed because access was refused.
func (r Result) Denied() bool {
	return !r.Granted && errors.Is(r.Err, ErrPermissionDenied)
}

// Checker performs capability checks.
type Checker interface {
	Check(ctx context.Context, req Request) Result
}

// CheckAll runs every request in order.
func CheckAll(ctx context.Context, c Checker, reqs ...Request) []Result {
	results := make([]Result, 0, len(reqs))
	for _, req := range reqs {
		results = append(results, c.Check(ctx, req))
	}

	return results
}

// OSChecker probes the real file system and network stack.
type OSChecker struct{}

// Check implements Checker.
func (OSChecker) Check(ctx context.Context, req Request) Result {
	if err := ctx.Err(); err != nil {
		return Result{Request: req, Err: err}
	}

	var err error

	switch req.Kind {
	case Read:
		err = probeRead(req.Target)
	case Write:
		err = probeWrite(req.Target)
	case Net:
		err = probeNet(ctx, req.Target)
	default:
		err = fmt.Errorf("unknown capability %q", req.Kind)
	}

	if err != nil {
		if isPermission(err) {
			err = fmt.Errorf("%w: %s: %w", ErrPermissionDenied, req, err)
		}

		return Result{Request: req, Err: err}
	}

	return Result{Request: req, Granted: true}
}

func isPermission(err error) bool {
	return errors.Is(err, fs.ErrPermission) || errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM)
}

func probeRead(target string) error {
	f, err := os.Open(target)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	if info.IsDir() {
		_, err = f.ReadDir(1)
		if errors.Is(err, io.EOF) {
			err = nil
		}

		return err
	}

	_, err = f.Read(make([]byte, 1))
	if errors.Is(err, io.EOF) {
		err = nil
	}

	return err
}

// probeWrite checks that target can be created or replaced. Missing parent
// directories are checked at the nearest existing ancestor.
func probeWrite(target string) error {
	if info, err := os.Stat(target); err == nil {
		if info.IsDir() {
			return fmt.Errorf("%s is a directory", target)
		}

		f, err := os.OpenFile(target, os.O_WRONLY, 0)
		if err != nil {
			return err
		}

		return f.Close()
	}

	dir := filepath.Dir(target)
	for {
		if _, err := os.Stat(dir); err == nil {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}

		dir = parent
	}

	f, err := os.CreateTemp(dir, ".usbundle-probe-*")
	if err != nil {
		return err
	}

	name := f.Name()
	f.Close() //nolint:errcheck,gosec // probe only

	return os.Remove(name)
}

func probeNet(ctx context.Context, addr string) error {
	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}

	return ln.Close()
}

// Static grants every capability except the denied kinds. It is used where
// the environment is known in advance, such as tests.
type Static struct {
	Deny sets.Set[Kind]
}

// Check implements Checker.
func (s Static) Check(_ context.Context, req Request) Result {
	if s.Deny.Has(req.Kind) {
		return Result{Request: req, Err: fmt.Errorf("%w: %s", ErrPermissionDenied, req)}
	}

	return Result{Request: req, Granted: true}
}
