// Package bundle produces userscript bundles and holds the one currently
// being served.
package bundle

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/disco0/usbundle/internal/metablock"
)

// OutputSuffix is appended to the entrypoint stem to name the bundle.
const OutputSuffix = ".bundle.user.js"

// sourceSuffixes are stripped from the entrypoint name, first match only.
var sourceSuffixes = []string{".user.ts", ".user.js", ".ts", ".js"}

// ErrEntrypointNotFound is returned when the entrypoint is missing or is
// not a regular file.
var ErrEntrypointNotFound = errors.New("entrypoint not found")

// BundleError wraps a failure reported by the bundler.
type BundleError struct {
	Entrypoint string
	Err        error
}

func (e *BundleError) Error() string {
	return fmt.Sprintf("bundling %s: %v", e.Entrypoint, e.Err)
}

func (e *BundleError) Unwrap() error { return e.Err }

// Artifact is the result of one successful rebuild. It is never modified
// after it has been returned.
type Artifact struct {
	// Bundle is the metadata header followed by the compiled script.
	Bundle string

	// Metadata holds the header entries in declaration order.
	Metadata metablock.Entries

	// OutputPath is the absolute path the bundle is written to.
	OutputPath string
}

// OutputName derives the bundle file name from an entrypoint path.
func OutputName(entrypoint string) string {
	base := filepath.Base(entrypoint)

	for _, suffix := range sourceSuffixes {
		if strings.HasSuffix(base, suffix) {
			return strings.TrimSuffix(base, suffix) + OutputSuffix
		}
	}

	return base + OutputSuffix
}

// State holds the artifact currently served. The zero value holds nothing.
type State struct {
	current atomic.Pointer[Artifact]
}

// Load returns the current artifact, or nil before the first rebuild.
func (s *State) Load() *Artifact {
	return s.current.Load()
}

// Swap publishes a and returns the artifact it replaced.
func (s *State) Swap(a *Artifact) *Artifact {
	return s.current.Swap(a)
}
