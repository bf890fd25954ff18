// Package metablock models the userscript metadata block: the ordered
// "// @key value" directives that userscript managers read from the top of
// a script.
package metablock

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Header delimiters.
const (
	OpenTag  = "// ==UserScript=="
	CloseTag = "// ==/UserScript=="
)

// Entry is one directive. An empty Value renders as a bare flag such as
// "@noframes".
type Entry struct {
	Key   string
	Value string
}

// Entries is an ordered directive list. Keys may repeat (@match, @require).
type Entries []Entry

// Defaults returns the directives used when no metablock file exists.
func Defaults() Entries {
	return Entries{
		{Key: "grant", Value: "none"},
		{Key: "match", Value: "https://*/*"},
		{Key: "name", Value: "Untitled userscript"},
		{Key: "namespace", Value: "none"},
		{Key: "noframes"},
		{Key: "run-at", Value: "document-idle"},
		{Key: "version", Value: "0.1.0"},
	}
}

// Get returns the value of the first entry with key.
func (e Entries) Get(key string) (string, bool) {
	for _, entry := range e {
		if entry.Key == key {
			return entry.Value, true
		}
	}

	return "", false
}

// Has reports whether an entry with exactly key and value exists.
func (e Entries) Has(key, value string) bool {
	for _, entry := range e {
		if entry.Key == key && entry.Value == value {
			return true
		}
	}

	return false
}

// WithRequire returns entries with a "@require url" directive appended
// unless one is already present. The receiver is never modified.
func (e Entries) WithRequire(url string) Entries {
	if e.Has("require", url) {
		return e
	}

	out := make(Entries, len(e), len(e)+1)
	copy(out, e)

	return append(out, Entry{Key: "require", Value: url})
}

// String renders the block without a trailing newline. Values are aligned
// one column of two spaces past the longest key that carries a value.
func (e Entries) String() string {
	width := 0
	for _, entry := range e {
		if entry.Value != "" {
			width = max(width, len(entry.Key))
		}
	}

	var b strings.Builder

	b.WriteString(OpenTag)
	b.WriteByte('\n')

	for _, entry := range e {
		b.WriteString("// @")
		b.WriteString(entry.Key)

		if entry.Value != "" {
			b.WriteString(strings.Repeat(" ", width-len(entry.Key)+2))
			b.WriteString(entry.Value)
		}

		b.WriteByte('\n')
	}

	b.WriteString(CloseTag)

	return b.String()
}

// Validate checks directives a userscript manager would reject or
// mis-handle: a missing @name and a @version that is not a version number.
func (e Entries) Validate() error {
	if name, ok := e.Get("name"); !ok || name == "" {
		return fmt.Errorf("metablock has no @name")
	}

	if v, ok := e.Get("version"); ok {
		if _, err := semver.NewVersion(v); err != nil {
			return fmt.Errorf("metablock @version %q: %w", v, err)
		}
	}

	return nil
}
