// Package bundler turns a TypeScript or JavaScript entrypoint into a single
// script. The default implementation drives esbuild through its Go API.
package bundler

import (
	"context"
	"fmt"
	"strings"

	"github.com/disco0/usbundle/internal/importmap"
)

// ModuleType selects the shape of the emitted script.
type ModuleType string

const (
	// ModuleClassic emits a self-invoking script with no top-level bindings,
	// the form userscript managers inject.
	ModuleClassic ModuleType = "classic"

	// ModuleESM emits an ES module.
	ModuleESM ModuleType = "module"
)

// Request describes one bundling run.
type Request struct {
	// Entrypoint is the absolute path of the root module.
	Entrypoint string

	// ModuleType defaults to ModuleClassic.
	ModuleType ModuleType

	// ImportMap rewrites bare specifiers. Nil disables rewriting.
	ImportMap *importmap.ImportMap
}

// Bundler compiles a module graph into one script body.
type Bundler interface {
	Bundle(ctx context.Context, req Request) (string, error)
}

// Func adapts a function to the Bundler interface.
type Func func(ctx context.Context, req Request) (string, error)

// Bundle calls f.
func (f Func) Bundle(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Message is a single diagnostic reported by the bundler.
type Message struct {
	Text   string
	File   string
	Line   int
	Column int
}

func (m Message) String() string {
	if m.File == "" {
		return m.Text
	}

	return fmt.Sprintf("%s:%d:%d: %s", m.File, m.Line, m.Column, m.Text)
}

// Error carries the diagnostics of a failed bundling run.
type Error struct {
	Messages []Message
}

func (e *Error) Error() string {
	switch len(e.Messages) {
	case 0:
		return "bundling failed"
	case 1:
		return e.Messages[0].String()
	}

	lines := make([]string, 0, len(e.Messages))
	for _, m := range e.Messages {
		lines = append(lines, m.String())
	}

	return fmt.Sprintf("%d errors:\n%s", len(e.Messages), strings.Join(lines, "\n"))
}

// WithHeader joins a metadata header and a bundle body with exactly one
// newline.
func WithHeader(header, body string) string {
	return header + "\n" + body
}
