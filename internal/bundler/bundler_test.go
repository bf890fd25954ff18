package bundler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/disco0/usbundle/internal/importmap"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	p := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))

	return p
}

func TestWithHeader(t *testing.T) {
	assert.Equal(t, "// ==UserScript==\n// ==/UserScript==\n(() => {})();\n",
		WithHeader("// ==UserScript==\n// ==/UserScript==", "(() => {})();\n"))
}

func TestError_Message(t *testing.T) {
	assert.Equal(t, "bundling failed", (&Error{}).Error())

	one := &Error{Messages: []Message{{Text: "boom", File: "a.ts", Line: 3, Column: 7}}}
	assert.Equal(t, "a.ts:3:7: boom", one.Error())

	two := &Error{Messages: []Message{{Text: "first"}, {Text: "second"}}}
	assert.Equal(t, "2 errors:\nfirst\nsecond", two.Error())
}

func TestFunc(t *testing.T) {
	var b Bundler = Func(func(_ context.Context, req Request) (string, error) {
		return "body:" + req.Entrypoint, nil
	})

	out, err := b.Bundle(context.Background(), Request{Entrypoint: "x.ts"})
	require.NoError(t, err)
	assert.Equal(t, "body:x.ts", out)
}

func TestESBuild_ClassicTypeScript(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "lib/greeting.ts", `export const greeting: string = "hello-from-lib";`)
	entry := writeFile(t, dir, "app.user.ts", `import { greeting } from "./lib/greeting.ts";
const el: HTMLElement = document.body;
el.dataset.greeting = greeting;
`)

	out, err := NewESBuild(WithLogger(quietLogger())).Bundle(context.Background(), Request{
		Entrypoint: entry,
		ModuleType: ModuleClassic,
	})
	require.NoError(t, err)

	assert.Contains(t, out, "(() => {")
	assert.Contains(t, out, `"hello-from-lib"`)
	assert.NotContains(t, out, ": HTMLElement")
	assert.NotContains(t, out, "import ")
}

func TestESBuild_ModuleFormat(t *testing.T) {
	dir := t.TempDir()
	entry := writeFile(t, dir, "mod.ts", `export const answer = 42;`)

	out, err := NewESBuild(WithLogger(quietLogger())).Bundle(context.Background(), Request{
		Entrypoint: entry,
		ModuleType: ModuleESM,
	})
	require.NoError(t, err)
	assert.Contains(t, out, "export")
}

func TestESBuild_UnsupportedModuleType(t *testing.T) {
	_, err := NewESBuild().Bundle(context.Background(), Request{Entrypoint: "x.ts", ModuleType: "amd"})
	assert.ErrorContains(t, err, "unsupported module type")
}

func TestESBuild_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewESBuild().Bundle(ctx, Request{Entrypoint: "x.ts"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestESBuild_SyntaxError(t *testing.T) {
	dir := t.TempDir()
	entry := writeFile(t, dir, "broken.ts", "const = ;\n")

	_, err := NewESBuild(WithLogger(quietLogger())).Bundle(context.Background(), Request{Entrypoint: entry})
	require.Error(t, err)

	var bundleErr *Error
	require.True(t, errors.As(err, &bundleErr))
	require.NotEmpty(t, bundleErr.Messages)
	assert.Contains(t, bundleErr.Messages[0].File, "broken.ts")
	assert.Equal(t, 1, bundleErr.Messages[0].Line)
}

func TestESBuild_ImportMapPrefix(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "vendor/dom.ts", `export const marker = "mapped-dom-module";`)
	entry := writeFile(t, dir, "main.ts", `import { marker } from "@lib/dom.ts";
console.log(marker);
`)

	m := &importmap.ImportMap{BaseDir: dir, Imports: map[string]string{"@lib/": "./vendor/"}}

	out, err := NewESBuild(WithLogger(quietLogger())).Bundle(context.Background(), Request{
		Entrypoint: entry,
		ImportMap:  m,
	})
	require.NoError(t, err)
	assert.Contains(t, out, `"mapped-dom-module"`)
}

func TestESBuild_ImportMapRemote(t *testing.T) {
	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)

		switch r.URL.Path {
		case "/greet.js":
			_, _ = io.WriteString(w, `import { suffix } from "./suffix.js"; export const greet = "remote-greet" + suffix;`)
		case "/suffix.js":
			_, _ = io.WriteString(w, `export const suffix = "-remote-suffix";`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	entry := writeFile(t, dir, "main.ts", `import { greet } from "greet";
console.log(greet);
`)

	m := &importmap.ImportMap{BaseDir: dir, Imports: map[string]string{"greet": srv.URL + "/greet.js"}}
	b := NewESBuild(WithLogger(quietLogger()), WithHTTPClient(srv.Client()))

	out, err := b.Bundle(context.Background(), Request{Entrypoint: entry, ImportMap: m})
	require.NoError(t, err)
	assert.Contains(t, out, "remote-greet")
	assert.Contains(t, out, "-remote-suffix")
	assert.Equal(t, int32(2), hits.Load())

	_, err = b.Bundle(context.Background(), Request{Entrypoint: entry, ImportMap: m})
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load(), "second build is served from cache")
}

func TestESBuild_RemoteNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	dir := t.TempDir()
	entry := writeFile(t, dir, "main.ts", `import "`+srv.URL+`/missing.js";`)

	_, err := NewESBuild(WithLogger(quietLogger()), WithHTTPClient(srv.Client())).
		Bundle(context.Background(), Request{Entrypoint: entry})
	assert.ErrorContains(t, err, "unexpected status")
}

func TestLoaderFor(t *testing.T) {
	assert.Equal(t, "ts", loaderName(loaderFor("/x/a.ts")))
	assert.Equal(t, "tsx", loaderName(loaderFor("/x/a.tsx")))
	assert.Equal(t, "json", loaderName(loaderFor("/x/a.json")))
	assert.Equal(t, "js", loaderName(loaderFor("/preact@10")))
}
