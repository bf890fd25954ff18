package metablock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))

	return p
}

// ---------------------------------------------------------------------------
// Entries
// ---------------------------------------------------------------------------

func TestDefaults(t *testing.T) {
	d := Defaults()

	for key, want := range map[string]string{
		"grant":     "none",
		"match":     "https://*/*",
		"name":      "Untitled userscript",
		"namespace": "none",
		"noframes":  "",
		"run-at":    "document-idle",
		"version":   "0.1.0",
	} {
		got, ok := d.Get(key)
		require.True(t, ok, "missing %s", key)
		assert.Equal(t, want, got, "key=%s", key)
	}

	assert.Len(t, d, 7)
	assert.NoError(t, d.Validate())
}

func TestWithRequire_Idempotent(t *testing.T) {
	const url = "http://localhost:10741/bundle.user.js"

	base := Defaults()
	once := base.WithRequire(url)
	twice := once.WithRequire(url)

	count := 0
	for _, e := range twice {
		if e.Key == "require" && e.Value == url {
			count++
		}
	}

	assert.Equal(t, 1, count)
	assert.Len(t, twice, len(base)+1)
	assert.False(t, base.Has("require", url), "receiver must not be modified")
}

func TestWithRequire_KeepsOtherRequires(t *testing.T) {
	e := Entries{{Key: "require", Value: "https://cdn.example/lib.js"}}
	got := e.WithRequire("file:///tmp/a.bundle.user.js")

	assert.Equal(t, Entries{
		{Key: "require", Value: "https://cdn.example/lib.js"},
		{Key: "require", Value: "file:///tmp/a.bundle.user.js"},
	}, got)
}

func TestString(t *testing.T) {
	e := Entries{
		{Key: "name", Value: "Demo"},
		{Key: "run-at", Value: "document-end"},
		{Key: "noframes"},
	}

	want := "// ==UserScript==\n" +
		"// @name    Demo\n" +
		"// @run-at  document-end\n" +
		"// @noframes\n" +
		"// ==/UserScript=="

	assert.Equal(t, want, e.String())
}

func TestString_Empty(t *testing.T) {
	assert.Equal(t, "// ==UserScript==\n// ==/UserScript==", Entries{}.String())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		entries Entries
		wantErr string
	}{
		{"valid", Entries{{Key: "name", Value: "x"}, {Key: "version", Value: "1.2.3"}}, ""},
		{"short version", Entries{{Key: "name", Value: "x"}, {Key: "version", Value: "1.2"}}, ""},
		{"no version", Entries{{Key: "name", Value: "x"}}, ""},
		{"missing name", Entries{{Key: "version", Value: "1.0.0"}}, "no @name"},
		{"bad version", Entries{{Key: "name", Value: "x"}, {Key: "version", Value: "banana"}}, "@version"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.entries.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Find / Load
// ---------------------------------------------------------------------------

func TestFind_None(t *testing.T) {
	p, err := Find(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, p)
}

func TestFind_Priority(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "metablock.yml", "name: yml")
	writeFile(t, dir, "metablock.yaml", "name: yaml")

	p, err := Find(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "metablock.yaml"), p)

	writeFile(t, dir, "metablock.json", `{"name": "json"}`)

	p, err = Find(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "metablock.json"), p)
}

func TestFind_SkipsDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "metablock.json"), 0o755))
	writeFile(t, dir, "metablock.yml", "name: yml")

	p, err := Find(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "metablock.yml"), p)
}

func TestLoad_YAMLKeepsOrder(t *testing.T) {
	p := writeFile(t, t.TempDir(), "metablock.yaml", `name: Demo
name-locales:
  default: ignored
version: 1.0.0
match:
  - https://a.example/*
  - https://b.example/*
noframes: true
unwrap: false
homepage: ~
description:
  default: A demo
  de: Eine Demo
`)

	got, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, Entries{
		{Key: "name", Value: "Demo"},
		{Key: "name-locales", Value: "ignored"},
		{Key: "version", Value: "1.0.0"},
		{Key: "match", Value: "https://a.example/*"},
		{Key: "match", Value: "https://b.example/*"},
		{Key: "noframes"},
		{Key: "description", Value: "A demo"},
		{Key: "description:de", Value: "Eine Demo"},
	}, got)
}

func TestLoad_JSON(t *testing.T) {
	p := writeFile(t, t.TempDir(), "metablock.json", `{
  "name": "Demo",
  "grant": ["GM_getValue", "GM_setValue"],
  "noframes": true
}`)

	got, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, Entries{
		{Key: "name", Value: "Demo"},
		{Key: "grant", Value: "GM_getValue"},
		{Key: "grant", Value: "GM_setValue"},
		{Key: "noframes"},
	}, got)
}

func TestLoad_JSHeader(t *testing.T) {
	p := writeFile(t, t.TempDir(), "metablock.js", `/* leading comment */
// ==UserScript==
// @name         Demo
// @match	https://example.com/*
// plain comment
// @noframes
// ==/UserScript==

console.log("ignored");
`)

	got, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, Entries{
		{Key: "name", Value: "Demo"},
		{Key: "match", Value: "https://example.com/*"},
		{Key: "noframes"},
	}, got)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "reading metablock")

	p := writeFile(t, dir, "list.yaml", "- a\n- b\n")
	_, err = Load(p)
	assert.ErrorContains(t, err, "expected a mapping")

	p = writeFile(t, dir, "metablock.js", "// no header here\n")
	_, err = Load(p)
	assert.ErrorContains(t, err, "no // ==UserScript== block")

	p = writeFile(t, dir, "open.js", "// ==UserScript==\n// @name x\n")
	_, err = Load(p)
	assert.ErrorContains(t, err, "unterminated")
}

func TestParse_MultiLineValues(t *testing.T) {
	got, err := Parse([]byte("name: x\ndescription: |\n  one line\n"))
	require.NoError(t, err)
	assert.Equal(t, Entries{{Key: "name", Value: "x"}, {Key: "description", Value: "one line"}}, got)

	for name, doc := range map[string]string{
		"block scalar": "name: x\ndescription: |\n  line one\n  line two\n",
		"quoted":       "name: x\ndescription: \"line one\\nline two\"\n",
		"json":         `{"name": "x", "match": ["https://a/*", "https://b/*\nalert(1)"]}`,
		"localised":    "name:\n  default: x\n  de: |\n    eins\n    zwei\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.ErrorContains(t, err, "spans multiple lines")
		})
	}
}

func TestParse_Empty(t *testing.T) {
	got, err := Parse([]byte(""))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestParseHeader_BlankLines(t *testing.T) {
	got, err := ParseHeader("// ==UserScript==\n// @name x\n\n   \n// @version 1.0.0\n// ==/UserScript==\n")
	require.NoError(t, err)
	assert.Equal(t, Entries{{Key: "name", Value: "x"}, {Key: "version", Value: "1.0.0"}}, got)

	_, err = ParseHeader("// ==UserScript==\n// @name x\n\n")
	assert.ErrorContains(t, err, "unterminated")

	_, err = ParseHeader("// ==UserScript==\n// @name x\nconsole.log(1)\n// ==/UserScript==\n")
	assert.ErrorContains(t, err, "unexpected line")
}

func TestParseHeader_RoundTrip(t *testing.T) {
	got, err := ParseHeader(Defaults().String())
	require.NoError(t, err)
	assert.Equal(t, Defaults(), got)
}

// ---------------------------------------------------------------------------
// Diff
// ---------------------------------------------------------------------------

func TestDiff(t *testing.T) {
	prev := Entries{
		{Key: "name", Value: "Demo"},
		{Key: "version", Value: "1.0.0"},
		{Key: "grant", Value: "none"},
	}
	curr := Entries{
		{Key: "name", Value: "Demo"},
		{Key: "version", Value: "1.1.0"},
		{Key: "match", Value: "https://*/*"},
	}

	changes := Diff(prev, curr)
	require.Len(t, changes, 3)

	byKey := map[string]Change{}
	for _, c := range changes {
		byKey[c.Key] = c
	}

	assert.Equal(t, "removed", byKey["grant"].Kind)
	assert.Equal(t, "added", byKey["match"].Kind)
	assert.Equal(t, "changed", byKey["version"].Kind)
	assert.Equal(t, "1.0.0 -> 1.1.0", byKey["version"].Detail)
}

func TestDiff_RepeatedKeys(t *testing.T) {
	prev := Entries{{Key: "match", Value: "a"}}
	curr := Entries{{Key: "match", Value: "a"}, {Key: "match", Value: "b"}}

	changes := Diff(prev, curr)
	require.Len(t, changes, 1)
	assert.Equal(t, "changed", changes[0].Kind)
	assert.Equal(t, "a -> a, b", changes[0].Detail)
}

func TestSummary(t *testing.T) {
	tests := []struct {
		name    string
		changes []Change
		want    string
	}{
		{"no changes", nil, "no metadata changes"},
		{
			"added only",
			[]Change{{Kind: "added", Key: "a"}, {Kind: "added", Key: "b"}},
			"+2 directive(s) added",
		},
		{
			"mixed",
			[]Change{{Kind: "added"}, {Kind: "removed"}, {Kind: "changed"}},
			"+1 directive(s) added, -1 directive(s) removed, ~1 directive(s) changed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Summary(tt.changes))
		})
	}
}

func TestUnifiedDiff(t *testing.T) {
	prev := Entries{{Key: "name", Value: "Demo"}, {Key: "version", Value: "1.0.0"}}
	curr := Entries{{Key: "name", Value: "Demo"}, {Key: "version", Value: "1.1.0"}}

	out, err := UnifiedDiff(prev, curr)
	require.NoError(t, err)
	assert.Contains(t, out, "-// @version  1.0.0")
	assert.Contains(t, out, "+// @version  1.1.0")

	same, err := UnifiedDiff(prev, prev)
	require.NoError(t, err)
	assert.Empty(t, same)
}
