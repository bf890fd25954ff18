// Package importmap loads the import map from a Deno-style configuration
// file (deno.jsonc or deno.json) next to the entrypoint.
package importmap

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tailscale/hujson"
	sigsyaml "sigs.k8s.io/yaml"
)

// ConfigFiles are probed in order; the first existing file is used.
var ConfigFiles = []string{"deno.jsonc", "deno.json"}

// ConfigParseError reports a configuration file that could not be parsed.
// Callers treat it as a warning and bundle without an import map.
type ConfigParseError struct {
	Path string
	Err  error
}

func (e *ConfigParseError) Error() string {
	return fmt.Sprintf("parsing %s: %v", e.Path, e.Err)
}

func (e *ConfigParseError) Unwrap() error { return e.Err }

// ImportMap maps module specifiers to locations. Keys ending in "/" map a
// specifier prefix.
type ImportMap struct {
	Imports map[string]string
	// BaseDir resolves relative targets.
	BaseDir string
	// Source is the file the map was read from.
	Source string
}

type denoConfig struct {
	Imports   map[string]string `json:"imports"`
	ImportMap string            `json:"importMap"`
}

// Find returns the first existing configuration file in dir, or "".
func Find(dir string) string {
	for _, name := range ConfigFiles {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return p
		}
	}

	return ""
}

// Load reads the configuration file in dir. It returns nil and no error
// when there is no file or the file has no "imports" key. An "importMap"
// key pointing at a separate import map file is followed when "imports" is
// absent.
func Load(dir string) (*ImportMap, error) {
	path := Find(dir)
	if path == "" {
		return nil, nil
	}

	cfg, err := parseFile(path)
	if err != nil {
		return nil, err
	}

	if cfg.Imports == nil && cfg.ImportMap != "" {
		ref := cfg.ImportMap
		if !filepath.IsAbs(ref) {
			ref = filepath.Join(filepath.Dir(path), ref)
		}

		if cfg, err = parseFile(ref); err != nil {
			return nil, err
		}

		path = ref
	}

	if cfg.Imports == nil {
		return nil, nil
	}

	return &ImportMap{
		Imports: cfg.Imports,
		BaseDir: filepath.Dir(path),
		Source:  path,
	}, nil
}

func parseFile(path string) (*denoConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigParseError{Path: path, Err: err}
	}

	if blankDocument(data) {
		return &denoConfig{}, nil
	}

	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, &ConfigParseError{Path: path, Err: err}
	}

	var cfg denoConfig
	if err := sigsyaml.Unmarshal(std, &cfg); err != nil {
		return nil, &ConfigParseError{Path: path, Err: err}
	}

	return &cfg, nil
}

// blankDocument reports whether data holds nothing but whitespace and
// comments. hujson rejects such a document since it has no value, so a null
// literal is appended and must be the only value found.
func blankDocument(data []byte) bool {
	if len(bytes.TrimSpace(data)) == 0 {
		return true
	}

	v, err := hujson.Parse(append(bytes.Clone(data), "\nnull"...))
	if err != nil {
		return false
	}

	return v.Value.Kind() == 'n'
}

// Resolve maps specifier through the import map. Exact keys win; otherwise
// the longest matching prefix key ending in "/" is used. Relative targets
// are resolved against BaseDir.
func (m *ImportMap) Resolve(specifier string) (string, bool) {
	if m == nil {
		return "", false
	}

	if target, ok := m.Imports[specifier]; ok {
		return m.absolute(target), true
	}

	for _, key := range m.prefixKeys() {
		if strings.HasPrefix(specifier, key) {
			return m.absolute(m.Imports[key] + strings.TrimPrefix(specifier, key)), true
		}
	}

	return "", false
}

// Len returns the number of mapped specifiers.
func (m *ImportMap) Len() int {
	if m == nil {
		return 0
	}

	return len(m.Imports)
}

// IsRemote reports whether target is fetched over the network rather than
// read from disk.
func IsRemote(target string) bool {
	for _, scheme := range []string{"http://", "https://", "npm:", "jsr:", "node:"} {
		if strings.HasPrefix(target, scheme) {
			return true
		}
	}

	return false
}

func (m *ImportMap) absolute(target string) string {
	if IsRemote(target) || filepath.IsAbs(target) {
		return target
	}

	if strings.HasPrefix(target, "./") || strings.HasPrefix(target, "../") {
		return filepath.Join(m.BaseDir, filepath.FromSlash(target))
	}

	return target
}

func (m *ImportMap) prefixKeys() []string {
	keys := make([]string, 0, len(m.Imports))
	for k := range m.Imports {
		if strings.HasSuffix(k, "/") {
			keys = append(keys, k)
		}
	}

	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })

	return keys
}

// IsParseError reports whether err is a *ConfigParseError.
func IsParseError(err error) bool {
	var pe *ConfigParseError
	return errors.As(err, &pe)
}
