package metablock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileExtensions are probed in order by Find.
var FileExtensions = []string{".json", ".js", ".yaml", ".yml"}

// FileBase is the base name of a metablock source file.
const FileBase = "metablock"

// Find returns the first existing regular metablock file in dir, or ""
// when none exists.
func Find(dir string) (string, error) {
	for _, ext := range FileExtensions {
		p := filepath.Join(dir, FileBase+ext)

		info, err := os.Stat(p)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}

			return "", fmt.Errorf("probing %s: %w", p, err)
		}

		if info.Mode().IsRegular() {
			return p, nil
		}
	}

	return "", nil
}

// Load reads a metablock file. JSON and YAML files hold a mapping of
// directives; a .js file holds a "// ==UserScript==" comment block.
func Load(path string) (Entries, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading metablock %s: %w", path, err)
	}

	var entries Entries
	if strings.EqualFold(filepath.Ext(path), ".js") {
		entries, err = ParseHeader(string(data))
	} else {
		entries, err = Parse(data)
	}

	if err != nil {
		return nil, fmt.Errorf("parsing metablock %s: %w", path, err)
	}

	return entries, nil
}

// Parse decodes a YAML or JSON mapping, keeping key order. Sequences yield
// one entry per item, true yields a flag, false and null are dropped, and a
// nested mapping yields localised keys ("name:de"), with the "default"
// sub-key mapping to the bare key. Values must fit on one line; a trailing
// newline, as left by a YAML block scalar, is dropped.
func Parse(data []byte) (Entries, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	if len(doc.Content) == 0 {
		return Entries{}, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected a mapping at line %d", root.Line)
	}

	var entries Entries

	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i].Value

		more, err := nodeEntries(key, root.Content[i+1])
		if err != nil {
			return nil, err
		}

		entries = append(entries, more...)
	}

	return entries, nil
}

func nodeEntries(key string, n *yaml.Node) (Entries, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		switch n.Tag {
		case "!!bool":
			var b bool
			if err := n.Decode(&b); err != nil {
				return nil, err
			}

			if b {
				return Entries{{Key: key}}, nil
			}

			return nil, nil
		case "!!null":
			return nil, nil
		default:
			// A directive ends at the end of its comment line.
			value := strings.TrimRight(n.Value, "\r\n")
			if strings.ContainsAny(value, "\r\n") {
				return nil, fmt.Errorf("value for %q at line %d spans multiple lines", key, n.Line)
			}

			return Entries{{Key: key, Value: value}}, nil
		}

	case yaml.SequenceNode:
		var out Entries

		for _, item := range n.Content {
			more, err := nodeEntries(key, item)
			if err != nil {
				return nil, err
			}

			out = append(out, more...)
		}

		return out, nil

	case yaml.MappingNode:
		var out Entries

		for i := 0; i+1 < len(n.Content); i += 2 {
			sub := key
			if locale := n.Content[i].Value; locale != "default" {
				sub = key + ":" + locale
			}

			more, err := nodeEntries(sub, n.Content[i+1])
			if err != nil {
				return nil, err
			}

			out = append(out, more...)
		}

		return out, nil

	default:
		return nil, fmt.Errorf("unsupported value for %q at line %d", key, n.Line)
	}
}

// ParseHeader extracts the directives of the first "// ==UserScript=="
// block in text.
func ParseHeader(text string) (Entries, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	start := -1

	for i, l := range lines {
		if strings.TrimSpace(l) == OpenTag {
			start = i
			break
		}
	}

	if start < 0 {
		return nil, fmt.Errorf("no %s block found", OpenTag)
	}

	entries := Entries{}

	for _, l := range lines[start+1:] {
		l = strings.TrimSpace(l)
		if l == CloseTag {
			return entries, nil
		}

		if l == "" {
			continue
		}

		body, ok := strings.CutPrefix(l, "//")
		if !ok {
			return nil, fmt.Errorf("unexpected line in metadata block: %q", l)
		}

		body = strings.TrimSpace(body)
		if !strings.HasPrefix(body, "@") {
			continue
		}

		key, value := body[1:], ""
		if idx := strings.IndexAny(key, " \t"); idx >= 0 {
			key, value = key[:idx], strings.TrimSpace(key[idx+1:])
		}

		entries = append(entries, Entry{Key: key, Value: value})
	}

	return nil, fmt.Errorf("unterminated metadata block: missing %s", CloseTag)
}
