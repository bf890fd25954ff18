package watch

import (
	"path/filepath"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"
)

// Filter decides whether the paths carried by an event are interesting.
// Both sets hold lowercased values; extensions carry no leading dot.
type Filter struct {
	Extensions sets.Set[string]
	Filenames  sets.Set[string]
}

// NewFilter builds a Filter from user-supplied extensions (with or without
// a leading dot) and base file names. Matching is case-insensitive.
func NewFilter(extensions, filenames []string) Filter {
	f := Filter{
		Extensions: sets.New[string](),
		Filenames:  sets.New[string](),
	}

	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			f.Extensions.Insert(ext)
		}
	}

	for _, name := range filenames {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			f.Filenames.Insert(name)
		}
	}

	return f
}

// Empty reports whether no extension and no file name is configured.
func (f Filter) Empty() bool {
	return f.Extensions.Len() == 0 && f.Filenames.Len() == 0
}

// Accepts reports whether at least one of paths matches the filter. An
// empty filter accepts everything.
func (f Filter) Accepts(paths []string) bool {
	if f.Empty() {
		return true
	}

	for _, p := range paths {
		base, ext := splitName(p)
		if f.Filenames.Has(base) || f.Extensions.Has(ext) {
			return true
		}
	}

	return false
}

// splitName returns the lowercased base name of p and its extension without
// the dot. Dotfiles such as ".env" have no extension.
func splitName(p string) (base, ext string) {
	base = strings.ToLower(filepath.Base(p))

	idx := strings.LastIndex(base, ".")
	if idx <= 0 {
		return base, ""
	}

	return base, base[idx+1:]
}
