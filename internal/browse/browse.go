// Package browse lists directories for library path selection. Only
// directories are exposed: the browser exists so the UI can pick library
// roots, not to inspect files.
package browse

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lkern/shrinkarr/internal/errs"
)

// Dir is one subdirectory of the browsed path.
type Dir struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Listing is the browse result for one directory. Parent is empty at the
// filesystem root.
type Listing struct {
	Path   string `json:"path"`
	Parent string `json:"parent,omitempty"`
	Dirs   []Dir  `json:"dirs"`
}

// List returns the subdirectories of path, sorted by name. An empty path
// starts at the filesystem root; dot-directories are hidden.
func List(path string) (*Listing, error) {
	if path == "" {
		path = string(filepath.Separator)
	}
	if !filepath.IsAbs(path) {
		return nil, errs.Validationf("browse path must be absolute: %s", path)
	}
	path = filepath.Clean(path)

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.NotFoundf("directory not found: %s", path)
		}
		return nil, errs.IOf("stat browse path", err)
	}
	if !info.IsDir() {
		return nil, errs.Validationf("not a directory: %s", path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, errs.IOf("read directory", err)
	}

	listing := &Listing{Path: path, Dirs: make([]Dir, 0, len(entries))}
	if parent := filepath.Dir(path); parent != path {
		listing.Parent = parent
	}

	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		listing.Dirs = append(listing.Dirs, Dir{
			Name: e.Name(),
			Path: filepath.Join(path, e.Name()),
		})
	}

	sort.Slice(listing.Dirs, func(i, j int) bool {
		return strings.ToLower(listing.Dirs[i].Name) < strings.ToLower(listing.Dirs[j].Name)
	})
	return listing, nil
}
