// Package discovery resolves and validates the files sage-enforce inspects.
package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultInclude matches every file under the root.
var DefaultInclude = []string{"**/*"}

// DefaultExclude skips VCS metadata, dependency trees and caches.
var DefaultExclude = []string{
	".git/**",
	"**/node_modules/**",
	"**/.venv/**",
	"**/venv/**",
	"**/__pycache__/**",
	"**/.mypy_cache/**",
	"**/.pytest_cache/**",
	"**/dist/**",
	"**/build/**",
}

// File is a discovered file under the project root.
type File struct {
	Path    string // cleaned absolute path
	RelPath string // slash-separated path relative to the root
	Size    int64
}

// FileDiscovery finds files under a root using doublestar patterns.
type FileDiscovery struct {
	rootPath string
	include  []string
	exclude  []string
}

// NewFileDiscovery creates a FileDiscovery. Empty include falls back to
// DefaultInclude; exclude patterns are added to DefaultExclude.
func NewFileDiscovery(rootPath string, include, exclude []string) *FileDiscovery {
	if len(include) == 0 {
		include = DefaultInclude
	}
	excl := make([]string, 0, len(DefaultExclude)+len(exclude))
	excl = append(excl, DefaultExclude...)
	excl = append(excl, exclude...)
	return &FileDiscovery{
		rootPath: rootPath,
		include:  include,
		exclude:  excl,
	}
}

// DiscoverFiles returns every regular file matching an include pattern and
// no exclude pattern, sorted by relative path. Symlinks are followed only
// when their target stays inside the root.
func (fd *FileDiscovery) DiscoverFiles() ([]File, error) {
	for _, p := range append(append([]string{}, fd.include...), fd.exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid pattern %q", p)
		}
	}

	seen := make(map[string]bool)
	var files []File

	fsys := os.DirFS(fd.rootPath)
	for _, pattern := range fd.include {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("error evaluating pattern %s: %w", pattern, err)
		}

		for _, match := range matches {
			if seen[match] || fd.excluded(match) {
				continue
			}
			seen[match] = true

			f, ok := fd.processMatch(match)
			if ok {
				files = append(files, f)
			}
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}

// excluded reports whether a slash-separated relative path matches an
// exclude pattern.
func (fd *FileDiscovery) excluded(rel string) bool {
	for _, p := range fd.exclude {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// processMatch converts a glob match into a File, returning false if the
// match should be skipped.
func (fd *FileDiscovery) processMatch(match string) (File, bool) {
	absPath, err := ValidatePath(filepath.FromSlash(match), fd.rootPath)
	if err != nil {
		return File{}, false
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return File{}, false
	}

	return File{
		Path:    absPath,
		RelPath: match,
		Size:    info.Size(),
	}, true
}
