package discovery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sentinel errors for path validation, matched with errors.Is.
var (
	ErrPathTraversal = errors.New("path escapes root")
	ErrNotFound      = errors.New("path not found")
	ErrNotAFile      = errors.New("path is not a regular file")
)

// PathTraversalError is returned when a path resolves outside the root.
type PathTraversalError struct {
	Path string
	Root string
}

func (e *PathTraversalError) Error() string {
	return fmt.Sprintf("path traversal: %s resolves outside %s", e.Path, e.Root)
}

// Is matches ErrPathTraversal.
func (e *PathTraversalError) Is(target error) bool { return target == ErrPathTraversal }

// NotFoundError is returned when the path does not exist.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("file not found: %s", e.Path)
}

// Is matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotAFileError is returned when the path exists but is not a regular file.
type NotAFileError struct {
	Path string
	Mode os.FileMode
}

func (e *NotAFileError) Error() string {
	if e.Mode.IsDir() {
		return fmt.Sprintf("path is a directory, not a file: %s", e.Path)
	}
	return fmt.Sprintf("path is not a regular file: %s (%s)", e.Path, e.Mode.Type())
}

// Is matches ErrNotAFile.
func (e *NotAFileError) Is(target error) bool { return target == ErrNotAFile }

// ValidatePath resolves inputPath against root and confirms it names a
// regular file inside root.
//
// Relative paths are joined to root; absolute paths are taken as given.
// Containment is checked twice: lexically after cleaning (defeats "..")
// and again after symlink resolution (defeats links pointing out of root).
// Both checks compare whole path components, so "/project-other" is not
// inside "/project".
//
// The returned path is the cleaned absolute path, not the symlink target.
// ValidatePath has no side effects.
func ValidatePath(inputPath, root string) (string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("invalid root %q: %w", root, err)
	}

	candidate := inputPath
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(rootAbs, candidate)
	}
	candidate = filepath.Clean(candidate)

	if !IsWithin(rootAbs, candidate) {
		return "", &PathTraversalError{Path: inputPath, Root: rootAbs}
	}

	rootReal, err := filepath.EvalSymlinks(rootAbs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", &NotFoundError{Path: rootAbs}
		}
		return "", fmt.Errorf("cannot resolve root %s: %w", rootAbs, err)
	}

	if _, err := os.Lstat(candidate); err != nil {
		if os.IsNotExist(err) {
			return "", &NotFoundError{Path: candidate}
		}
		return "", fmt.Errorf("cannot access file: %s: %w", candidate, err)
	}

	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		// Dangling symlink: the name exists, the target does not.
		if os.IsNotExist(err) {
			return "", &NotFoundError{Path: candidate}
		}
		return "", fmt.Errorf("cannot resolve symlink %s: %w", candidate, err)
	}
	if !IsWithin(rootReal, resolved) {
		return "", &PathTraversalError{Path: inputPath, Root: rootAbs}
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("cannot access file: %s: %w", resolved, err)
	}
	if !info.Mode().IsRegular() {
		return "", &NotAFileError{Path: candidate, Mode: info.Mode()}
	}

	return candidate, nil
}

// IsWithin reports whether path equals root or is a descendant of it.
// Both arguments must be clean absolute paths.
func IsWithin(root, path string) bool {
	if path == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix)
}
