package project

import (
	"os"
	"path/filepath"
)

// Info contains information about the detected project.
// Named 'Info' instead of 'ProjectInfo' to avoid stuttering (project.Info vs project.ProjectInfo).
type Info struct {
	Root      string
	HasGit    bool
	HasConfig bool
	Languages []string
}

// rootMarkers are files or directories whose presence marks a project root.
var rootMarkers = []string{
	".git",
	".sage",
	"pyproject.toml",
	"setup.py",
	"setup.cfg",
	"package.json",
	"tsconfig.json",
	"go.mod",
}

// languageMarkers maps a marker file to the language it implies.
var languageMarkers = []struct {
	marker   string
	language string
}{
	{"pyproject.toml", "python"},
	{"setup.py", "python"},
	{"requirements.txt", "python"},
	{"tsconfig.json", "typescript"},
	{"package.json", "javascript"},
}

// FindProjectRoot searches for a project root starting from the given path
// and climbing up the directory tree if needed. A file path starts the
// search from its directory.
func FindProjectRoot(startPath string) (string, error) {
	absPath, err := filepath.Abs(startPath)
	if err != nil {
		return "", err
	}

	if info, err := os.Stat(absPath); err == nil && !info.IsDir() {
		absPath = filepath.Dir(absPath)
	}

	currentDir := absPath
	for {
		if isProjectRoot(currentDir) {
			return currentDir, nil
		}

		parent := filepath.Dir(currentDir)
		if parent == currentDir {
			break
		}
		currentDir = parent
	}

	// Default to the starting directory if no project root found
	return absPath, nil
}

// isProjectRoot determines if a directory is a project root
func isProjectRoot(path string) bool {
	for _, marker := range rootMarkers {
		if exists(filepath.Join(path, marker)) {
			return true
		}
	}
	return false
}

// Detect detects project information at the given path.
// Named 'Detect' instead of 'DetectProjectInfo' to avoid stuttering.
func Detect(rootPath string) (*Info, error) {
	info := &Info{
		Root:      rootPath,
		HasGit:    exists(filepath.Join(rootPath, ".git")),
		HasConfig: exists(filepath.Join(rootPath, ".sage")),
	}

	seen := make(map[string]bool)
	for _, lm := range languageMarkers {
		if seen[lm.language] {
			continue
		}
		if exists(filepath.Join(rootPath, lm.marker)) {
			seen[lm.language] = true
			info.Languages = append(info.Languages, lm.language)
		}
	}

	return info, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
