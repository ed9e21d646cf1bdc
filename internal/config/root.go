package config

import (
	"os"
	"path/filepath"
	"strings"
)

var ciBoundaryVars = []string{"FULMEN_WORKSPACE_ROOT", "GITHUB_WORKSPACE", "CI_PROJECT_DIR", "WORKSPACE"}

var rootMarkers = []string{"go.mod", ".git"}

// findProjectRoot walks up from the working directory to the nearest directory
// holding a root marker. In CI the walk stops at the workspace boundary named
// by the CI environment; a boundary that is relative, missing or does not
// contain the working directory is ignored. With no marker found the working
// directory itself is the root.
func findProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	boundary := ciBoundary(cwd)

	dir := cwd
	for {
		for _, marker := range rootMarkers {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir, nil
			}
		}
		if boundary != "" && dir == boundary {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return cwd, nil
}

func ciBoundary(cwd string) string {
	if os.Getenv("CI") != "true" && os.Getenv("GITHUB_ACTIONS") != "true" {
		return ""
	}
	for _, name := range ciBoundaryVars {
		b := os.Getenv(name)
		if b == "" || !filepath.IsAbs(b) {
			continue
		}
		b = filepath.Clean(b)
		if st, err := os.Stat(b); err != nil || !st.IsDir() {
			continue
		}
		rel, err := filepath.Rel(b, cwd)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return b
	}
	return ""
}
