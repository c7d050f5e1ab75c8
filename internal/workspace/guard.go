package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Guard confines all filesystem access to a single root directory. Every
// path coming from the model or the control API is resolved through it
// before any file operation runs.
type Guard struct {
	root string
}

// NewGuard absolutizes root and returns a guard anchored there.
func NewGuard(root string) (Guard, error) {
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return Guard{}, err
	}
	return Guard{root: abs}, nil
}

// Root returns the absolute workspace root.
func (g Guard) Root() string {
	return g.root
}

// Resolve turns a relative or absolute path into an absolute path and
// rejects anything outside the root. The check is segment-aware so a
// sibling such as /work-evil does not pass for root /work.
func (g Guard) Resolve(path string) (string, error) {
	var target string
	if path == "" {
		target = g.root
	} else if filepath.IsAbs(path) {
		target = path
	} else {
		target = filepath.Join(g.root, path)
	}
	cleaned, err := filepath.Abs(target)
	if err != nil {
		return "", err
	}
	if cleaned != g.root && !strings.HasPrefix(cleaned, g.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("path %s escapes workspace root", path)
	}
	return cleaned, nil
}

// Sub returns a guard anchored at a directory inside this guard's root.
func (g Guard) Sub(dir string) (Guard, error) {
	abs, err := g.Resolve(dir)
	if err != nil {
		return Guard{}, err
	}
	return Guard{root: abs}, nil
}

// Rel rewrites an absolute path relative to the root for display.
func (g Guard) Rel(path string) string {
	rel, err := filepath.Rel(g.root, path)
	if err != nil {
		return path
	}
	return rel
}
