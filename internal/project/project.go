package project

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/khalid-1/antigravity-mobile/internal/workspace"
)

// Project is a top-level directory under the workspace root. Each project
// gets its own agent session, change history, and dev server slot.
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// Store enumerates and resolves projects under the workspace root.
type Store struct {
	guard workspace.Guard
}

func NewStore(guard workspace.Guard) *Store {
	return &Store{guard: guard}
}

// List returns the projects currently present under the workspace root,
// sorted by name. Hidden directories and plain files are skipped.
func (s *Store) List() ([]Project, error) {
	entries, err := os.ReadDir(s.guard.Root())
	if err != nil {
		if os.IsNotExist(err) {
			return []Project{}, nil
		}
		return nil, fmt.Errorf("read workspace root: %w", err)
	}
	projects := make([]Project, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		projects = append(projects, Project{
			ID:   e.Name(),
			Name: e.Name(),
			Path: filepath.Join(s.guard.Root(), e.Name()),
		})
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].Name < projects[j].Name })
	return projects, nil
}

// Resolve maps a project ID to its directory and a guard anchored there.
// Unknown IDs and IDs that would escape the root are rejected.
func (s *Store) Resolve(id string) (Project, workspace.Guard, error) {
	if id == "" || strings.ContainsAny(id, "/\\") || strings.HasPrefix(id, ".") {
		return Project{}, workspace.Guard{}, fmt.Errorf("invalid project id %q", id)
	}
	sub, err := s.guard.Sub(id)
	if err != nil {
		return Project{}, workspace.Guard{}, err
	}
	info, err := os.Stat(sub.Root())
	if err != nil {
		return Project{}, workspace.Guard{}, fmt.Errorf("project %s: %w", id, err)
	}
	if !info.IsDir() {
		return Project{}, workspace.Guard{}, fmt.Errorf("project %s is not a directory", id)
	}
	return Project{ID: id, Name: id, Path: sub.Root()}, sub, nil
}
