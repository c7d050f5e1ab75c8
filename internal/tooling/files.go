package tooling

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/khalid-1/antigravity-mobile/internal/llm"
	"github.com/khalid-1/antigravity-mobile/internal/logging"
)

var errEntryLimit = errors.New("entry limit reached")

func listFilesDeclaration() llm.ToolDeclaration {
	return llm.ToolDeclaration{
		Name:        ToolListFiles,
		Description: "List files within a directory of the project, optionally recursively. All paths are constrained inside the project root.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"dir": map[string]any{
					"type":        "string",
					"description": "Directory to list, relative to the project root (default the root itself).",
				},
				"recursive": map[string]any{
					"type":        "boolean",
					"description": "Whether to walk subdirectories.",
				},
				"max_entries": map[string]any{
					"type":        "integer",
					"description": "Maximum number of entries to return (default 200).",
				},
			},
		},
	}
}

func (r *Registry) listFiles(ctx context.Context, args map[string]any) (map[string]any, error) {
	target := ""
	if provided, ok := stringArg(args, "dir"); ok {
		target = provided
	}
	root, err := r.guard.Resolve(target)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", r.guard.Rel(root))
	}
	recursive := boolArg(args, "recursive", false)
	maxEntries := intArg(args, "max_entries", 200)
	if maxEntries <= 0 {
		maxEntries = 200
	}

	type entry struct {
		Name  string `json:"name"`
		IsDir bool   `json:"isDir"`
	}
	results := make([]entry, 0, maxEntries)
	truncated := false

	addEntry := func(path string, isDir bool) bool {
		if len(results) >= maxEntries {
			truncated = true
			return false
		}
		rel := r.guard.Rel(path)
		if rel == "." {
			return true
		}
		if strings.HasPrefix(filepath.Base(path), ".") {
			return true
		}
		results = append(results, entry{Name: rel, IsDir: isDir})
		return true
	}

	if recursive {
		walkErr := filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if path == root {
				return nil
			}
			if d.IsDir() && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if !addEntry(path, d.IsDir()) {
				return errEntryLimit
			}
			return nil
		})
		if walkErr != nil && !errors.Is(walkErr, errEntryLimit) {
			return nil, walkErr
		}
	} else {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !addEntry(filepath.Join(root, e.Name()), e.IsDir()) {
				break
			}
		}
	}

	payload := make([]any, len(results))
	for i, e := range results {
		payload[i] = map[string]any{"name": e.Name, "isDir": e.IsDir}
	}
	return map[string]any{
		"dir":       r.guard.Rel(root),
		"entries":   payload,
		"truncated": truncated,
	}, nil
}

func readFileDeclaration() llm.ToolDeclaration {
	return llm.ToolDeclaration{
		Name:        ToolReadFile,
		Description: "Read a UTF-8 text file and return its contents (optionally truncated). The path must stay within the project root.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path to the file to read, relative to the project root.",
				},
				"max_bytes": map[string]any{
					"type":        "integer",
					"description": "Maximum number of bytes to return (default 65536).",
				},
			},
			"required": []string{"path"},
		},
	}
}

func (r *Registry) readFile(_ context.Context, args map[string]any) (map[string]any, error) {
	path, ok := stringArg(args, "path")
	if !ok || path == "" {
		return nil, errors.New("path is required")
	}
	abs, err := r.guard.Resolve(path)
	if err != nil {
		return nil, err
	}
	maxBytes := intArg(args, "max_bytes", 65536)
	if maxBytes <= 0 {
		maxBytes = 65536
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	truncated := false
	if len(data) > maxBytes {
		data = data[:maxBytes]
		truncated = true
	}
	return map[string]any{
		"path":      r.guard.Rel(abs),
		"bytes":     len(data),
		"truncated": truncated,
		"content":   string(data),
	}, nil
}

func writeFileDeclaration() llm.ToolDeclaration {
	return llm.ToolDeclaration{
		Name:        ToolWriteFile,
		Description: "Write content to a file, creating it and any parent directories if needed. Each write is recorded so the latest one can be undone.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path to the file to write, relative to the project root.",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "Full new content of the file.",
				},
			},
			"required": []string{"path", "content"},
		},
	}
}

func (r *Registry) writeFile(_ context.Context, args map[string]any) (map[string]any, error) {
	path, ok := stringArg(args, "path")
	if !ok || path == "" {
		return nil, errors.New("path is required")
	}
	content, ok := stringArg(args, "content")
	if !ok {
		return nil, errors.New("content is required")
	}
	abs, err := r.guard.Resolve(path)
	if err != nil {
		return nil, err
	}

	// Snapshot the old content before touching the file so the write can
	// be undone. A missing file maps to a nil snapshot (undo deletes).
	var previous *string
	if data, readErr := os.ReadFile(abs); readErr == nil {
		text := string(data)
		previous = &text
	} else if !os.IsNotExist(readErr) {
		return nil, readErr
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return nil, err
	}
	r.ledger.RecordWrite(r.projectID, r.guard.Rel(abs), previous)
	logging.DevLog("tooling: wrote %d bytes to %s", len(content), r.guard.Rel(abs))

	var previousContent any
	if previous != nil {
		previousContent = *previous
	}
	return map[string]any{
		"path":            r.guard.Rel(abs),
		"bytes":           len(content),
		"created":         previous == nil,
		"previousContent": previousContent,
	}, nil
}

func undoLastWriteDeclaration() llm.ToolDeclaration {
	return llm.ToolDeclaration{
		Name:        ToolUndoLastWrite,
		Description: "Revert the most recent file write in this project. A write that created a file is undone by deleting it.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}
}

func (r *Registry) undoLastWrite(_ context.Context, _ map[string]any) (map[string]any, error) {
	rec, ok := r.ledger.PopLast(r.projectID)
	if !ok {
		return nil, errors.New("no recent file changes to undo")
	}
	abs, err := r.guard.Resolve(rec.File)
	if err != nil {
		return nil, err
	}
	if rec.PreviousContent == nil {
		if err := os.Remove(abs); err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%s is already in its target state or missing", rec.File)
			}
			return nil, err
		}
		logging.UserLog("tooling: undo deleted %s", rec.File)
		return map[string]any{"path": rec.File, "action": "deleted"}, nil
	}
	if _, err := os.Stat(abs); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s no longer exists, cannot restore its previous content", rec.File)
		}
		return nil, err
	}
	if err := os.WriteFile(abs, []byte(*rec.PreviousContent), 0o644); err != nil {
		return nil, err
	}
	logging.UserLog("tooling: undo restored %s", rec.File)
	return map[string]any{"path": rec.File, "action": "restored"}, nil
}
