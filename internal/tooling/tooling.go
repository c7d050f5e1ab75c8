package tooling

import (
	"context"
	"fmt"
	"time"

	"github.com/khalid-1/antigravity-mobile/internal/ledger"
	"github.com/khalid-1/antigravity-mobile/internal/llm"
	"github.com/khalid-1/antigravity-mobile/internal/workspace"
)

// The complete tool surface exposed to the model. Dispatch switches
// exhaustively over these names; adding a tool means adding a constant,
// a declaration, and a case.
const (
	ToolListFiles     = "list_files"
	ToolReadFile      = "read_file"
	ToolWriteFile     = "write_file"
	ToolUndoLastWrite = "undo_last_write"
	ToolRunCommand    = "run_command"
)

// LogSink receives command output lines for fan-out to clients.
type LogSink func(line string, isError bool)

// Options configures a per-project tool registry.
type Options struct {
	Guard        workspace.Guard
	ProjectID    string
	Ledger       *ledger.Ledger
	ShellTimeout time.Duration
	Logs         LogSink
}

// Registry executes tool calls for one project. All paths resolve through
// the project guard and all writes are recorded in the change ledger.
type Registry struct {
	guard        workspace.Guard
	projectID    string
	ledger       *ledger.Ledger
	shellTimeout time.Duration
	logs         LogSink
}

func NewRegistry(opts Options) *Registry {
	timeout := opts.ShellTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	logs := opts.Logs
	if logs == nil {
		logs = func(string, bool) {}
	}
	return &Registry{
		guard:        opts.Guard,
		projectID:    opts.ProjectID,
		ledger:       opts.Ledger,
		shellTimeout: timeout,
		logs:         logs,
	}
}

// Declarations returns the tool schemas advertised to the model.
func Declarations() []llm.ToolDeclaration {
	return []llm.ToolDeclaration{
		listFilesDeclaration(),
		readFileDeclaration(),
		writeFileDeclaration(),
		undoLastWriteDeclaration(),
		runCommandDeclaration(),
	}
}

// Dispatch runs the named tool. Unknown names are an error; so are tool
// failures, which the caller reports back to the model as data rather
// than aborting the loop.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	switch name {
	case ToolListFiles:
		return r.listFiles(ctx, args)
	case ToolReadFile:
		return r.readFile(ctx, args)
	case ToolWriteFile:
		return r.writeFile(ctx, args)
	case ToolUndoLastWrite:
		return r.undoLastWrite(ctx, args)
	case ToolRunCommand:
		return r.runCommand(ctx, args)
	default:
		return nil, fmt.Errorf("unknown tool %s", name)
	}
}

func stringArg(args map[string]any, key string) (string, bool) {
	val, ok := args[key]
	if !ok {
		return "", false
	}
	switch cast := val.(type) {
	case string:
		return cast, true
	default:
		return fmt.Sprintf("%v", cast), true
	}
}

func boolArg(args map[string]any, key string, defaultVal bool) bool {
	val, ok := args[key]
	if !ok {
		return defaultVal
	}
	if b, ok := val.(bool); ok {
		return b
	}
	return defaultVal
}

func intArg(args map[string]any, key string, defaultVal int) int {
	val, ok := args[key]
	if !ok {
		return defaultVal
	}
	switch n := val.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return defaultVal
	}
}
