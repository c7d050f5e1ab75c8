package tooling

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/khalid-1/antigravity-mobile/internal/llm"
	"github.com/khalid-1/antigravity-mobile/internal/logging"
)

const (
	maxCommandTimeout = 300 * time.Second
	maxOutputBytes    = 16384
)

func runCommandDeclaration() llm.ToolDeclaration {
	return llm.ToolDeclaration{
		Name:        ToolRunCommand,
		Description: "Execute a shell command in the project root. Output is captured and returned; long output is truncated.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "Shell command to execute, e.g. 'npm test'.",
				},
				"timeout_seconds": map[string]any{
					"type":        "number",
					"description": "Override the default timeout. Maximum 300 seconds (5 minutes).",
				},
			},
			"required": []string{"command"},
		},
	}
}

// runCommand executes the command detached from the loop context: a
// stopped agent run must not kill a build or install already in flight.
// The shell timeout still bounds it.
func (r *Registry) runCommand(_ context.Context, args map[string]any) (map[string]any, error) {
	command, ok := stringArg(args, "command")
	if !ok || strings.TrimSpace(command) == "" {
		return nil, errors.New("command is required")
	}

	blocked := []string{"sudo", "su", "passwd"}
	fields := strings.Fields(command)
	for _, word := range blocked {
		if len(fields) > 0 && fields[0] == word {
			logging.ErrorLog("tooling: blocked command '%s'", word)
			return nil, fmt.Errorf("command '%s' requires interactive input and is not allowed", word)
		}
	}

	timeout := r.shellTimeout
	if override := intArg(args, "timeout_seconds", 0); override > 0 {
		timeout = time.Duration(override) * time.Second
	}
	if timeout > maxCommandTimeout {
		return nil, fmt.Errorf("timeout_seconds cannot exceed %d", int(maxCommandTimeout.Seconds()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = r.guard.Root()
	cmd.Stdin = nil

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	logging.DevLog("tooling: executing %q in %s", command, r.guard.Root())
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var outBuf, errBuf strings.Builder
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			r.logs(line, false)
			if outBuf.Len() < maxOutputBytes {
				outBuf.WriteString(line)
				outBuf.WriteByte('\n')
			}
		}
	}()
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			r.logs(line, true)
			if errBuf.Len() < maxOutputBytes {
				errBuf.WriteString(line)
				errBuf.WriteByte('\n')
			}
		}
	}()
	wg.Wait()
	runErr := cmd.Wait()
	duration := time.Since(start)

	exitCode := 0
	if ps := cmd.ProcessState; ps != nil {
		exitCode = ps.ExitCode()
	}
	logging.DevLog("tooling: command finished in %dms with exit code %d", duration.Milliseconds(), exitCode)

	result := map[string]any{
		"stdout":      truncate(outBuf.String()),
		"stderr":      truncate(errBuf.String()),
		"exit_code":   exitCode,
		"duration_ms": duration.Milliseconds(),
	}
	if runErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			logging.ErrorLog("tooling: command timed out after %d seconds", int(timeout.Seconds()))
			result["error"] = fmt.Sprintf("Command timed out after %d seconds and was killed. Output may be incomplete.", int(timeout.Seconds()))
			result["timed_out"] = true
		} else {
			result["error"] = runErr.Error()
		}
	}
	return result, nil
}

func truncate(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	return s[:maxOutputBytes] + "\n... output truncated"
}
