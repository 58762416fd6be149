package transcoder

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
)

// DefaultStderrTailLines is how many trailing stderr lines are kept for diagnostics.
const DefaultStderrTailLines = 20

// Result holds the captured output of one tool invocation.
type Result struct {
	Stdout []byte
	Stderr string
}

// Runner spawns an external tool and interprets its exit status. Implementations
// must return a *ToolError for spawn failures, non-zero exits and kills.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (*Result, error)
}

// ToolError describes a failed tool invocation.
type ToolError struct {
	Tool     string
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s failed (exit %d): %v", e.Tool, e.ExitCode, e.Err)
	if e.Stderr != "" {
		msg += ": " + lastLine(e.Stderr)
	}
	return msg
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// ExecRunner runs tools with os/exec, draining stdout into memory and
// monitoring stderr line by line.
type ExecRunner struct {
	log       *slog.Logger
	tailLines int
}

// NewExecRunner creates a new ExecRunner.
func NewExecRunner(logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{log: logger, tailLines: DefaultStderrTailLines}
}

// Run executes name with args and waits for it to exit.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, &ToolError{Tool: name, Args: args, ExitCode: -1, Err: fmt.Errorf("failed to get stderr pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		return nil, &ToolError{Tool: name, Args: args, ExitCode: -1, Err: err}
	}

	// The pipe must be fully read before Wait closes it.
	tail := r.monitorOutput(ctx, name, stderrPipe)
	cmdErr := cmd.Wait()

	result := &Result{Stdout: stdout.Bytes(), Stderr: strings.Join(tail, "\n")}
	if cmdErr != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(cmdErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		if ctx.Err() != nil {
			cmdErr = fmt.Errorf("%w: %v", ctx.Err(), cmdErr)
		}
		return result, &ToolError{Tool: name, Args: args, ExitCode: exitCode, Stderr: result.Stderr, Err: cmdErr}
	}

	return result, nil
}

// monitorOutput logs tool output and returns the last lines for diagnostics.
func (r *ExecRunner) monitorOutput(ctx context.Context, tool string, rd io.Reader) []string {
	tail := make([]string, 0, r.tailLines)
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if len(tail) == r.tailLines {
			tail = tail[1:]
		}
		tail = append(tail, line)

		switch {
		case strings.Contains(line, "frame=") || strings.Contains(line, "time="):
			r.log.DebugContext(ctx, "Tool progress", "tool", tool, "output", line)
		case strings.Contains(line, "error") || strings.Contains(line, "Error"):
			r.log.WarnContext(ctx, "Tool warning", "tool", tool, "output", line)
		}
	}
	if err := scanner.Err(); err != nil {
		r.log.WarnContext(ctx, "Tool output scanner error", "tool", tool, "error", err)
		_, _ = io.Copy(io.Discard, rd)
	}
	return tail
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
