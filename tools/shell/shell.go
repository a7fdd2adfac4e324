// Package shell provides a shell_exec tool that runs commands inside a
// workspace directory.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	omniforge "github.com/omniforge/omniforge"
)

const maxOutputBytes = 4000

// Tool executes shell commands in a sandboxed workspace.
type Tool struct {
	workspacePath  string
	defaultTimeout int // seconds
}

// New creates a shell tool. Commands run in workspacePath with the given
// default timeout in seconds.
func New(workspacePath string, defaultTimeout int) *Tool {
	if defaultTimeout <= 0 {
		defaultTimeout = 30
	}
	return &Tool{workspacePath: workspacePath, defaultTimeout: defaultTimeout}
}

func (t *Tool) Definition() omniforge.ToolDefinition {
	return omniforge.ToolDefinition{
		Name:        "shell_exec",
		Type:        "builtin",
		Description: "Execute a shell command in the workspace directory. Returns stdout + stderr. Use for running scripts, checking files, or system tasks.",
		Parameters: []omniforge.ToolParameter{
			{Name: "command", Type: "string", Required: true, Description: "Shell command to execute"},
			{Name: "timeout", Type: "number", Required: false, Description: "Timeout in seconds (default 30)"},
		},
		Visibility: omniforge.VisibilityFull,
		Timeout:    5 * time.Minute,
	}
}

func (t *Tool) Execute(ctx context.Context, call omniforge.ToolCallContext, args map[string]any) (omniforge.ToolResult, error) {
	command, _ := args["command"].(string)
	if command == "" {
		return omniforge.ToolResult{Error: "command is required"}, nil
	}

	// Basic blocklist
	lower := strings.ToLower(command)
	blocked := []string{"rm -rf /", "sudo ", "mkfs", "> /dev/", "dd if="}
	for _, b := range blocked {
		if strings.Contains(lower, b) {
			return omniforge.ToolResult{Error: "command blocked for safety: " + b}, nil
		}
	}

	timeout := t.defaultTimeout
	if v, ok := args["timeout"].(float64); ok && v > 0 {
		timeout = int(v)
	}
	if timeout > 300 {
		timeout = 300
	}

	cmdCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", command)
	cmd.Dir = t.workspacePath

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	var output string
	if stdout.Len() > 0 {
		output = stdout.String()
	}
	if stderr.Len() > 0 {
		if output != "" {
			output += "\n--- stderr ---\n"
		}
		output += stderr.String()
	}
	if len(output) > maxOutputBytes {
		output = output[:maxOutputBytes] + "\n... (truncated)"
	}

	if err != nil {
		if cmdCtx.Err() == context.DeadlineExceeded {
			return omniforge.ToolResult{Result: output, Error: fmt.Sprintf("command timed out after %ds", timeout)}, nil
		}
		if output == "" {
			output = err.Error()
		}
		return omniforge.ToolResult{Result: output, Error: "exit: " + err.Error()}, nil
	}

	if output == "" {
		output = "(no output)"
	}
	return omniforge.ToolResult{Success: true, Result: output}, nil
}

var _ omniforge.Tool = (*Tool)(nil)
