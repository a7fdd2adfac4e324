// Package file provides file read/write tools sandboxed to a workspace
// directory.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	omniforge "github.com/omniforge/omniforge"
)

const maxReadBytes = 8000

// sandbox resolves relative paths inside a workspace root and rejects
// attempts to escape it.
type sandbox struct {
	root string
}

func (s sandbox) resolve(path string) (string, error) {
	if filepath.IsAbs(path) {
		// Absolute paths are allowed only when they already sit inside the
		// workspace; skill hook scripts are referenced absolutely.
		if strings.HasPrefix(path, s.root+string(filepath.Separator)) {
			return path, nil
		}
		return "", fmt.Errorf("absolute paths not allowed: %s", path)
	}
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("path traversal not allowed: %s", path)
	}
	resolved := filepath.Join(s.root, path)
	if !strings.HasPrefix(resolved, s.root) {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}
	return resolved, nil
}

// ReadTool reads files from the workspace.
type ReadTool struct {
	sb sandbox
}

// NewReadTool creates a file_read tool restricted to workspacePath.
func NewReadTool(workspacePath string) *ReadTool {
	return &ReadTool{sb: sandbox{root: filepath.Clean(workspacePath)}}
}

func (t *ReadTool) Definition() omniforge.ToolDefinition {
	return omniforge.ToolDefinition{
		Name:        "file_read",
		Type:        "builtin",
		Description: "Read a file from the workspace. Returns the file content (truncated to 8000 chars if large).",
		Parameters: []omniforge.ToolParameter{
			{Name: "file_path", Type: "string", Required: true, Description: "File path relative to workspace"},
		},
		Visibility: omniforge.VisibilityFull,
		Timeout:    10 * time.Second,
	}
}

func (t *ReadTool) Execute(ctx context.Context, call omniforge.ToolCallContext, args map[string]any) (omniforge.ToolResult, error) {
	path, _ := args["file_path"].(string)
	resolved, err := t.sb.resolve(path)
	if err != nil {
		return omniforge.ToolResult{Error: err.Error()}, nil
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return omniforge.ToolResult{Error: "read error: " + err.Error()}, nil
	}
	content := string(data)
	if len(content) > maxReadBytes {
		content = content[:maxReadBytes] + "\n... (truncated)"
	}
	return omniforge.ToolResult{Success: true, Result: content}, nil
}

// WriteTool writes files into the workspace.
type WriteTool struct {
	sb sandbox
}

// NewWriteTool creates a file_write tool restricted to workspacePath.
func NewWriteTool(workspacePath string) *WriteTool {
	return &WriteTool{sb: sandbox{root: filepath.Clean(workspacePath)}}
}

func (t *WriteTool) Definition() omniforge.ToolDefinition {
	return omniforge.ToolDefinition{
		Name:        "file_write",
		Type:        "builtin",
		Description: "Write content to a file in the workspace. Creates parent directories if needed.",
		Parameters: []omniforge.ToolParameter{
			{Name: "file_path", Type: "string", Required: true, Description: "File path relative to workspace"},
			{Name: "content", Type: "string", Required: true, Description: "Content to write"},
		},
		Visibility: omniforge.VisibilityFull,
		Timeout:    10 * time.Second,
	}
}

func (t *WriteTool) Execute(ctx context.Context, call omniforge.ToolCallContext, args map[string]any) (omniforge.ToolResult, error) {
	path, _ := args["file_path"].(string)
	content, _ := args["content"].(string)
	resolved, err := t.sb.resolve(path)
	if err != nil {
		return omniforge.ToolResult{Error: err.Error()}, nil
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0755); err != nil {
		return omniforge.ToolResult{Error: "mkdir error: " + err.Error()}, nil
	}
	if err := os.WriteFile(resolved, []byte(content), 0644); err != nil {
		return omniforge.ToolResult{Error: "write error: " + err.Error()}, nil
	}
	return omniforge.ToolResult{
		Success: true,
		Result:  fmt.Sprintf("Written %d bytes to %s", len(content), filepath.Base(resolved)),
	}, nil
}

var (
	_ omniforge.Tool = (*ReadTool)(nil)
	_ omniforge.Tool = (*WriteTool)(nil)
)
