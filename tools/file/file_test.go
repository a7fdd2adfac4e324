package file

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	omniforge "github.com/omniforge/omniforge"
)

func TestReadTool(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello world"), 0644); err != nil {
		t.Fatal(err)
	}

	tool := NewReadTool(dir)
	res, err := tool.Execute(context.Background(), omniforge.ToolCallContext{}, map[string]any{
		"file_path": "notes.txt",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("read failed: %s", res.Error)
	}
	if res.Result != "hello world" {
		t.Errorf("content = %q, want %q", res.Result, "hello world")
	}
}

func TestReadToolMissingFile(t *testing.T) {
	tool := NewReadTool(t.TempDir())
	res, err := tool.Execute(context.Background(), omniforge.ToolCallContext{}, map[string]any{
		"file_path": "absent.txt",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("expected failure for missing file")
	}
	if !strings.Contains(res.Error, "read error") {
		t.Errorf("error = %q, want read error", res.Error)
	}
}

func TestReadToolTruncates(t *testing.T) {
	dir := t.TempDir()
	big := strings.Repeat("x", maxReadBytes+100)
	if err := os.WriteFile(filepath.Join(dir, "big.txt"), []byte(big), 0644); err != nil {
		t.Fatal(err)
	}

	tool := NewReadTool(dir)
	res, _ := tool.Execute(context.Background(), omniforge.ToolCallContext{}, map[string]any{
		"file_path": "big.txt",
	})
	if !strings.HasSuffix(res.Result, "(truncated)") {
		t.Error("large file should be truncated")
	}
}

func TestReadToolRejectsTraversal(t *testing.T) {
	tool := NewReadTool(t.TempDir())
	for _, path := range []string{"../etc/passwd", "a/../../b", "/etc/passwd"} {
		res, err := tool.Execute(context.Background(), omniforge.ToolCallContext{}, map[string]any{
			"file_path": path,
		})
		if err != nil {
			t.Fatal(err)
		}
		if res.Success {
			t.Errorf("path %q should be rejected", path)
		}
	}
}

func TestReadToolAbsolutePathInsideWorkspace(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "scripts", "run.sh")
	if err := os.MkdirAll(filepath.Dir(script), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(script, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}

	tool := NewReadTool(dir)
	res, err := tool.Execute(context.Background(), omniforge.ToolCallContext{}, map[string]any{
		"file_path": script,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("absolute path inside workspace rejected: %s", res.Error)
	}
}

func TestWriteTool(t *testing.T) {
	dir := t.TempDir()
	tool := NewWriteTool(dir)

	res, err := tool.Execute(context.Background(), omniforge.ToolCallContext{}, map[string]any{
		"file_path": "out/result.txt",
		"content":   "done",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("write failed: %s", res.Error)
	}

	data, err := os.ReadFile(filepath.Join(dir, "out", "result.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "done" {
		t.Errorf("file content = %q, want %q", data, "done")
	}
}
