// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sandbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// =============================================================================
// READ FILE TOOL TESTS
// =============================================================================

func TestReadFileToolReadsContent(t *testing.T) {
	root := testRoot(t)
	content := "line one\nline two\n"
	if err := os.WriteFile(filepath.Join(root, "file.txt"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	tool := NewReadFileTool(root, DefaultReadPolicy())
	res, err := tool.Execute(context.Background(), map[string]interface{}{"filePath": "file.txt"})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !res.Success {
		t.Fatalf("read failed: %s", res.Error)
	}
	if res.Output != content {
		t.Errorf("output = %q, want %q", res.Output, content)
	}
	if size, _ := res.Metadata["size"].(int); size != len(content) {
		t.Errorf("metadata size = %v, want %d", res.Metadata["size"], len(content))
	}
}

func TestReadFileToolSizeBoundary(t *testing.T) {
	root := testRoot(t)
	payload := bytes.Repeat([]byte("x"), 64)
	if err := os.WriteFile(filepath.Join(root, "exact.bin"), payload, 0644); err != nil {
		t.Fatal(err)
	}

	tool := NewReadFileTool(root, DefaultReadPolicy())

	// Exactly at the bound succeeds.
	res, _ := tool.Execute(context.Background(), map[string]interface{}{
		"filePath": "exact.bin",
		"maxSize":  64,
	})
	if !res.Success {
		t.Fatalf("file exactly at maxSize rejected: %s", res.Error)
	}
	if len(res.Output) != 64 {
		t.Errorf("output length = %d, want 64", len(res.Output))
	}

	// One byte over fails, and nothing is truncated.
	res, _ = tool.Execute(context.Background(), map[string]interface{}{
		"filePath": "exact.bin",
		"maxSize":  63,
	})
	if res.Success {
		t.Fatal("oversize file returned as success")
	}
	if res.Kind() != FailResourceLimit {
		t.Errorf("kind = %s, want %s", res.Kind(), FailResourceLimit)
	}
	if res.Output != "" {
		t.Errorf("failure carried output payload %q", res.Output)
	}
}

func TestReadFileToolMissingFile(t *testing.T) {
	tool := NewReadFileTool(testRoot(t), DefaultReadPolicy())

	res, _ := tool.Execute(context.Background(), map[string]interface{}{"filePath": "ghost.txt"})
	if res.Success {
		t.Fatal("missing file read succeeded")
	}
	if res.Kind() != FailExecution {
		t.Errorf("kind = %s, want %s", res.Kind(), FailExecution)
	}
	if !strings.Contains(res.Error, "file not found") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestReadFileToolRefusesDirectory(t *testing.T) {
	root := testRoot(t)
	if err := os.MkdirAll(filepath.Join(root, "dir"), 0755); err != nil {
		t.Fatal(err)
	}
	tool := NewReadFileTool(root, DefaultReadPolicy())

	res, _ := tool.Execute(context.Background(), map[string]interface{}{"filePath": "dir"})
	if res.Success {
		t.Fatal("directory read succeeded")
	}
}

func TestReadFileToolBase64(t *testing.T) {
	root := testRoot(t)
	raw := []byte{0x00, 0x01, 0xfe, 0xff, '\n'}
	if err := os.WriteFile(filepath.Join(root, "blob.bin"), raw, 0644); err != nil {
		t.Fatal(err)
	}

	tool := NewReadFileTool(root, DefaultReadPolicy())
	res, _ := tool.Execute(context.Background(), map[string]interface{}{
		"filePath": "blob.bin",
		"encoding": "base64",
	})
	if !res.Success {
		t.Fatalf("base64 read failed: %s", res.Error)
	}

	decoded, err := base64.StdEncoding.DecodeString(res.Output)
	if err != nil {
		t.Fatalf("output is not base64: %v", err)
	}
	if !bytes.Equal(decoded, raw) {
		t.Errorf("decoded = %v, want %v", decoded, raw)
	}
}

func TestReadFileToolMaxSizeMustBePositive(t *testing.T) {
	tool := NewReadFileTool(testRoot(t), DefaultReadPolicy())

	res, _ := tool.Execute(context.Background(), map[string]interface{}{
		"filePath": "whatever.txt",
		"maxSize":  -5,
	})
	if res.Success {
		t.Fatal("negative maxSize accepted")
	}
	if res.Kind() != FailValidation {
		t.Errorf("kind = %s, want %s", res.Kind(), FailValidation)
	}
}

func TestReadFileToolPolicyCeiling(t *testing.T) {
	root := testRoot(t)
	if err := os.WriteFile(filepath.Join(root, "f.txt"), bytes.Repeat([]byte("y"), 20), 0644); err != nil {
		t.Fatal(err)
	}

	// The policy ceiling clamps a generous caller-supplied maxSize.
	tool := NewReadFileTool(root, SecurityPolicy{MaxFileSize: 10})
	res, _ := tool.Execute(context.Background(), map[string]interface{}{
		"filePath": "f.txt",
		"maxSize":  1000,
	})
	if res.Success {
		t.Fatal("policy ceiling did not apply")
	}
	if res.Kind() != FailResourceLimit {
		t.Errorf("kind = %s, want %s", res.Kind(), FailResourceLimit)
	}
}

// =============================================================================
// WRITE/READ ROUND TRIP
// =============================================================================

func TestWriteReadRoundTrip(t *testing.T) {
	reg := newTestRegistry(t)
	root := reg.Root()
	if err := reg.Register(NewWriteFileTool(root, DefaultWritePolicy())); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(NewReadFileTool(root, DefaultReadPolicy())); err != nil {
		t.Fatal(err)
	}

	content := "package main\n\nfunc main() {}\n// ünïcode comment\n"
	ctx := context.Background()

	wres := reg.Execute(ctx, Call{Tool: "write_file", Params: map[string]interface{}{
		"filePath": "src/main.go",
		"content":  content,
	}})
	if !wres.Success {
		t.Fatalf("write failed: %s", wres.Error)
	}

	rres := reg.Execute(ctx, Call{Tool: "read_file", Params: map[string]interface{}{
		"filePath": "src/main.go",
	}})
	if !rres.Success {
		t.Fatalf("read failed: %s", rres.Error)
	}
	if rres.Output != content {
		t.Errorf("round trip mismatch: %q", rres.Output)
	}

	summary := reg.Summary()
	if summary.TotalExecutions != 2 || summary.Successful != 2 {
		t.Errorf("summary = %+v, want 2/2", summary)
	}
}
