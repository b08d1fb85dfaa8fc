// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sandbox

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jeranaias/toolcrib/internal/util"
)

// =============================================================================
// READ FILE TOOL
// =============================================================================

const (
	// defaultMaxReadSize is the per-call size bound when the caller does
	// not pass maxSize.
	defaultMaxReadSize = 1024 * 1024 // 1MB

	// defaultReadCeiling caps caller-supplied maxSize values when the
	// policy does not set its own ceiling.
	defaultReadCeiling = 10 * 1024 * 1024 // 10MB
)

// ReadFileTool reads one file inside the workspace with a hard size
// bound. A file of exactly maxSize bytes succeeds; one byte more is a
// resource-limit failure, never a truncated success.
type ReadFileTool struct {
	BaseTool
}

// DefaultReadPolicy bounds reads at the built-in ceiling.
func DefaultReadPolicy() SecurityPolicy {
	return SecurityPolicy{MaxFileSize: defaultReadCeiling}
}

// NewReadFileTool builds the tool rooted at the workspace directory.
func NewReadFileTool(root string, policy SecurityPolicy) *ReadFileTool {
	cfg := ToolConfig{
		Name:        "read_file",
		Description: "Read the contents of a file inside the workspace. Fails rather than truncates when the file exceeds maxSize.",
		Version:     "1.0.0",
		Schema: Schema{Parameters: []Parameter{
			{
				Name:        "filePath",
				Type:        "string",
				Required:    true,
				Description: "Path of the file to read, relative to the workspace root",
			},
			{
				Name:        "encoding",
				Type:        "string",
				Description: "Encoding of the returned content",
				Default:     "utf8",
				Enum:        []string{"utf8", "base64"},
			},
			{
				Name:        "maxSize",
				Type:        "number",
				Description: "Maximum file size in bytes",
				Default:     defaultMaxReadSize,
			},
		}},
		Security: policy,
	}
	return &ReadFileTool{newBaseTool(root, cfg)}
}

// Execute reads the file and returns its content in the requested
// encoding.
func (t *ReadFileTool) Execute(ctx context.Context, params map[string]interface{}) (Result, error) {
	filePath := getStringParam(params, "filePath", "")
	encoding := getStringParam(params, "encoding", "utf8")
	maxSize := getIntParam(params, "maxSize", defaultMaxReadSize)

	if maxSize <= 0 {
		return failFromError(&ValidationError{
			Param:   "maxSize",
			Message: "must be positive",
		}), nil
	}
	ceiling := t.cfg.Security.MaxFileSize
	if ceiling <= 0 {
		ceiling = defaultReadCeiling
	}
	if int64(maxSize) > ceiling {
		maxSize = int(ceiling)
	}

	resolved, err := t.resolvePath(filePath)
	if err != nil {
		return failFromError(err), nil
	}

	f, err := os.Open(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return FailWithMetadata(FailExecution, "file not found: "+filePath,
				map[string]any{"path": t.displayPath(resolved)}), nil
		}
		return Fail(FailExecution, "failed to open file: "+err.Error()), nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Fail(FailExecution, "failed to stat file: "+err.Error()), nil
	}
	if !info.Mode().IsRegular() {
		return FailWithMetadata(FailExecution, "not a regular file: "+filePath,
			map[string]any{"path": t.displayPath(resolved)}), nil
	}
	if info.Size() > int64(maxSize) {
		return FailWithMetadata(FailResourceLimit,
			fmt.Sprintf("file size %s exceeds the limit of %s",
				util.FormatBytes(info.Size()), util.FormatBytes(int64(maxSize))),
			map[string]any{"size": info.Size(), "maxSize": maxSize}), nil
	}

	if err := ctx.Err(); err != nil {
		return Fail(FailExecution, "read cancelled"), nil
	}

	// Read through a limit one past the bound: the stat above can race
	// a concurrent write, the limited read cannot.
	data, err := io.ReadAll(io.LimitReader(f, int64(maxSize)+1))
	if err != nil {
		return Fail(FailExecution, "failed to read file: "+err.Error()), nil
	}
	if len(data) > maxSize {
		return FailWithMetadata(FailResourceLimit,
			fmt.Sprintf("file grew past the limit of %s", util.FormatBytes(int64(maxSize))),
			map[string]any{"maxSize": maxSize}), nil
	}

	output := string(data)
	if encoding == "base64" {
		output = base64.StdEncoding.EncodeToString(data)
	}

	return SucceedWithMetadata(output, map[string]any{
		"path":     t.displayPath(resolved),
		"size":     len(data),
		"encoding": encoding,
		"modTime":  info.ModTime().UTC().Format(time.RFC3339),
	}), nil
}
