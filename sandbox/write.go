// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sandbox

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jeranaias/toolcrib/internal/util"
)

// =============================================================================
// WRITE FILE TOOL
// =============================================================================

// defaultMaxWriteSize bounds written content when the policy does not
// set its own limit.
const defaultMaxWriteSize = 10 * 1024 * 1024 // 10MB

// WriteFileTool creates or overwrites one file inside the workspace.
// Writes are atomic: the content lands under a temporary name and is
// renamed into place, so a crash never leaves a half-written file.
type WriteFileTool struct {
	BaseTool
}

// DefaultWritePolicy keeps writes out of .git, where a written hook
// would execute on the next git command.
func DefaultWritePolicy() SecurityPolicy {
	return SecurityPolicy{
		ForbiddenDirectories: []string{".git"},
		MaxFileSize:          defaultMaxWriteSize,
	}
}

// NewWriteFileTool builds the tool rooted at the workspace directory.
func NewWriteFileTool(root string, policy SecurityPolicy) *WriteFileTool {
	cfg := ToolConfig{
		Name:        "write_file",
		Description: "Write content to a file inside the workspace. Creates parent directories as needed and overwrites existing files.",
		Version:     "1.0.0",
		Schema: Schema{Parameters: []Parameter{
			{
				Name:        "filePath",
				Type:        "string",
				Required:    true,
				Description: "Path of the file to write, relative to the workspace root",
			},
			{
				Name:        "content",
				Type:        "string",
				Required:    true,
				Description: "Content to write",
			},
			{
				Name:        "encoding",
				Type:        "string",
				Description: "Encoding of content",
				Default:     "utf8",
				Enum:        []string{"utf8", "base64"},
			},
		}},
		Security: policy,
	}
	return &WriteFileTool{newBaseTool(root, cfg)}
}

// Execute writes the file and reports what happened.
func (t *WriteFileTool) Execute(ctx context.Context, params map[string]interface{}) (Result, error) {
	filePath := getStringParam(params, "filePath", "")
	encoding := getStringParam(params, "encoding", "utf8")
	content, _ := params["content"].(string)

	resolved, err := t.resolvePath(filePath)
	if err != nil {
		return failFromError(err), nil
	}

	data, err := decodeContent(content, encoding)
	if err != nil {
		return FailWithMetadata(FailValidation, err.Error(),
			map[string]any{"parameter": "content"}), nil
	}

	maxSize := t.cfg.Security.MaxFileSize
	if maxSize <= 0 {
		maxSize = defaultMaxWriteSize
	}
	if int64(len(data)) > maxSize {
		return FailWithMetadata(FailResourceLimit,
			fmt.Sprintf("content size %s exceeds the limit of %s",
				util.FormatBytes(int64(len(data))), util.FormatBytes(maxSize)),
			map[string]any{"size": len(data), "maxSize": maxSize}), nil
	}

	if err := ctx.Err(); err != nil {
		return Fail(FailExecution, "write cancelled"), nil
	}

	existed := false
	if info, statErr := os.Stat(resolved); statErr == nil {
		if info.IsDir() {
			return Fail(FailExecution, "path is a directory: "+filePath), nil
		}
		existed = true
	}

	if err := util.AtomicWriteFile(resolved, data, 0644); err != nil {
		return Fail(FailExecution, "failed to write file: "+err.Error()), nil
	}

	rel := t.displayPath(resolved)
	verb := "Created"
	if existed {
		verb = "Overwrote"
	}
	output := fmt.Sprintf("%s %s (%s)", verb, rel, util.FormatBytes(int64(len(data))))
	if encoding == "utf8" {
		lines := strings.Count(string(data), "\n") + 1
		output = fmt.Sprintf("%s %s (%d lines, %s)", verb, rel, lines, util.FormatBytes(int64(len(data))))
	}

	return SucceedWithMetadata(output, map[string]any{
		"path":      rel,
		"bytes":     len(data),
		"encoding":  encoding,
		"created":   !existed,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}), nil
}

// decodeContent turns the content parameter into bytes per the declared
// encoding. The schema enum guarantees encoding is utf8 or base64.
func decodeContent(content, encoding string) ([]byte, error) {
	switch encoding {
	case "base64":
		data, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return nil, fmt.Errorf("content is not valid base64: %w", err)
		}
		return data, nil
	default:
		return []byte(content), nil
	}
}
