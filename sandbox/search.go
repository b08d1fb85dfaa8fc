// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/toolcrib/internal/util"
)

// =============================================================================
// SEARCH FILES TOOL
// =============================================================================

const (
	// defaultMaxSearchResults bounds matches when the caller does not
	// pass maxResults.
	defaultMaxSearchResults = 100

	// maxSearchResultsCeiling caps caller-supplied maxResults.
	maxSearchResultsCeiling = 1000

	// previewByteLimit is the hard cap on a content preview.
	previewByteLimit = 500

	// previewMaxFileSize is the largest file that gets a preview at all.
	previewMaxFileSize = 32 * 1024
)

// searchIgnoreDirs are directory names skipped during the walk.
var searchIgnoreDirs = []string{
	".git",
	"node_modules",
	"__pycache__",
	".venv",
	"venv",
	".idea",
	".vscode",
	"target",
	"dist",
	"build",
	".cache",
}

// SearchFilesTool finds files matching a glob pattern under a workspace
// directory. Supports * within a segment, ** across segments, and ?.
// Results are sorted newest first and truncated to maxResults; the match
// count keeps counting past the truncation point.
type SearchFilesTool struct {
	BaseTool
}

// DefaultSearchPolicy places no constraints beyond workspace containment.
func DefaultSearchPolicy() SecurityPolicy {
	return SecurityPolicy{}
}

// NewSearchFilesTool builds the tool rooted at the workspace directory.
func NewSearchFilesTool(root string, policy SecurityPolicy) *SearchFilesTool {
	cfg := ToolConfig{
		Name:        "search_files",
		Description: "Find files matching a glob pattern (e.g. \"**/*.go\") under a workspace directory, newest first.",
		Version:     "1.0.0",
		Schema: Schema{Parameters: []Parameter{
			{
				Name:        "pattern",
				Type:        "string",
				Required:    true,
				Description: "Glob pattern to match file paths against",
			},
			{
				Name:        "directory",
				Type:        "string",
				Description: "Directory to search, relative to the workspace root",
				Default:     ".",
			},
			{
				Name:        "maxResults",
				Type:        "number",
				Description: "Maximum number of results",
				Default:     defaultMaxSearchResults,
			},
			{
				Name:        "includeContent",
				Type:        "boolean",
				Description: "Include a short content preview for small files",
				Default:     false,
			},
		}},
		Security: policy,
	}
	return &SearchFilesTool{newBaseTool(root, cfg)}
}

// searchEntry holds one match during collection.
type searchEntry struct {
	path    string // resolved absolute path
	rel     string // workspace-relative display path
	size    int64
	modTime time.Time
}

// Execute walks the directory and returns the matching paths.
func (t *SearchFilesTool) Execute(ctx context.Context, params map[string]interface{}) (Result, error) {
	pattern := getStringParam(params, "pattern", "")
	directory := getStringParam(params, "directory", ".")
	maxResults := getIntParam(params, "maxResults", defaultMaxSearchResults)
	includeContent := getBoolParam(params, "includeContent", false)

	if err := validateGlobPattern(pattern); err != nil {
		return failFromError(err), nil
	}
	if maxResults <= 0 {
		maxResults = defaultMaxSearchResults
	}
	if maxResults > maxSearchResultsCeiling {
		maxResults = maxSearchResultsCeiling
	}

	base, err := t.resolvePath(directory)
	if err != nil {
		return failFromError(err), nil
	}
	info, err := os.Stat(base)
	if err != nil {
		if os.IsNotExist(err) {
			return Fail(FailExecution, "directory not found: "+directory), nil
		}
		return Fail(FailExecution, "cannot access directory: "+err.Error()), nil
	}
	if !info.IsDir() {
		return Fail(FailExecution, "not a directory: "+directory), nil
	}

	var matches []searchEntry
	truncated := false
	totalCount := 0

	walkErr := filepath.WalkDir(base, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // Skip unreadable entries
		}

		select {
		case <-ctx.Done():
			return context.Canceled
		default:
		}

		if d.IsDir() {
			if shouldIgnoreDir(d.Name()) && path != base {
				return filepath.SkipDir
			}
			return nil
		}

		relToBase, err := filepath.Rel(base, path)
		if err != nil {
			return nil
		}

		matched, err := matchGlobPattern(pattern, relToBase)
		if err != nil || !matched {
			return nil
		}

		totalCount++
		if len(matches) >= maxResults {
			truncated = true
			return nil // Keep counting without collecting
		}

		fi, err := d.Info()
		if err != nil {
			return nil
		}
		matches = append(matches, searchEntry{
			path:    path,
			rel:     t.displayPath(path),
			size:    fi.Size(),
			modTime: fi.ModTime(),
		})
		return nil
	})

	if walkErr != nil && walkErr != context.Canceled {
		return Fail(FailExecution, "error walking directory: "+walkErr.Error()), nil
	}
	if walkErr == context.Canceled {
		return Fail(FailExecution, "search cancelled"), nil
	}

	// Most recently modified first.
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].modTime.After(matches[j].modTime)
	})

	output := t.renderMatches(pattern, directory, matches, includeContent)
	if truncated {
		output += "\n\n[Results limited to " + strconv.Itoa(maxResults) +
			" files. Total matches: " + strconv.Itoa(totalCount) + "]"
	}

	return SucceedWithMetadata(output, map[string]any{
		"matched":      len(matches),
		"totalMatches": totalCount,
		"truncated":    truncated,
		"directory":    t.displayPath(base),
	}), nil
}

// renderMatches builds the output payload: one path per line, or, with
// includeContent, a block per file with a capped preview.
func (t *SearchFilesTool) renderMatches(pattern, directory string, matches []searchEntry, includeContent bool) string {
	if len(matches) == 0 {
		return "No files found matching pattern '" + pattern + "' in '" + directory + "'"
	}

	var builder strings.Builder
	for i, m := range matches {
		if !includeContent {
			if i > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(m.rel)
			continue
		}

		if i > 0 {
			builder.WriteString("\n\n")
		}
		builder.WriteString("=== " + m.rel + " (" + util.FormatBytes(m.size) + ") ===")
		if preview := filePreview(m.path, m.size); preview != "" {
			builder.WriteString("\n" + preview)
		}
	}
	return builder.String()
}

// filePreview returns up to previewByteLimit bytes of a file, and only
// for files small enough to be worth previewing.
func filePreview(path string, size int64) string {
	if size > previewMaxFileSize {
		return "(file too large for preview)"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	preview := util.ClipBytes(string(data), previewByteLimit)
	if len(data) > previewByteLimit {
		preview += "…"
	}
	return strings.TrimRight(preview, "\n")
}

// shouldIgnoreDir checks a directory name against the skip list.
func shouldIgnoreDir(name string) bool {
	for _, ignore := range searchIgnoreDirs {
		if name == ignore {
			return true
		}
	}
	return false
}

// =============================================================================
// GLOB MATCHING
// =============================================================================

// validateGlobPattern refuses patterns that could escape the workspace.
// Containment of the search directory itself is the policy's job.
func validateGlobPattern(pattern string) error {
	if pattern == "" {
		return &PatternError{Pattern: pattern, Reason: "pattern is required"}
	}
	normalized := strings.ReplaceAll(pattern, "\\", "/")
	if strings.HasPrefix(normalized, "/") {
		return &PatternError{
			Pattern: pattern,
			Reason:  "pattern must be relative to the search directory",
		}
	}
	for _, segment := range strings.Split(normalized, "/") {
		if segment == ".." {
			return &PatternError{
				Pattern: pattern,
				Reason:  "pattern contains '..' which could escape the workspace",
			}
		}
	}
	return nil
}

// matchGlobPattern matches a relative path against a glob pattern.
// Supports:
// - * matches any sequence of characters within a path segment
// - ** matches any sequence of characters including path separators
// - ? matches any single character
func matchGlobPattern(pattern, path string) (bool, error) {
	pattern = filepath.ToSlash(pattern)
	path = filepath.ToSlash(path)

	if strings.Contains(pattern, "**") {
		return matchDoublestarPattern(pattern, path)
	}

	// A bare file pattern like "*.ts" should match at any depth.
	if !strings.Contains(pattern, "/") {
		return filepath.Match(pattern, filepath.Base(path))
	}

	return filepath.Match(pattern, path)
}

// matchDoublestarPattern handles ** patterns.
func matchDoublestarPattern(pattern, path string) (bool, error) {
	parts := strings.Split(pattern, "**")

	if len(parts) == 1 {
		return filepath.Match(pattern, path)
	}

	// Pattern starts with **: match the suffix at any depth.
	if parts[0] == "" {
		suffix := strings.TrimPrefix(parts[1], "/")
		return matchSuffixPattern(suffix, path)
	}

	// Pattern like src/**/*.go: fixed prefix, then any depth.
	prefix := strings.TrimSuffix(parts[0], "/")
	if !strings.HasPrefix(path, prefix) {
		return false, nil
	}
	remaining := strings.TrimPrefix(strings.TrimPrefix(path, prefix), "/")
	suffix := strings.TrimPrefix(parts[1], "/")
	return matchSuffixPattern(suffix, remaining)
}

// matchSuffixPattern matches a suffix pattern at any depth of the path.
func matchSuffixPattern(suffix, path string) (bool, error) {
	if suffix == "" {
		return true, nil
	}
	parts := strings.Split(path, "/")
	for i := 0; i <= len(parts); i++ {
		subpath := strings.Join(parts[i:], "/")
		matched, err := filepath.Match(suffix, subpath)
		if err != nil {
			return false, err
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}
