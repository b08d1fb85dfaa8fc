// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sandbox

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	securejoin "github.com/cyphar/filepath-securejoin"
	shellwords "github.com/mattn/go-shellwords"
	"golang.org/x/text/unicode/norm"
)

// =============================================================================
// SECURITY POLICY
// =============================================================================

// SecurityPolicy constrains what a tool may touch. The zero value is the
// most permissive policy that still confines paths to the workspace root
// and refuses shell execution.
//
// All allow/deny pairs share one rule: deny lists are checked first and a
// deny match always wins, regardless of allow entries.
type SecurityPolicy struct {
	// AllowedExtensions restricts file operations to these extensions
	// when non-empty (".go", "md" and ".MD" all mean the same entry).
	AllowedExtensions []string

	// ForbiddenExtensions refuses file operations on these extensions.
	ForbiddenExtensions []string

	// AllowedDirectories restricts file operations to these workspace-
	// relative directory prefixes when non-empty ("." means the whole
	// workspace).
	AllowedDirectories []string

	// ForbiddenDirectories refuses file operations under these
	// workspace-relative directory prefixes.
	ForbiddenDirectories []string

	// AllowedCommands restricts commands to ones matching at least one
	// of these regular expressions when non-empty.
	AllowedCommands []string

	// ForbiddenCommands refuses commands matching any of these regular
	// expressions.
	ForbiddenCommands []string

	// MaxFileSize bounds file contents in bytes; 0 means the built-in
	// default of the tool using the policy.
	MaxFileSize int64

	// AllowShell permits subprocess execution. Tools that spawn
	// processes refuse every command while this is false.
	AllowShell bool

	// AllowNetwork permits commands whose leading program is a known
	// network client. Ignored when AllowShell is false.
	AllowNetwork bool

	// MaxCallsPerSecond enables a per-tool rate limiter when positive.
	MaxCallsPerSecond float64

	// BurstSize is the rate limiter burst; defaults to 1 when the
	// limiter is enabled.
	BurstSize int
}

// Validate reports a configuration problem in the policy itself, such as
// an uncompilable command pattern. Registry.Register refuses tools whose
// policies do not validate.
func (p SecurityPolicy) Validate() error {
	for _, pattern := range p.ForbiddenCommands {
		if _, err := compileCommandPattern(pattern); err != nil {
			return &PatternError{Pattern: pattern, Reason: err.Error()}
		}
	}
	for _, pattern := range p.AllowedCommands {
		if _, err := compileCommandPattern(pattern); err != nil {
			return &PatternError{Pattern: pattern, Reason: err.Error()}
		}
	}
	if p.MaxFileSize < 0 {
		return &ValidationError{Param: "maxFileSize", Message: "must not be negative"}
	}
	if p.MaxCallsPerSecond < 0 {
		return &ValidationError{Param: "maxCallsPerSecond", Message: "must not be negative"}
	}
	return nil
}

// =============================================================================
// PATH VALIDATION
// =============================================================================

// ValidatePath resolves candidate against the workspace root and checks
// it against the policy. It returns the resolved absolute path to operate
// on. root must be absolute with symlinks already resolved, which
// NewRegistry guarantees for the root it hands to tools.
//
// Escapes are refused with PathEscape, never silently clamped back into
// the root. Checks run deny-first: a forbidden extension or directory
// wins over any allow entry.
func (p SecurityPolicy) ValidatePath(root, candidate string) (string, error) {
	if candidate == "" {
		return "", &SecurityError{
			Kind:    PathEscape,
			Message: "empty path",
		}
	}
	if strings.ContainsRune(candidate, 0) {
		return "", &SecurityError{
			Kind:    PathEscape,
			Path:    candidate,
			Message: "path contains NUL byte",
		}
	}

	abs := candidate
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, abs)
	}
	abs = filepath.Clean(abs)

	// Lexical containment: ".." resolution must not leave the root, and
	// "/ws/project-evil" must not pass for root "/ws/project".
	if !isPathWithinDir(abs, root) {
		return "", &SecurityError{
			Kind:    PathEscape,
			Path:    candidate,
			Message: "path resolves outside the workspace root",
		}
	}

	// Symlink containment: a link inside the root must not point the
	// operation outside it.
	if resolved := resolveSymlinks(abs); !isPathWithinDir(resolved, root) {
		return "", &SecurityError{
			Kind:    PathEscape,
			Path:    candidate,
			Message: "path resolves outside the workspace root via symlink",
		}
	}

	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", &SecurityError{
			Kind:    PathEscape,
			Path:    candidate,
			Message: "path cannot be made workspace-relative",
		}
	}

	if err := p.checkExtension(abs, candidate); err != nil {
		return "", err
	}
	if err := p.checkDirectories(rel, candidate); err != nil {
		return "", err
	}

	// The operational path goes through SecureJoin so a component
	// swapped for a symlink after validation still cannot redirect the
	// operation outside the root.
	final, err := securejoin.SecureJoin(root, rel)
	if err != nil {
		return "", &SecurityError{
			Kind:    PathEscape,
			Path:    candidate,
			Message: "path cannot be joined inside the workspace root",
		}
	}
	return final, nil
}

func (p SecurityPolicy) checkExtension(abs, candidate string) error {
	ext := strings.ToLower(filepath.Ext(abs))
	for _, entry := range p.ForbiddenExtensions {
		if normalizeExtension(entry) == ext && ext != "" {
			return &SecurityError{
				Kind:    ExtensionDenied,
				Path:    candidate,
				Message: "extension " + ext + " is forbidden",
			}
		}
	}
	if len(p.AllowedExtensions) == 0 {
		return nil
	}
	for _, entry := range p.AllowedExtensions {
		if normalizeExtension(entry) == ext {
			return nil
		}
	}
	return &SecurityError{
		Kind:    ExtensionNotAllowed,
		Path:    candidate,
		Message: "extension " + displayExtension(ext) + " is not in the allowed set",
	}
}

func (p SecurityPolicy) checkDirectories(rel, candidate string) error {
	relSlash := filepath.ToSlash(rel)
	for _, entry := range p.ForbiddenDirectories {
		if dirCovers(normalizeDirectory(entry), relSlash) {
			return &SecurityError{
				Kind:    DirectoryDenied,
				Path:    candidate,
				Message: "directory " + entry + " is forbidden",
			}
		}
	}
	if len(p.AllowedDirectories) == 0 {
		return nil
	}
	for _, entry := range p.AllowedDirectories {
		if dirCovers(normalizeDirectory(entry), relSlash) {
			return nil
		}
	}
	return &SecurityError{
		Kind:    DirectoryNotAllowed,
		Path:    candidate,
		Message: "path is outside the allowed directories",
	}
}

// isPathWithinDir reports whether path equals dir or sits beneath it.
// The separator guard keeps "/ws/project-evil" from matching "/ws/project".
func isPathWithinDir(path, dir string) bool {
	if path == dir {
		return true
	}
	if !strings.HasSuffix(dir, string(filepath.Separator)) {
		dir += string(filepath.Separator)
	}
	return strings.HasPrefix(path, dir)
}

// resolveSymlinks resolves abs through the filesystem. For paths that do
// not exist yet (a file about to be created), the parent directory is
// resolved instead and the base rejoined; if nothing resolves, the
// lexical path is returned unchanged.
func resolveSymlinks(abs string) string {
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	} else if !os.IsNotExist(err) {
		return abs
	}
	parent := filepath.Dir(abs)
	if resolvedParent, err := filepath.EvalSymlinks(parent); err == nil {
		return filepath.Join(resolvedParent, filepath.Base(abs))
	}
	return abs
}

// dirCovers reports whether rel (slash-separated, workspace-relative)
// falls under the directory entry. The entry "." covers everything.
func dirCovers(entry, rel string) bool {
	if entry == "" {
		return false
	}
	if entry == "." {
		return true
	}
	return rel == entry || strings.HasPrefix(rel, entry+"/")
}

func normalizeDirectory(entry string) string {
	e := filepath.ToSlash(strings.TrimSpace(entry))
	e = strings.TrimPrefix(e, "./")
	e = strings.TrimSuffix(e, "/")
	if e == "" {
		return "."
	}
	return e
}

func normalizeExtension(entry string) string {
	e := strings.ToLower(strings.TrimSpace(entry))
	if e == "" {
		return ""
	}
	if !strings.HasPrefix(e, ".") {
		e = "." + e
	}
	return e
}

func displayExtension(ext string) string {
	if ext == "" {
		return "(none)"
	}
	return ext
}

// =============================================================================
// COMMAND VALIDATION
// =============================================================================

// maxCommandLength bounds command strings before any pattern matching.
const maxCommandLength = 10000

// privilegedPrograms never run, regardless of policy.
var privilegedPrograms = map[string]bool{
	"sudo":   true,
	"su":     true,
	"doas":   true,
	"pkexec": true,
}

// networkPrograms are screened out when a policy has AllowNetwork false.
var networkPrograms = regexp.MustCompile(`(?i)(^|[|;&]\s*)(curl|wget|nc|ncat|netcat|ssh|scp|sftp|rsync|ftp|telnet)(\s|$)`)

// ValidateCommand checks a command string against the policy before any
// process is spawned. The command is NFKC-normalized first so visually
// equivalent unicode cannot slip past the pattern lists. Forbidden
// patterns are checked before the allow list; with an empty allow list
// any non-forbidden command passes.
func (p SecurityPolicy) ValidateCommand(command string) error {
	if !p.AllowShell {
		return &SecurityError{
			Kind:    ExecutionDisabled,
			Message: "shell execution is disabled for this tool",
		}
	}

	normalized := normalizeCommand(command)
	if normalized == "" {
		return &SecurityError{
			Kind:    CommandForbidden,
			Message: "empty command",
		}
	}
	if len(normalized) > maxCommandLength {
		return &SecurityError{
			Kind:    CommandForbidden,
			Message: "command exceeds maximum length",
		}
	}
	if strings.ContainsRune(normalized, 0) {
		return &SecurityError{
			Kind:    CommandForbidden,
			Message: "command contains NUL byte",
		}
	}

	for _, pattern := range p.ForbiddenCommands {
		re, err := compileCommandPattern(pattern)
		if err != nil {
			// An uncompilable deny pattern fails closed.
			return &SecurityError{
				Kind:    CommandForbidden,
				Pattern: pattern,
				Message: "unusable forbidden-command pattern",
			}
		}
		if re.MatchString(normalized) {
			return &SecurityError{
				Kind:    CommandForbidden,
				Pattern: pattern,
				Message: "command matches a forbidden pattern",
			}
		}
	}

	if program, err := leadingProgram(normalized); err != nil {
		return &SecurityError{
			Kind:    CommandForbidden,
			Message: "command cannot be tokenized: " + err.Error(),
		}
	} else if privilegedPrograms[program] {
		return &SecurityError{
			Kind:    CommandForbidden,
			Pattern: program,
			Message: "privilege escalation commands are not permitted",
		}
	}

	if !p.AllowNetwork && networkPrograms.MatchString(normalized) {
		return &SecurityError{
			Kind:    CommandForbidden,
			Pattern: networkPrograms.String(),
			Message: "network access is disabled for this tool",
		}
	}

	if len(p.AllowedCommands) > 0 {
		for _, pattern := range p.AllowedCommands {
			re, err := compileCommandPattern(pattern)
			if err != nil {
				continue
			}
			if re.MatchString(normalized) {
				return nil
			}
		}
		return &SecurityError{
			Kind:    CommandNotAllowed,
			Message: "command matches no allowed pattern",
		}
	}
	return nil
}

// normalizeCommand applies NFKC normalization so full-width and other
// compatibility characters match the same patterns their ASCII forms do.
func normalizeCommand(command string) string {
	return strings.TrimSpace(norm.NFKC.String(command))
}

// leadingProgram returns the base name of the first shell token.
func leadingProgram(command string) (string, error) {
	tokens, err := shellwords.Parse(command)
	if err != nil {
		return "", err
	}
	if len(tokens) == 0 {
		return "", nil
	}
	return filepath.Base(strings.ToLower(tokens[0])), nil
}

// commandPatternCache holds compiled policy patterns; policies are data
// and the same pattern strings recur on every call.
var commandPatternCache sync.Map // string -> *regexp.Regexp

func compileCommandPattern(pattern string) (*regexp.Regexp, error) {
	if cached, ok := commandPatternCache.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	commandPatternCache.Store(pattern, re)
	return re, nil
}
