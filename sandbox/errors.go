// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sandbox

import (
	"errors"
	"fmt"
)

// =============================================================================
// REGISTRY ERRORS
// =============================================================================

var (
	// ErrDuplicateTool is returned by Registry.Register when a tool with
	// the same name is already registered. The first registration stays
	// intact.
	ErrDuplicateTool = errors.New("duplicate tool name")

	// ErrToolNotFound is reported when a call names an unregistered tool.
	ErrToolNotFound = errors.New("tool not found")
)

// =============================================================================
// SECURITY ERRORS
// =============================================================================

// SecurityErrorKind identifies which security check refused an operation.
type SecurityErrorKind string

const (
	// Path checks.
	PathEscape          SecurityErrorKind = "path_escape"
	ExtensionDenied     SecurityErrorKind = "extension_denied"
	ExtensionNotAllowed SecurityErrorKind = "extension_not_allowed"
	DirectoryDenied     SecurityErrorKind = "directory_denied"
	DirectoryNotAllowed SecurityErrorKind = "directory_not_allowed"

	// Command checks.
	ExecutionDisabled SecurityErrorKind = "execution_disabled"
	CommandForbidden  SecurityErrorKind = "command_forbidden"
	CommandNotAllowed SecurityErrorKind = "command_not_allowed"
)

// SecurityError reports a refused path or command, naming the responsible
// check. Path carries the offending path for path checks; Pattern carries
// the matched (or missing) pattern for command checks.
type SecurityError struct {
	Kind    SecurityErrorKind
	Path    string
	Pattern string
	Message string
}

func (e *SecurityError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("security error (%s): %s [path: %s]", e.Kind, e.Message, e.Path)
	}
	if e.Pattern != "" {
		return fmt.Sprintf("security error (%s): %s [pattern: %s]", e.Kind, e.Message, e.Pattern)
	}
	return fmt.Sprintf("security error (%s): %s", e.Kind, e.Message)
}

// =============================================================================
// VALIDATION ERRORS
// =============================================================================

// ValidationError reports a call argument that failed schema validation.
type ValidationError struct {
	Param   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Param + ": " + e.Message
}

// =============================================================================
// PATTERN ERRORS
// =============================================================================

// PatternError reports an unusable search pattern.
type PatternError struct {
	Pattern string
	Reason  string
}

func (e *PatternError) Error() string {
	return "invalid glob pattern '" + e.Pattern + "': " + e.Reason
}
