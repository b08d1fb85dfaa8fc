// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sandbox

import (
	"context"
	"path/filepath"
	"time"
)

// =============================================================================
// TOOL CONTRACT
// =============================================================================

// Tool is the contract every sandboxed operation implements. Execute is
// where all side effects happen; it reports expected failures through the
// Result and reserves the error return for unexpected internal faults,
// which the registry folds into a failure Result. Implementations must be
// safe for concurrent use.
type Tool interface {
	// Name returns the unique registry name of the tool.
	Name() string

	// Config returns the immutable configuration of the tool.
	Config() ToolConfig

	// Execute performs the operation with already schema-validated
	// parameters.
	Execute(ctx context.Context, params map[string]interface{}) (Result, error)
}

// ToolConfig is the immutable identity and constraint set of a tool,
// fixed at construction.
type ToolConfig struct {
	// Name uniquely identifies the tool within a registry.
	Name string

	// Description explains the tool to the orchestrator.
	Description string

	// Version of the tool implementation.
	Version string

	// Schema declares the accepted parameters.
	Schema Schema

	// Security constrains what the tool may touch.
	Security SecurityPolicy
}

// =============================================================================
// BASE TOOL
// =============================================================================

// BaseTool carries the pieces every built-in tool shares: the immutable
// config and the workspace root all paths are confined to.
type BaseTool struct {
	cfg  ToolConfig
	root string
}

func newBaseTool(root string, cfg ToolConfig) BaseTool {
	return BaseTool{cfg: cfg, root: root}
}

// Name returns the tool's registry name.
func (b *BaseTool) Name() string { return b.cfg.Name }

// Config returns the tool's configuration.
func (b *BaseTool) Config() ToolConfig { return b.cfg }

// Root returns the workspace root the tool is confined to.
func (b *BaseTool) Root() string { return b.root }

// resolvePath validates candidate against the tool's policy and returns
// the resolved absolute path inside the workspace root.
func (b *BaseTool) resolvePath(candidate string) (string, error) {
	return b.cfg.Security.ValidatePath(b.root, candidate)
}

// displayPath renders a resolved path workspace-relative for output.
func (b *BaseTool) displayPath(resolved string) string {
	if rel, err := filepath.Rel(b.root, resolved); err == nil {
		return filepath.ToSlash(rel)
	}
	return resolved
}

// =============================================================================
// CALLS
// =============================================================================

// Call is one invocation request against a registry.
type Call struct {
	// Tool names the registered tool to execute.
	Tool string

	// Params carries the (untrusted) call arguments.
	Params map[string]interface{}

	// Context is optional caller-side context for logs and stats.
	Context CallContext
}

// CallContext carries optional orchestrator-side context. The workspace
// root is fixed per registry and deliberately absent here.
type CallContext struct {
	// CurrentFile is the file the orchestrator is focused on, if any.
	CurrentFile string

	// SessionID groups calls belonging to one conversation.
	SessionID string

	// Timestamp of the invocation; zero means "now".
	Timestamp time.Time
}
