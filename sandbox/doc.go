// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sandbox provides a capability-scoped tool execution sandbox.
//
// An embedding host constructs a Registry rooted at a workspace directory,
// registers tools with explicit security policies, and dispatches untrusted
// (typically LLM-generated) calls through Registry.Execute. Every call
// returns a uniform Result; no error or panic crosses the registry
// boundary.
//
// # Key Types
//
//   - Registry: named tool lookup, dispatch, and execution statistics
//   - Tool: the contract every tool implements
//   - ToolConfig: immutable name, schema, and security policy of a tool
//   - SecurityPolicy: path, extension, directory, and command constraints
//   - Result: uniform execution result (success, output, error, metadata)
//
// # Built-in Tools
//
// File Tools:
//   - WriteFile: create or overwrite a file inside the workspace
//   - ReadFile: read a file with a hard size bound
//   - SearchFiles: bounded glob search with optional content previews
//
// Process Tools:
//   - RunShell: opt-in free-text shell execution with pattern screening
//   - Git: enumerated git subcommands executed as an argument vector,
//     never through a shell
//
// # Security
//
// Every filesystem path is resolved inside the workspace root with
// symlink-safe joining; escapes are refused, not clamped. Extension,
// directory, and command checks apply deny lists before allow lists, so a
// deny match always wins. Shell commands are screened before any process
// is spawned, run with a sanitized environment, and are killed as a whole
// process group when they exceed their deadline.
package sandbox
