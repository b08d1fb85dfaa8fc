// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Command toolcrib is the reference host for the sandbox package.

# Overview

toolcrib loads a policy configuration, builds a tool registry scoped to
one workspace root, and exposes the registered tools three ways: a
descriptor listing for discovery (list), one-shot execution for scripts
(exec), and an interactive console for exploration (console). Every
call prints the same uniform result an embedding orchestrator would
receive.

# Building

Build the binary:

	go build -o toolcrib ./cmd/toolcrib

Or build with version information:

	go build -ldflags "-X main.Version=0.1.0" -o toolcrib ./cmd/toolcrib

# Commands

	toolcrib                       Interactive console (default)
	toolcrib console               Interactive console
	toolcrib list                  List registered tools and parameters
	toolcrib exec <tool> [opts]    Execute a single tool call
	toolcrib init [--force]        Write a starter config file
	toolcrib version               Show version
	toolcrib help                  Show help

# Usage Examples

List the registered tools as JSON:

	toolcrib list --json

Write and read a file inside the workspace:

	toolcrib exec write_file -p path=notes/plan.txt -p content="first draft"
	toolcrib exec read_file -p path=notes/plan.txt

Run a shell command with a JSON parameter object:

	toolcrib exec run_shell --params '{"command":"ls -la","timeout":10}'

# Configuration

The effective policy comes from ~/.toolcrib/config.toml (or --config
PATH), then TOOLCRIB_* environment overrides, then CLI flags. --root
swaps the workspace root for a single invocation without touching the
file.

# Architecture

The binary consists of three main components:

  - main.go: Entry point, registry construction, list and exec handlers
  - cli.go: Argument parsing and usage text
  - console.go: Interactive console with line editing and history

# Dependencies

  - github.com/peterh/liner - console line editing and history
  - golang.org/x/term - terminal detection
  - github.com/mattn/go-shellwords - quote-aware console tokenization
  - go.uber.org/zap - structured dispatch logging
*/
package main
