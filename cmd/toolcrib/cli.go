// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - CLI parsing for the toolcrib host binary.
package main

import (
	"fmt"
	"os"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdConsole Command = iota
	CmdList
	CmdExec
	CmdInit
	CmdVersion
	CmdHelp
	CmdUnknown
)

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	ConfigPath string
	Root       string
	Session    string
	Quiet      bool
	Verbose    bool
	JSON       bool

	// Exec-specific. Parameters stay raw strings here; the exec handler
	// decodes them so parse stays lenient and errors carry context.
	Tool       string
	ParamPairs []string
	ParamsJSON string

	// Init-specific
	Force bool

	// Subcommand is the raw command word, kept for error reporting.
	Subcommand string

	// Raw args (remaining after flag parsing)
	Raw []string
}

const usageText = `toolcrib - capability-scoped tool execution sandbox

Toolcrib runs file and command tools inside one workspace root. Every
call is checked against a per-tool security policy before it touches
the filesystem or spawns a process, and every outcome comes back as a
uniform result.

Usage:
  toolcrib                         Interactive console (default)
  toolcrib console                 Interactive console
  toolcrib list                    List registered tools and parameters
  toolcrib exec <tool> [options]   Execute a single tool call
  toolcrib init [--force]          Write a starter config file
  toolcrib version                 Show version
  toolcrib help                    Show this help

Exec Options:
  -p, --param KEY=VALUE   Set one call parameter (repeatable)
      --params JSON       Set all call parameters from a JSON object

  Values given with --param are decoded as JSON when they parse as
  JSON, so numbers and booleans keep their types; anything else stays
  a string.

Console Commands (during a session):
  <tool> key=value ...    Execute a tool call
  <tool> {"key": ...}     Execute a tool call with JSON parameters
  /tools, /t              List registered tools
  /stats, /s              Show session statistics
  /help, /h               Show console help
  /quit, /q               Exit (Ctrl+D also exits)
  Ctrl+C                  Cancel the call in flight

Global Flags:
  --config PATH    Load configuration from PATH (default: ~/.toolcrib/config.toml)
  --root DIR       Override the workspace root
  --session ID     Session identifier for stats and logs
  -q, --quiet      Errors only
  -v, --verbose    Debug logging for every dispatch
  --json           Output results and listings as JSON

Examples:
  # Discovery
  toolcrib list
  toolcrib list --json

  # One-shot calls
  toolcrib exec write_file -p path=notes/plan.txt -p content="first draft"
  toolcrib exec read_file -p path=notes/plan.txt
  toolcrib exec search_files -p pattern='*.go' -p maxResults=50
  toolcrib exec run_shell --params '{"command":"ls -la","timeout":10}'
  toolcrib exec git -p subcommand=status

  # Scoped to another workspace
  toolcrib --root ~/src/project exec read_file -p path=README.md

  # First-time setup
  toolcrib init
  toolcrib --config ./toolcrib.toml init --force

  # Interactive session
  toolcrib console

Version: %s
`

// PrintUsage prints the usage/help text.
func PrintUsage() {
	fmt.Printf(usageText, Version)
}

// PrintVersion prints version information.
func PrintVersion() {
	fmt.Printf("toolcrib version %s\n", Version)
	fmt.Printf("  Git commit: %s\n", GitCommit)
	fmt.Printf("  Build date: %s\n", BuildDate)
}

// Parse parses command-line arguments and returns the command and args.
func Parse() (Command, Args) {
	args := os.Args[1:]

	// Parse global flags first
	remaining, parsedArgs := parseGlobalFlags(args)

	// No command defaults to the interactive console
	if len(remaining) == 0 {
		return CmdConsole, parsedArgs
	}

	cmd := strings.ToLower(remaining[0])
	remaining = remaining[1:]
	parsedArgs.Subcommand = cmd
	parsedArgs.Raw = remaining

	switch cmd {
	case "console", "repl":
		return CmdConsole, parsedArgs

	case "list", "ls", "tools":
		return CmdList, parsedArgs

	case "exec", "run", "call":
		parseExecArgs(&parsedArgs, remaining)
		return CmdExec, parsedArgs

	case "init", "setup":
		parseInitArgs(&parsedArgs, remaining)
		return CmdInit, parsedArgs

	case "version", "--version":
		return CmdVersion, parsedArgs

	case "help", "-h", "--help":
		return CmdHelp, parsedArgs

	default:
		return CmdUnknown, parsedArgs
	}
}

// parseGlobalFlags extracts global flags from args and returns remaining args.
func parseGlobalFlags(args []string) ([]string, Args) {
	var remaining []string
	var parsedArgs Args

	i := 0
	for i < len(args) {
		arg := args[i]

		switch arg {
		case "-q", "--quiet":
			parsedArgs.Quiet = true
		case "-v", "--verbose":
			parsedArgs.Verbose = true
		case "--json":
			parsedArgs.JSON = true
		case "--config":
			if i+1 < len(args) {
				i++
				parsedArgs.ConfigPath = args[i]
			}
		case "--root":
			if i+1 < len(args) {
				i++
				parsedArgs.Root = args[i]
			}
		case "--session":
			if i+1 < len(args) {
				i++
				parsedArgs.Session = args[i]
			}
		default:
			// Check for --flag=value format
			switch {
			case strings.HasPrefix(arg, "--config="):
				parsedArgs.ConfigPath = strings.TrimPrefix(arg, "--config=")
			case strings.HasPrefix(arg, "--root="):
				parsedArgs.Root = strings.TrimPrefix(arg, "--root=")
			case strings.HasPrefix(arg, "--session="):
				parsedArgs.Session = strings.TrimPrefix(arg, "--session=")
			default:
				remaining = append(remaining, arg)
			}
		}
		i++
	}

	return remaining, parsedArgs
}

// parseInitArgs parses init command specific arguments.
func parseInitArgs(args *Args, remaining []string) {
	for _, arg := range remaining {
		if arg == "-f" || arg == "--force" {
			args.Force = true
		}
	}
}

// parseExecArgs parses exec command specific arguments. The first
// positional argument is the tool name.
func parseExecArgs(args *Args, remaining []string) {
	i := 0
	for i < len(remaining) {
		arg := remaining[i]

		switch arg {
		case "-p", "--param":
			if i+1 < len(remaining) {
				i++
				args.ParamPairs = append(args.ParamPairs, remaining[i])
			}
		case "--params":
			if i+1 < len(remaining) {
				i++
				args.ParamsJSON = remaining[i]
			}
		default:
			switch {
			case strings.HasPrefix(arg, "--param="):
				args.ParamPairs = append(args.ParamPairs, strings.TrimPrefix(arg, "--param="))
			case strings.HasPrefix(arg, "--params="):
				args.ParamsJSON = strings.TrimPrefix(arg, "--params=")
			case args.Tool == "" && !strings.HasPrefix(arg, "-"):
				args.Tool = arg
			}
		}
		i++
	}
}
