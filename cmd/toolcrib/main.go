// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// main.go - Entry point and one-shot command handlers for toolcrib.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/toolcrib/config"
	"github.com/jeranaias/toolcrib/sandbox"
)

func main() {
	// Parse CLI arguments
	cmd, args := Parse()

	// Route to appropriate handler
	switch cmd {
	case CmdList:
		if err := runList(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case CmdExec:
		ok, err := runExec(args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if !ok {
			// The failed Result was already printed; signal it to scripts.
			os.Exit(1)
		}
	case CmdConsole:
		if err := runConsole(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case CmdInit:
		if err := runInit(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case CmdVersion:
		PrintVersion()
	case CmdHelp:
		PrintUsage()
	case CmdUnknown:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", args.Subcommand)
		fmt.Fprintln(os.Stderr, "Run 'toolcrib help' for usage.")
		os.Exit(1)
	}
}

// =============================================================================
// REGISTRY CONSTRUCTION
// =============================================================================

// loadConfig resolves the effective configuration for this invocation:
// the configured (or --config) file with CLI overrides applied on top.
func loadConfig(args Args) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if args.ConfigPath != "" {
		cfg, err = config.LoadFromPath(args.ConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if args.Root != "" {
		cfg.Workspace.Root = args.Root
	}
	if args.Session != "" {
		cfg.Workspace.SessionID = args.Session
	}
	return cfg, nil
}

// buildLogger derives the CLI logger from the configured logging section.
// --verbose and --quiet override the configured level; zap writes to
// stderr either way, so --json payloads on stdout stay clean.
func buildLogger(cfg *config.Config, args Args) (*zap.Logger, error) {
	lc := cfg.Logging
	if args.Verbose {
		lc.Level = "debug"
	} else if args.Quiet {
		lc.Level = "error"
	}
	return lc.Build()
}

// buildRegistry constructs the registry for one invocation.
func buildRegistry(args Args) (*sandbox.Registry, *zap.Logger, error) {
	cfg, err := loadConfig(args)
	if err != nil {
		return nil, nil, err
	}
	logger, err := buildLogger(cfg, args)
	if err != nil {
		return nil, nil, err
	}
	reg, err := config.BuildRegistry(cfg, sandbox.WithLogger(logger))
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return reg, logger, nil
}

// =============================================================================
// LIST COMMAND
// =============================================================================

// runList prints the capability descriptors of every registered tool.
func runList(args Args) error {
	reg, logger, err := buildRegistry(args)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	descriptors := reg.Descriptors()

	if args.JSON {
		data, err := json.MarshalIndent(descriptors, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode descriptors: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("Workspace: %s\n", reg.Root())
	fmt.Printf("Tools (%d):\n\n", len(descriptors))
	for _, d := range descriptors {
		fmt.Printf("  %s", d.Name)
		if d.Version != "" {
			fmt.Printf(" (v%s)", d.Version)
		}
		fmt.Println()
		fmt.Printf("      %s\n", d.Description)

		names := make([]string, 0, len(d.Parameters.Properties))
		for name := range d.Parameters.Properties {
			names = append(names, name)
		}
		sort.Strings(names)
		required := make(map[string]bool, len(d.Parameters.Required))
		for _, name := range d.Parameters.Required {
			required[name] = true
		}
		for _, name := range names {
			prop := d.Parameters.Properties[name]
			marker := "optional"
			if required[name] {
				marker = "required"
			}
			fmt.Printf("      - %s (%s, %s)", name, prop.Type, marker)
			if prop.Default != nil {
				fmt.Printf(" default=%v", prop.Default)
			}
			if len(prop.Enum) > 0 {
				fmt.Printf(" one of %s", strings.Join(prop.Enum, "|"))
			}
			fmt.Println()
		}
		fmt.Println()
	}
	return nil
}

// =============================================================================
// EXEC COMMAND
// =============================================================================

// runExec dispatches one tool call and prints its result. The bool
// reports whether the call itself succeeded; err covers everything that
// went wrong before dispatch.
func runExec(args Args) (bool, error) {
	if args.Tool == "" {
		return false, fmt.Errorf("exec requires a tool name (run 'toolcrib list')")
	}
	params, err := buildParams(args)
	if err != nil {
		return false, err
	}

	reg, logger, err := buildRegistry(args)
	if err != nil {
		return false, err
	}
	defer func() { _ = logger.Sync() }()

	// Ctrl+C cancels the in-flight call through its context; the
	// outcome still arrives as a uniform failed Result.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	result := reg.Execute(ctx, sandbox.Call{
		Tool:   args.Tool,
		Params: params,
		Context: sandbox.CallContext{
			SessionID: args.Session,
			Timestamp: time.Now(),
		},
	})

	printResult(os.Stdout, result, args.JSON)
	return result.Success, nil
}

// buildParams assembles the call parameters from --params JSON plus any
// --param KEY=VALUE pairs, with pairs winning on key collision.
func buildParams(args Args) (map[string]interface{}, error) {
	params := make(map[string]interface{})

	if args.ParamsJSON != "" {
		if err := json.Unmarshal([]byte(args.ParamsJSON), &params); err != nil {
			return nil, fmt.Errorf("invalid --params JSON: %w", err)
		}
	}
	for _, pair := range args.ParamPairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q: expected KEY=VALUE", pair)
		}
		params[key] = coerceParamValue(value)
	}
	return params, nil
}

// coerceParamValue interprets a command-line value as JSON when it
// parses as JSON, so numbers, booleans and arrays survive the string
// boundary. A value that must stay a literal string can be quoted:
// -p flag='"true"'.
func coerceParamValue(raw string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

// =============================================================================
// INIT COMMAND
// =============================================================================

// runInit writes a starter config file to edit, at --config or the
// default location. An existing file is only replaced with --force.
func runInit(args Args) error {
	path := args.ConfigPath
	if path == "" {
		var err error
		path, err = config.ConfigPath()
		if err != nil {
			return err
		}
		if err := config.EnsureConfigDir(); err != nil {
			return err
		}
	}

	if _, err := os.Stat(path); err == nil && !args.Force {
		return fmt.Errorf("config already exists: %s (use --force to overwrite)", path)
	}

	cfg := config.Default()
	if args.Root != "" {
		cfg.Workspace.Root = args.Root
	}
	if args.Session != "" {
		cfg.Workspace.SessionID = args.Session
	}

	if err := config.SaveTOML(cfg, path); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

// =============================================================================
// RESULT OUTPUT
// =============================================================================

// printResult writes one uniform call outcome. JSON mode emits the full
// result envelope; human mode prints the payload or the failure reason.
func printResult(w io.Writer, result sandbox.Result, asJSON bool) {
	if asJSON {
		envelope := struct {
			sandbox.Result
			DurationMs int64 `json:"durationMs"`
		}{Result: result, DurationMs: result.Duration.Milliseconds()}
		data, err := json.MarshalIndent(envelope, "", "  ")
		if err != nil {
			fmt.Fprintf(w, "{\"success\":false,\"error\":%q}\n", err.Error())
			return
		}
		fmt.Fprintln(w, string(data))
		return
	}

	duration := result.Duration.Round(time.Millisecond)
	if result.Success {
		fmt.Fprintf(w, "ok (%s)\n", duration)
		if result.Output != "" {
			fmt.Fprintln(w, result.Output)
		}
		return
	}
	if kind := result.Kind(); kind != "" {
		fmt.Fprintf(w, "failed [%s] (%s): %s\n", kind, duration, result.Error)
		return
	}
	fmt.Fprintf(w, "failed (%s): %s\n", duration, result.Error)
}
