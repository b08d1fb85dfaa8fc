// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// console.go - Interactive console for toolcrib.
//
// The console is a REPL over one registry instance: each line is a tool
// call, results print in the same uniform shape as exec, and the
// session summary shows the registry's aggregate stats on exit.
//
// Command: console
//
// Interactive Commands (during a session):
//   <tool> key=value ...  Execute a tool call
//   <tool> {"key": ...}   Execute a tool call with JSON parameters
//   /tools, /t            List registered tools
//   /stats, /s            Show session statistics
//   /help, /h             Show available commands
//   /quit, /q             Exit the console
//   Ctrl+C                Cancel the call in flight
//   Ctrl+D                Exit the console
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	shellwords "github.com/mattn/go-shellwords"
	"github.com/peterh/liner"
	"golang.org/x/term"

	"github.com/jeranaias/toolcrib/config"
	"github.com/jeranaias/toolcrib/sandbox"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// consoleInput provides input history and line editing for the console.
// Supports arrow keys for history navigation.
type consoleInput struct {
	line        *liner.State
	historyFile string
}

// newConsoleInput creates a consoleInput with input history support.
func newConsoleInput() *consoleInput {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	// Keep history next to the config file
	configDir, err := config.ConfigDir()
	if err != nil {
		// Fallback to temp directory if config dir unavailable
		configDir = os.TempDir()
	}
	historyFile := filepath.Join(configDir, "console_history")

	in := &consoleInput{
		line:        line,
		historyFile: historyFile,
	}
	in.loadHistory()
	return in
}

// loadHistory loads command history from file.
func (c *consoleInput) loadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// readInput reads a line of input with the given prompt.
func (c *consoleInput) readInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}

	// Add non-empty input to history
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// saveHistory persists command history with owner-only permissions.
func (c *consoleInput) saveHistory() {
	if err := config.EnsureConfigDir(); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()

	c.line.WriteHistory(f)
}

// close saves history and closes the liner.
func (c *consoleInput) close() {
	c.saveHistory()
	c.line.Close()
}

// =============================================================================
// SESSION STATE
// =============================================================================

// consoleSession holds the state for one interactive console.
type consoleSession struct {
	registry *sandbox.Registry
	input    *consoleInput
	json     bool
	started  time.Time

	// Cancel function for the call in flight
	cancelMu   sync.Mutex
	cancelCall context.CancelFunc
}

// cancelInFlight cancels the current call, if any.
func (s *consoleSession) cancelInFlight() {
	s.cancelMu.Lock()
	cancel := s.cancelCall
	s.cancelMu.Unlock()
	if cancel != nil {
		cancel()
		fmt.Fprintln(os.Stderr, "\n[cancelled]")
	}
}

// =============================================================================
// CONSOLE HANDLER
// =============================================================================

// runConsole starts the interactive console against a fresh registry.
func runConsole(args Args) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("stdin is not a terminal; use 'toolcrib exec' for one-shot calls")
	}

	reg, logger, err := buildRegistry(args)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	session := &consoleSession{
		registry: reg,
		input:    newConsoleInput(),
		json:     args.JSON,
		started:  time.Now(),
	}

	// Ensure input history is saved on exit
	defer session.input.close()

	if !args.Quiet {
		session.printWelcome()
	}

	// Ctrl+C during a call cancels that call; at the prompt, liner
	// reports it as ErrPromptAborted instead.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			session.cancelInFlight()
		}
	}()

	// Main REPL loop
	for {
		input, err := session.input.readInput("toolcrib> ")
		if err != nil {
			if err == liner.ErrPromptAborted {
				// Ctrl+C at the prompt - exit gracefully
				fmt.Println()
				session.printExitSummary()
				return nil
			}
			// EOF (Ctrl+D) or other error - exit gracefully
			fmt.Println()
			session.printExitSummary()
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		// Handle slash commands
		if strings.HasPrefix(input, "/") {
			if !session.handleSlashCommand(input) {
				session.printExitSummary()
				return nil
			}
			continue
		}

		// Handle exit/quit without slash
		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			session.printExitSummary()
			return nil
		}

		session.executeLine(input)
	}
}

// =============================================================================
// CALL EXECUTION
// =============================================================================

// executeLine parses one console line as "<tool> params" and dispatches it.
func (s *consoleSession) executeLine(input string) {
	tool, rest, _ := strings.Cut(input, " ")
	rest = strings.TrimSpace(rest)

	if !s.registry.HasTool(tool) {
		fmt.Fprintf(os.Stderr, "unknown tool: %s (type /tools for the list)\n", tool)
		return
	}

	params, err := parseConsoleParams(rest)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad parameters: %v\n", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelMu.Lock()
	s.cancelCall = cancel
	s.cancelMu.Unlock()
	defer func() {
		s.cancelMu.Lock()
		s.cancelCall = nil
		s.cancelMu.Unlock()
		cancel()
	}()

	result := s.registry.Execute(ctx, sandbox.Call{
		Tool:   tool,
		Params: params,
		Context: sandbox.CallContext{
			SessionID: s.registry.SessionID(),
			Timestamp: time.Now(),
		},
	})
	printResult(os.Stdout, result, s.json)
}

// parseConsoleParams decodes the remainder of a console line. A leading
// brace means one JSON object; anything else is quote-aware KEY=VALUE
// tokens.
func parseConsoleParams(rest string) (map[string]interface{}, error) {
	params := make(map[string]interface{})
	if rest == "" {
		return params, nil
	}

	if strings.HasPrefix(rest, "{") {
		if err := json.Unmarshal([]byte(rest), &params); err != nil {
			return nil, fmt.Errorf("invalid JSON object: %w", err)
		}
		return params, nil
	}

	tokens, err := shellwords.Parse(rest)
	if err != nil {
		return nil, err
	}
	for _, token := range tokens {
		key, value, ok := strings.Cut(token, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected KEY=VALUE, got %q", token)
		}
		params[key] = coerceParamValue(value)
	}
	return params, nil
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleSlashCommand processes console slash commands. It returns false
// when the session should end.
func (s *consoleSession) handleSlashCommand(cmd string) bool {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return true
	}

	switch strings.ToLower(parts[0]) {
	case "/help", "/h", "/?":
		s.printHelp()
		return true

	case "/tools", "/t", "/list":
		s.printTools()
		return true

	case "/stats", "/s":
		s.printStats()
		return true

	case "/quit", "/q", "/exit":
		return false

	case "/":
		// Just "/" shows help
		s.printHelp()
		return true

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (type /help for commands)\n", parts[0])
		return true
	}
}

// =============================================================================
// DISPLAY FUNCTIONS
// =============================================================================

// printWelcome prints the session banner.
func (s *consoleSession) printWelcome() {
	fmt.Println()
	fmt.Println("toolcrib interactive console")
	fmt.Println(strings.Repeat("─", 30))
	fmt.Printf("Workspace: %s\n", s.registry.Root())
	fmt.Printf("Session:   %s\n", s.registry.SessionID())
	fmt.Printf("Tools:     %s\n", strings.Join(s.registry.ToolNames(), ", "))
	fmt.Println()
	fmt.Println("Call a tool with '<tool> key=value ...' or '<tool> {\"key\": ...}'.")
	fmt.Println("Commands: /tools, /stats, /help, /quit")
	fmt.Println()
}

// printHelp prints available commands.
func (s *consoleSession) printHelp() {
	fmt.Println()
	fmt.Println("Console Commands")
	fmt.Println(strings.Repeat("─", 20))
	fmt.Println()

	commands := []struct {
		cmd  string
		desc string
	}{
		{"<tool> key=value ...", "Execute a tool call"},
		{"<tool> {\"key\": ...}", "Execute a tool call with JSON parameters"},
		{"/tools, /t", "List registered tools"},
		{"/stats, /s", "Show session statistics"},
		{"/help, /h", "Show this help"},
		{"/quit, /q", "Exit the console"},
	}
	for _, c := range commands {
		fmt.Printf("  %-24s %s\n", c.cmd, c.desc)
	}

	fmt.Println()
	fmt.Println("Tip: Ctrl+C cancels the call in flight, Ctrl+D exits")
	fmt.Println()
}

// printTools lists the registered tools with their required parameters.
func (s *consoleSession) printTools() {
	fmt.Println()
	for _, d := range s.registry.Descriptors() {
		fmt.Printf("  %-14s %s\n", d.Name, d.Description)
		if len(d.Parameters.Required) > 0 {
			fmt.Printf("  %-14s required: %s\n", "", strings.Join(d.Parameters.Required, ", "))
		}
	}
	fmt.Println()
}

// printStats prints session statistics.
func (s *consoleSession) printStats() {
	summary := s.registry.Summary()
	elapsed := time.Since(s.started).Round(time.Second)

	fmt.Println()
	fmt.Println("Session Statistics")
	fmt.Println(strings.Repeat("─", 20))
	fmt.Printf("  Duration: %s\n", elapsed)
	fmt.Printf("  Calls:    %d (%d ok, %d failed)\n",
		summary.TotalExecutions, summary.Successful, summary.Failed)
	if summary.TotalExecutions > 0 {
		fmt.Printf("  Avg time: %s\n", summary.AvgDuration.Round(time.Millisecond))
	}
	for _, name := range s.registry.ToolNames() {
		ts, ok := summary.PerTool[name]
		if !ok {
			continue
		}
		fmt.Printf("    %-14s %d calls, %d ok, %d failed, avg %s\n",
			name, ts.Count, ts.Successful, ts.Failed, ts.AvgDuration.Round(time.Millisecond))
	}
	fmt.Println()
}

// printExitSummary prints the session summary on exit.
func (s *consoleSession) printExitSummary() {
	summary := s.registry.Summary()

	// Skip if no calls were made
	if summary.TotalExecutions == 0 {
		fmt.Println("Goodbye!")
		return
	}

	elapsed := time.Since(s.started).Round(time.Second)

	fmt.Println()
	fmt.Println("Session Summary")
	fmt.Println(strings.Repeat("─", 15))
	fmt.Printf("  Calls:    %d (%d ok, %d failed)\n",
		summary.TotalExecutions, summary.Successful, summary.Failed)
	fmt.Printf("  Duration: %s\n", elapsed)
	fmt.Println()
	fmt.Println("Goodbye!")
}
