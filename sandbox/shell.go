// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sandbox

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jeranaias/toolcrib/internal/util"
)

// =============================================================================
// RUN SHELL TOOL
// =============================================================================

const (
	// defaultShellTimeout applies when the caller omits timeout.
	defaultShellTimeout = 30 * time.Second

	// minShellTimeout and maxShellTimeout clamp caller-supplied values.
	minShellTimeout = 1 * time.Second
	maxShellTimeout = 10 * time.Minute

	// defaultMaxShellOutput bounds combined stdout+stderr capture.
	defaultMaxShellOutput = 1024 * 1024 // 1MB
)

// RunShellTool executes a free-text command through the system shell.
// It is the one deliberately wide opening in the sandbox and is
// correspondingly the most screened: the command is validated against
// the policy before any process is spawned, runs with a sanitized
// environment inside the workspace, and is killed as a whole process
// group on timeout.
type RunShellTool struct {
	BaseTool
}

// DefaultShellPolicy enables shell execution behind the built-in
// forbidden-pattern screen, with network clients disabled.
func DefaultShellPolicy() SecurityPolicy {
	return SecurityPolicy{
		AllowShell:        true,
		AllowNetwork:      false,
		ForbiddenCommands: DefaultForbiddenCommandPatterns(),
	}
}

// NewRunShellTool builds the tool rooted at the workspace directory.
func NewRunShellTool(root string, policy SecurityPolicy) *RunShellTool {
	cfg := ToolConfig{
		Name:        "run_shell",
		Description: "Run a shell command inside the workspace and return its output. Commands are screened before execution and killed at the timeout.",
		Version:     "1.0.0",
		Schema: Schema{Parameters: []Parameter{
			{
				Name:        "command",
				Type:        "string",
				Required:    true,
				Description: "Command to execute",
			},
			{
				Name:        "timeout",
				Type:        "number",
				Description: "Timeout in milliseconds",
				Default:     30000,
			},
			{
				Name:        "workingDirectory",
				Type:        "string",
				Description: "Working directory, relative to the workspace root",
				Default:     ".",
			},
		}},
		Security: policy,
	}
	return &RunShellTool{newBaseTool(root, cfg)}
}

// Execute screens the command, runs it, and shapes the outcome.
func (t *RunShellTool) Execute(ctx context.Context, params map[string]interface{}) (Result, error) {
	command := getStringParam(params, "command", "")
	timeoutMs := getIntParam(params, "timeout", 30000)
	workDir := getStringParam(params, "workingDirectory", ".")

	// Everything below must refuse BEFORE a process exists.
	if err := t.cfg.Security.ValidateCommand(command); err != nil {
		return failFromError(err), nil
	}
	if containsBackgroundOperator(command) {
		return failFromError(&SecurityError{
			Kind:    CommandForbidden,
			Pattern: "&",
			Message: "background execution is not permitted",
		}), nil
	}
	if program, err := leadingProgram(normalizeCommand(command)); err == nil && interactivePrograms[program] {
		return failFromError(&SecurityError{
			Kind:    CommandForbidden,
			Pattern: program,
			Message: "interactive commands are not permitted (no terminal is attached)",
		}), nil
	}

	dir, err := t.resolvePath(workDir)
	if err != nil {
		return failFromError(err), nil
	}
	if info, statErr := os.Stat(dir); statErr != nil || !info.IsDir() {
		return Fail(FailExecution, "working directory not found: "+workDir), nil
	}

	timeout := clampTimeout(timeoutMs)
	outcome := runProcess(ctx, processSpec{
		Shell:     command,
		Dir:       dir,
		Timeout:   timeout,
		MaxOutput: defaultMaxShellOutput,
	})
	return shapeProcessOutcome(outcome, timeout, defaultMaxShellOutput), nil
}

// clampTimeout converts a millisecond parameter into the allowed range.
func clampTimeout(timeoutMs int) time.Duration {
	timeout := time.Duration(timeoutMs) * time.Millisecond
	if timeout < minShellTimeout {
		return minShellTimeout
	}
	if timeout > maxShellTimeout {
		return maxShellTimeout
	}
	return timeout
}

// shapeProcessOutcome turns a raw subprocess outcome into the uniform
// Result. Failure ordering matters: output overflow was the cause of the
// kill when both overflow and deadline fired.
func shapeProcessOutcome(outcome processOutcome, timeout time.Duration, maxOutput int) Result {
	switch {
	case outcome.StartErr != nil:
		return Fail(FailExecution, "failed to start command: "+outcome.StartErr.Error())

	case outcome.Overflow:
		return FailWithMetadata(FailResourceLimit,
			"command output exceeded the limit of "+util.FormatBytes(int64(maxOutput)),
			map[string]any{"maxOutput": maxOutput})

	case outcome.TimedOut:
		return FailWithMetadata(FailTimeout,
			"command timed out after "+formatDuration(timeout),
			map[string]any{"timeoutMs": timeout.Milliseconds()})

	case outcome.Cancelled:
		return Fail(FailExecution, "command cancelled")

	case outcome.ExitCode != 0:
		return FailWithMetadata(FailExecution,
			fmt.Sprintf("command exited with code %d", outcome.ExitCode),
			map[string]any{
				"exitCode": outcome.ExitCode,
				"stderr":   util.ClipBytes(outcome.Stderr, 2048),
				"stdout":   util.ClipBytes(outcome.Stdout, 2048),
			})

	default:
		return SucceedWithMetadata(combineOutput(outcome.Stdout, outcome.Stderr),
			map[string]any{
				"exitCode":   0,
				"durationMs": outcome.Duration.Milliseconds(),
			})
	}
}

// =============================================================================
// STRUCTURAL COMMAND CHECKS
// =============================================================================

// interactivePrograms need a terminal and would hang a headless call.
var interactivePrograms = map[string]bool{
	"vim": true, "vi": true, "nano": true, "emacs": true, "pico": true,
	"less": true, "more": true,
	"top": true, "htop": true, "btop": true,
	"mysql": true, "psql": true, "sqlite3": true,
	"irb": true, "ghci": true,
}

// containsBackgroundOperator detects a standalone & outside quotes.
// && chaining is fine; "cmd &" would outlive the call.
func containsBackgroundOperator(command string) bool {
	chars := []rune(command)
	inSingleQuote := false
	inDoubleQuote := false

	for i := 0; i < len(chars); i++ {
		c := chars[i]

		// Track quote state
		if c == '\'' && !inDoubleQuote {
			inSingleQuote = !inSingleQuote
			continue
		}
		if c == '"' && !inSingleQuote {
			inDoubleQuote = !inDoubleQuote
			continue
		}
		if inSingleQuote || inDoubleQuote {
			continue
		}

		if c == '&' {
			var prev, next rune
			if i > 0 {
				prev = chars[i-1]
			}
			if i < len(chars)-1 {
				next = chars[i+1]
			}
			// Part of && command chaining
			if prev == '&' || next == '&' {
				continue
			}
			return true
		}
	}
	return false
}

// =============================================================================
// DEFAULT FORBIDDEN PATTERNS
// =============================================================================

// DefaultForbiddenCommandPatterns returns the built-in deny list for
// shell execution: regular expressions covering destructive file
// operations, disk and kernel access, fork bombs, remote code execution,
// command substitution, reverse shells, environment manipulation,
// credential access, and system control. The list is a fresh copy;
// callers may extend it without affecting other policies.
func DefaultForbiddenCommandPatterns() []string {
	return append([]string(nil), defaultForbiddenCommandPatterns...)
}

var defaultForbiddenCommandPatterns = []string{
	// ==========================================================================
	// DESTRUCTIVE FILE OPERATIONS
	// ==========================================================================
	`(?i)\brm\s+(-\S+\s+)*(/\s*$|/\*|/\s|~/?(\s|$|\*)|\$HOME)`,
	`(?i)\brm\s+.*--no-preserve-root`,
	`(?i)\brm\s+-\S*r\S*\s+\.\.?(\s|$)`,
	`(?i)[|;&]{1,2}\s*rm\s+-\S*r`,
	`(?i)\bchmod\s+(-R\s+)?(777|000)\s+/`,
	`(?i)\bchown\s+-R\b.*\s/(\s|$)`,
	`(?i)\bchattr\b`,

	// ==========================================================================
	// DISK, DEVICE, AND KERNEL OPERATIONS
	// ==========================================================================
	`(?i)\bdd\s+.*\bof=/dev/`,
	`(?i)\b(mkfs|mke2fs|mkswap|wipefs|shred|badblocks|fdisk|gdisk|parted|cfdisk|sfdisk)\b`,
	`(?i)>\s*/dev/(sd|nvme|hd|vd)`,
	`(?i)\b(insmod|rmmod)\b`,
	`(?i)\bmodprobe\s+-r\b`,
	`(?i)\bsysctl\s+-w\b`,

	// ==========================================================================
	// FORK BOMBS AND RESOURCE EXHAUSTION
	// ==========================================================================
	`\(\)\s*\{.*\|.*&.*\}\s*;`,
	`(?i)\bwhile\s+(true|:)\s*;\s*do\b`,
	`(?i)\byes\s*\|`,

	// ==========================================================================
	// REMOTE CODE EXECUTION
	// ==========================================================================
	`(?i)\b(curl|wget)\b[^|;&]*\|\s*(ba|z|da)?sh\b`,
	`(?i)\b(curl|wget)\b[^|;&]*\|\s*python3?\b`,
	`(?i)\b(ba|z|da)?sh\s+<\(\s*(curl|wget)\b`,
	`(?i)\bbase64\s+(-d|--decode)\b[^|]*\|`,
	`(?i)\bxxd\s+-r\b[^|]*\|`,
	`(?i)\|\s*(ba|z|da)?sh(\s|$)`,
	`(?i)\|\s*eval\b`,

	// ==========================================================================
	// COMMAND SUBSTITUTION AND WRAPPED SHELLS
	// ==========================================================================
	"`",
	`\$\(`,
	`(?i)\b(ba|z|da)?sh\s+-[a-z]*c\b`,
	`(?i)(^|[;&|]\s*)eval\b`,
	`(?i)(^|[;&|]\s*)source\s`,
	`(?i)[;&]\s*exec\s`,

	// ==========================================================================
	// REVERSE SHELLS AND EXFILTRATION
	// ==========================================================================
	`/dev/(tcp|udp)/`,
	`(?i)\b(mkfifo|mknod)\b`,
	`(?i)\bnc\b.*\s-\S*[ec]\b`,
	`(?i)\bpython3?\s+-c\b.*\bimport\s+socket`,
	`(?i)\bperl\s+-e\b.*\buse\s+Socket`,
	`(?i)\bruby\s+-rsocket`,

	// ==========================================================================
	// ENVIRONMENT MANIPULATION
	// ==========================================================================
	`(?i)(^|\s)(export\s+)?(PATH|LD_PRELOAD|LD_LIBRARY_PATH|DYLD_INSERT_LIBRARIES|BASH_ENV|IFS)=`,

	// ==========================================================================
	// CREDENTIAL AND SENSITIVE FILE ACCESS
	// ==========================================================================
	`(?i)/etc/(shadow|sudoers|gshadow)`,
	`(?i)\b(cat|less|more|head|tail|cp|mv)\s+/etc/passwd`,
	`(?i)\.ssh/(id_[a-z0-9]+|authorized_keys)`,
	`(?i)\.aws/credentials`,
	`(?i)\.kube/config`,
	`(?i)\.gnupg/`,
	`(?i)\b(visudo|useradd|userdel|usermod)\b`,
	`(?i)\bcrontab\s+-r\b`,

	// ==========================================================================
	// HISTORY AND LOG TAMPERING
	// ==========================================================================
	`(?i)\bhistory\s+-c\b`,
	`(?i)\b(rm|shred|truncate)\b.*\.(bash|zsh)_history`,
	`(?i)>\s*~/\.(bash|zsh)_history`,
	`(?i)\b(rm|truncate)\b.*/var/log`,

	// ==========================================================================
	// SYSTEM AND NETWORK CONTROL
	// ==========================================================================
	`(?i)\b(shutdown|poweroff|reboot|halt)\b`,
	`(?i)\binit\s+[06]\b`,
	`(?i)\bsystemctl\s+(poweroff|reboot|halt)\b`,
	`(?i)\biptables\s+(-F|--flush)`,
	`(?i)\bufw\s+disable\b`,
	`(?i)\bkill\s+-9\s+-1\b`,

	// ==========================================================================
	// WINDOWS DESTRUCTIVE COMMANDS
	// ==========================================================================
	`(?i)\bformat\s+[a-z]:`,
	`(?i)\bdel\s+/f\s+/s\s+/q\s+[a-z]:`,
	`(?i)\brd\s+/s\s+/q\s+[a-z]:`,
	`(?i)\b(diskpart|bcdedit|bootrec)\b`,
	`(?i)\breg\s+(add|delete|import)\b`,
	`(?i)\bschtasks\s+/create\b`,
}
