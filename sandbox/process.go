// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// SUBPROCESS RUNNER
// =============================================================================

// sandboxModeEnv is pinned into every subprocess environment so spawned
// programs can tell they run under the sandbox.
const sandboxModeEnv = "TOOLCRIB_SANDBOX=1"

// processSpec describes one subprocess run. Argv runs the program
// directly without any shell; Shell runs a free-text command through
// bash -c (cmd /C on Windows). Exactly one of the two is set.
type processSpec struct {
	Argv      []string
	Shell     string
	Dir       string
	Timeout   time.Duration
	MaxOutput int
}

// processOutcome is the raw outcome of a subprocess run, before a tool
// shapes it into a Result.
type processOutcome struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	TimedOut  bool
	Overflow  bool
	Cancelled bool
	Duration  time.Duration
	StartErr  error
}

// runProcess executes one subprocess run with a sanitized environment
// and a hard deadline. On deadline or output overflow the whole process
// group is killed, so no grandchild survives the call.
func runProcess(ctx context.Context, spec processSpec) processOutcome {
	start := time.Now()

	cmdCtx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	var cmd *exec.Cmd
	switch {
	case len(spec.Argv) > 0:
		cmd = exec.CommandContext(cmdCtx, spec.Argv[0], spec.Argv[1:]...)
	case runtime.GOOS == "windows":
		cmd = exec.CommandContext(cmdCtx, "cmd", "/C", spec.Shell)
	default:
		cmd = exec.CommandContext(cmdCtx, "bash", "-c", spec.Shell)
	}

	if spec.Dir != "" {
		cmd.Dir = spec.Dir
	}
	cmd.Env = append(sanitizeEnvironment(), sandboxModeEnv)

	output := newBoundedOutput(spec.MaxOutput, cancel)
	cmd.Stdout = output.stdoutWriter()
	cmd.Stderr = output.stderrWriter()

	// Kill the whole process group on cancellation, not just the direct
	// child. A process that ignores the kill cannot stall the call past
	// WaitDelay.
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcess(cmd) }
	cmd.WaitDelay = 5 * time.Second

	err := cmd.Run()
	outcome := processOutcome{
		Stdout:   output.stdoutString(),
		Stderr:   output.stderrString(),
		Duration: time.Since(start),
		ExitCode: -1,
	}
	if cmd.ProcessState != nil {
		outcome.ExitCode = cmd.ProcessState.ExitCode()
	}

	switch {
	case output.exceeded():
		outcome.Overflow = true
	case cmdCtx.Err() == context.DeadlineExceeded:
		outcome.TimedOut = true
	case ctx.Err() == context.Canceled:
		outcome.Cancelled = true
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			outcome.ExitCode = exitErr.ExitCode()
		} else if !outcome.Overflow && !outcome.TimedOut && !outcome.Cancelled {
			outcome.StartErr = err
		}
	}
	return outcome
}

// =============================================================================
// BOUNDED OUTPUT
// =============================================================================

// boundedOutput captures stdout and stderr against one shared byte
// budget. The first write past the budget trips the overflow flag and
// cancels the subprocess; later writes are swallowed so the pipes keep
// draining while the kill lands.
type boundedOutput struct {
	mu        sync.Mutex
	remaining int
	over      bool
	cancel    context.CancelFunc
	stdout    bytes.Buffer
	stderr    bytes.Buffer
}

func newBoundedOutput(limit int, cancel context.CancelFunc) *boundedOutput {
	return &boundedOutput{remaining: limit, cancel: cancel}
}

type boundedStream struct {
	out *boundedOutput
	buf *bytes.Buffer
}

func (o *boundedOutput) stdoutWriter() *boundedStream { return &boundedStream{o, &o.stdout} }
func (o *boundedOutput) stderrWriter() *boundedStream { return &boundedStream{o, &o.stderr} }

func (s *boundedStream) Write(p []byte) (int, error) {
	o := s.out
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.over {
		return len(p), nil
	}
	if len(p) > o.remaining {
		s.buf.Write(p[:o.remaining])
		o.remaining = 0
		o.over = true
		if o.cancel != nil {
			o.cancel()
		}
		return len(p), nil
	}
	s.buf.Write(p)
	o.remaining -= len(p)
	return len(p), nil
}

func (o *boundedOutput) exceeded() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.over
}

func (o *boundedOutput) stdoutString() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stdout.String()
}

func (o *boundedOutput) stderrString() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stderr.String()
}

// combineOutput merges captured streams into one payload.
func combineOutput(stdout, stderr string) string {
	out := strings.TrimRight(stdout, "\n")
	errOut := strings.TrimRight(stderr, "\n")
	switch {
	case out == "" && errOut == "":
		return "(no output)"
	case errOut == "":
		return out
	case out == "":
		return "STDERR:\n" + errOut
	default:
		return out + "\n\nSTDERR:\n" + errOut
	}
}

// =============================================================================
// ENVIRONMENT SANITIZATION
// =============================================================================

// DangerousEnvVars are environment variables that can be used for
// injection attacks; they never reach a subprocess.
var DangerousEnvVars = []string{
	// Library injection
	"LD_PRELOAD",
	"LD_LIBRARY_PATH",
	"LD_AUDIT",
	"LD_DEBUG",
	"LD_DYNAMIC_WEAK",
	"DYLD_INSERT_LIBRARIES",
	"DYLD_LIBRARY_PATH",
	"DYLD_FRAMEWORK_PATH",

	// Shell behavior modification
	"BASH_ENV",
	"ENV",
	"SHELLOPTS",
	"BASHOPTS",
	"CDPATH",
	"GLOBIGNORE",
	"BASH_FUNC_",

	// Dangerous executables
	"EDITOR",
	"VISUAL",
	"PAGER",

	// IFS injection
	"IFS",

	// Proxy settings (could redirect traffic)
	"http_proxy",
	"https_proxy",
	"HTTP_PROXY",
	"HTTPS_PROXY",
	"ALL_PROXY",
	"all_proxy",
	"ftp_proxy",
	"FTP_PROXY",

	// SSH/GPG agent hijacking
	"SSH_AUTH_SOCK",
	"GPG_AGENT_INFO",

	// Interpreter injection
	"PYTHONSTARTUP",
	"PYTHONPATH",
	"PYTHONHOME",
	"RUBYOPT",
	"RUBYLIB",
	"PERL5OPT",
	"PERL5LIB",
	"PERLLIB",
	"NODE_OPTIONS",
	"NODE_PATH",
	"JAVA_TOOL_OPTIONS",
	"_JAVA_OPTIONS",
	"CLASSPATH",

	// Git hooks (could execute arbitrary code)
	"GIT_SSH",
	"GIT_SSH_COMMAND",
	"GIT_EXEC_PATH",

	// Prompt injection
	"PS1",
	"PS2",
	"PS4",
	"PROMPT_COMMAND",
}

// SafeEnvVars always pass through when present.
var SafeEnvVars = []string{
	"PATH",
	"HOME",
	"USER",
	"LOGNAME",
	"SHELL",
	"TERM",
	"LANG",
	"LC_ALL",
	"LC_CTYPE",
	"TZ",
	"TMPDIR",
	"TEMP",
	"TMP",
	// Windows essentials
	"USERPROFILE",
	"HOMEDRIVE",
	"HOMEPATH",
	"SYSTEMROOT",
	"COMSPEC",
	"PATHEXT",
	"WINDIR",
	// Development tools (safe read-only vars)
	"GOPATH",
	"GOROOT",
	"GOPROXY",
	"GOMODCACHE",
	"CARGO_HOME",
	"RUSTUP_HOME",
}

// sanitizeEnvironment builds the subprocess environment: everything on
// the dangerous list (or matching a dangerous prefix) is dropped, the
// rest passes through.
func sanitizeEnvironment() []string {
	safeSet := make(map[string]bool, len(SafeEnvVars))
	for _, v := range SafeEnvVars {
		safeSet[strings.ToUpper(v)] = true
	}
	dangerousSet := make(map[string]bool, len(DangerousEnvVars))
	for _, v := range DangerousEnvVars {
		dangerousSet[strings.ToUpper(v)] = true
	}

	currentEnv := getEnviron()
	result := make([]string, 0, len(currentEnv))
	for _, env := range currentEnv {
		idx := strings.Index(env, "=")
		if idx <= 0 {
			continue
		}
		keyUpper := strings.ToUpper(env[:idx])

		if dangerousSet[keyUpper] {
			continue
		}
		if strings.HasPrefix(keyUpper, "BASH_FUNC_") ||
			strings.HasPrefix(keyUpper, "LD_") ||
			strings.HasPrefix(keyUpper, "DYLD_") {
			continue
		}

		if safeSet[keyUpper] || !dangerousSet[keyUpper] {
			result = append(result, env)
		}
	}
	return result
}

// getEnviron returns the current environment (abstracted for testing).
var getEnviron = func() []string {
	return os.Environ()
}

// formatDuration formats a duration for human-readable messages.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return strconv.Itoa(int(d.Milliseconds())) + "ms"
	}
	if d < time.Minute {
		return strconv.Itoa(int(d.Seconds())) + "s"
	}
	mins := int(d.Minutes())
	secs := int(d.Seconds()) % 60
	if secs == 0 {
		return strconv.Itoa(mins) + "m"
	}
	return strconv.Itoa(mins) + "m" + strconv.Itoa(secs) + "s"
}
