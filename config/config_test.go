// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/toolcrib/sandbox"
)

// writeConfigFile writes a TOML config into a temp dir and returns its path.
func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config does not validate: %v", err)
	}

	if !cfg.Tools.WriteFile.Enabled || !cfg.Tools.ReadFile.Enabled ||
		!cfg.Tools.SearchFiles.Enabled || !cfg.Tools.RunShell.Enabled ||
		!cfg.Tools.Git.Enabled {
		t.Error("default config should enable every tool")
	}
	if cfg.Tools.RunShell.AllowNetwork {
		t.Error("shell should not reach the network by default")
	}
	if !cfg.Tools.Git.AllowNetwork {
		t.Error("git needs the network for push and pull by default")
	}
}

func TestLoadFromPath(t *testing.T) {
	path := writeConfigFile(t, `
version = "1.0.0"

[workspace]
root = "/ws/project"

[logging]
level = "debug"

[stats]
max_recent = 50

[tools.write_file]
max_file_size = 1024
forbidden_extensions = [".exe"]

[tools.run_shell]
allow_network = true
forbidden_commands = ['(?i)\bterraform\b']

[tools.git]
enabled = false
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}

	if cfg.Workspace.Root != "/ws/project" {
		t.Errorf("root = %q", cfg.Workspace.Root)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Logging.Format != "console" {
		t.Errorf("format = %q, want default console", cfg.Logging.Format)
	}
	if cfg.Stats.MaxRecent != 50 {
		t.Errorf("max_recent = %d", cfg.Stats.MaxRecent)
	}
	if cfg.Tools.WriteFile.MaxFileSize != 1024 {
		t.Errorf("write max_file_size = %d", cfg.Tools.WriteFile.MaxFileSize)
	}
	if cfg.Tools.Git.Enabled {
		t.Error("git should be disabled by the file")
	}
	if !cfg.Tools.ReadFile.Enabled {
		t.Error("read_file has no section and should stay enabled")
	}
	if !cfg.Tools.RunShell.AllowNetwork {
		t.Error("allow_network = true was not applied")
	}
}

func TestLoadFromPathMissingFile(t *testing.T) {
	_, err := LoadFromPath(filepath.Join(t.TempDir(), "absent.toml"))
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestLoadFromPathInvalidTOML(t *testing.T) {
	path := writeConfigFile(t, "not valid = [toml")
	_, err := LoadFromPath(path)
	if err == nil || !strings.Contains(err.Error(), "failed to load config") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadFromPathRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{
			name:    "unknown log level",
			content: "[logging]\nlevel = \"loud\"\n",
			field:   "logging.level",
		},
		{
			name:    "unknown log format",
			content: "[logging]\nformat = \"xml\"\n",
			field:   "logging.format",
		},
		{
			name:    "uncompilable shell pattern",
			content: "[tools.run_shell]\nforbidden_commands = ['[unclosed']\n",
			field:   "tools.run_shell",
		},
		{
			name:    "negative write size",
			content: "[tools.write_file]\nmax_file_size = -1\n",
			field:   "tools.write_file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromPath(writeConfigFile(t, tt.content))
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not name field %s", err, tt.field)
			}
		})
	}
}

func TestValidateAccumulatesErrors(t *testing.T) {
	cfg := Default()
	cfg.Workspace.Root = "  "
	cfg.Logging.Level = "loud"
	cfg.Logging.Format = "xml"
	cfg.Stats.MaxRecent = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}

	verrs, ok := err.(ValidateErrors)
	if !ok {
		t.Fatalf("err is %T, want ValidateErrors", err)
	}
	if len(verrs) != 4 {
		t.Errorf("got %d errors, want 4: %v", len(verrs), verrs)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("TOOLCRIB_ROOT", "/ws/other")
	t.Setenv("TOOLCRIB_SESSION_ID", "session-from-env")
	t.Setenv("TOOLCRIB_LOG_LEVEL", "warn")
	t.Setenv("TOOLCRIB_ALLOW_NETWORK", "true")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.Workspace.Root != "/ws/other" {
		t.Errorf("root = %q", cfg.Workspace.Root)
	}
	if cfg.Workspace.SessionID != "session-from-env" {
		t.Errorf("session = %q", cfg.Workspace.SessionID)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
	if !cfg.Tools.RunShell.AllowNetwork {
		t.Error("TOOLCRIB_ALLOW_NETWORK=true was not applied")
	}
}

func TestNoShellOverrideOnlyDisables(t *testing.T) {
	t.Setenv("TOOLCRIB_NO_SHELL", "1")
	cfg := Default()
	cfg.ApplyEnvOverrides()
	if cfg.Tools.RunShell.Enabled || cfg.Tools.Git.Enabled {
		t.Error("TOOLCRIB_NO_SHELL=1 should disable run_shell and git")
	}

	// "0" must not re-enable a tool the file disabled.
	t.Setenv("TOOLCRIB_NO_SHELL", "0")
	cfg = Default()
	cfg.Tools.RunShell.Enabled = false
	cfg.ApplyEnvOverrides()
	if cfg.Tools.RunShell.Enabled {
		t.Error("TOOLCRIB_NO_SHELL=0 re-enabled a disabled tool")
	}
}

func TestSaveTOMLRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.Workspace.Root = "/ws/saved"
	cfg.Logging.Level = "debug"
	cfg.Tools.Git.Enabled = false

	if err := SaveTOML(cfg, path); err != nil {
		t.Fatalf("SaveTOML: %v", err)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if perm := info.Mode().Perm(); perm != 0600 {
			t.Errorf("config file mode = %o, want 0600", perm)
		}
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath after save: %v", err)
	}
	if loaded.Workspace.Root != "/ws/saved" {
		t.Errorf("root = %q", loaded.Workspace.Root)
	}
	if loaded.Logging.Level != "debug" {
		t.Errorf("level = %q", loaded.Logging.Level)
	}
	if loaded.Tools.Git.Enabled {
		t.Error("git enabled flag did not survive the round trip")
	}
}

// =============================================================================
// POLICY CONSTRUCTION TESTS
// =============================================================================

func TestPolicyConstructionMergesOverDefaults(t *testing.T) {
	cfg := Default()
	cfg.Tools.WriteFile.MaxFileSize = 2048
	cfg.Tools.WriteFile.ForbiddenDirectories = []string{"vendor"}
	cfg.Tools.WriteFile.AllowedExtensions = []string{".go", ".md"}

	p := cfg.WritePolicy()
	if p.MaxFileSize != 2048 {
		t.Errorf("MaxFileSize = %d", p.MaxFileSize)
	}
	// The built-in .git denial survives and the configured one is added.
	joined := strings.Join(p.ForbiddenDirectories, ",")
	if !strings.Contains(joined, ".git") || !strings.Contains(joined, "vendor") {
		t.Errorf("ForbiddenDirectories = %v", p.ForbiddenDirectories)
	}
	if len(p.AllowedExtensions) != 2 {
		t.Errorf("AllowedExtensions = %v", p.AllowedExtensions)
	}
}

func TestShellPolicyAppendsDenials(t *testing.T) {
	cfg := Default()
	cfg.Tools.RunShell.ForbiddenCommands = []string{`(?i)\bterraform\b`}
	cfg.Tools.RunShell.MaxCallsPerSecond = 2
	cfg.Tools.RunShell.BurstSize = 3

	p := cfg.ShellPolicy()
	builtin := len(sandbox.DefaultForbiddenCommandPatterns())
	if len(p.ForbiddenCommands) != builtin+1 {
		t.Errorf("ForbiddenCommands length = %d, want %d", len(p.ForbiddenCommands), builtin+1)
	}
	if !p.AllowShell {
		t.Error("shell policy lost AllowShell")
	}
	if p.AllowNetwork {
		t.Error("shell policy should not allow network by default")
	}
	if p.MaxCallsPerSecond != 2 || p.BurstSize != 3 {
		t.Errorf("rate limit = %v burst %d", p.MaxCallsPerSecond, p.BurstSize)
	}
}

func TestGitPolicyNetworkToggle(t *testing.T) {
	cfg := Default()
	if !cfg.GitPolicy().AllowNetwork {
		t.Error("default git policy should allow network")
	}

	cfg.Tools.Git.AllowNetwork = false
	if cfg.GitPolicy().AllowNetwork {
		t.Error("allow_network = false was not applied to git")
	}
}

// =============================================================================
// REGISTRY CONSTRUCTION TESTS
// =============================================================================

func TestBuildRegistry(t *testing.T) {
	root := t.TempDir()
	cfg := Default()
	cfg.Workspace.Root = root
	cfg.Workspace.SessionID = "build-test"

	reg, err := BuildRegistry(cfg)
	require.NoError(t, err)
	require.Equal(t, "build-test", reg.SessionID())
	require.Equal(t,
		[]string{"git", "read_file", "run_shell", "search_files", "write_file"},
		reg.ToolNames())

	// The built registry is live end to end.
	res := reg.Execute(context.Background(), sandbox.Call{
		Tool: "write_file",
		Params: map[string]interface{}{
			"filePath": "note.txt",
			"content":  "from config",
		},
	})
	require.True(t, res.Success, "write failed: %s", res.Error)

	data, err := os.ReadFile(filepath.Join(reg.Root(), "note.txt"))
	require.NoError(t, err)
	require.Equal(t, "from config", string(data))
}

func TestBuildRegistrySkipsDisabledTools(t *testing.T) {
	cfg := Default()
	cfg.Workspace.Root = t.TempDir()
	cfg.Tools.RunShell.Enabled = false
	cfg.Tools.Git.Enabled = false

	reg, err := BuildRegistry(cfg)
	require.NoError(t, err)
	require.Equal(t, []string{"read_file", "search_files", "write_file"}, reg.ToolNames())
	require.False(t, reg.HasTool("run_shell"))
}

func TestBuildRegistryBadRoot(t *testing.T) {
	cfg := Default()
	cfg.Workspace.Root = filepath.Join(t.TempDir(), "does-not-exist")

	_, err := BuildRegistry(cfg)
	require.Error(t, err)
}

func TestLoggingBuild(t *testing.T) {
	logger, err := LoggingConfig{Level: "debug", Format: "console"}.Build()
	if err != nil {
		t.Fatalf("console build: %v", err)
	}
	logger.Sync()

	logger, err = LoggingConfig{Level: "info", Format: "json"}.Build()
	if err != nil {
		t.Fatalf("json build: %v", err)
	}
	logger.Sync()

	if _, err := (LoggingConfig{Level: "loud", Format: "console"}).Build(); err == nil {
		t.Error("expected an error for an unknown level")
	}
}

// =============================================================================
// WATCHER TESTS
// =============================================================================

// watchReloads wires a ReloadFunc to channels for test synchronization.
func watchReloads() (ReloadFunc, chan *Config, chan error) {
	reloads := make(chan *Config, 8)
	failures := make(chan error, 8)
	fn := func(cfg *Config, err error) {
		if err != nil {
			failures <- err
			return
		}
		reloads <- cfg
	}
	return fn, reloads, failures
}

func TestFsnotifyWatcherReload(t *testing.T) {
	path := writeConfigFile(t, "[logging]\nlevel = \"info\"\n")

	onReload, reloads, failures := watchReloads()
	fw, err := NewFsnotifyWatcher(path, 50*time.Millisecond, onReload)
	if err != nil {
		t.Skipf("fsnotify unavailable: %v", err)
	}
	defer fw.Close()
	if err := fw.Watch(); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	// Give the event goroutines a moment before the first change.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("[logging]\nlevel = \"debug\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloads:
		if cfg.Logging.Level != "debug" {
			t.Errorf("reloaded level = %q", cfg.Logging.Level)
		}
	case err := <-failures:
		t.Fatalf("reload failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload within 5s")
	}
}

func TestFsnotifyWatcherReportsBrokenConfig(t *testing.T) {
	path := writeConfigFile(t, "[logging]\nlevel = \"info\"\n")

	onReload, reloads, failures := watchReloads()
	fw, err := NewFsnotifyWatcher(path, 50*time.Millisecond, onReload)
	if err != nil {
		t.Skipf("fsnotify unavailable: %v", err)
	}
	defer fw.Close()
	if err := fw.Watch(); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("not valid = [toml"), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-failures:
		if !strings.Contains(err.Error(), "failed to load config") {
			t.Errorf("err = %v", err)
		}
	case cfg := <-reloads:
		t.Fatalf("broken config reloaded as %+v", cfg)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload report within 5s")
	}
}

func TestPollingWatcherReload(t *testing.T) {
	path := writeConfigFile(t, "[logging]\nlevel = \"info\"\n")

	onReload, reloads, failures := watchReloads()
	pw := NewPollingWatcher(path, 50*time.Millisecond, onReload)
	defer pw.Close()
	if err := pw.Watch(); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := os.WriteFile(path, []byte("[logging]\nlevel = \"warn\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	// Force a visible modification time change; some filesystems have
	// coarse timestamp granularity.
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloads:
		if cfg.Logging.Level != "warn" {
			t.Errorf("reloaded level = %q", cfg.Logging.Level)
		}
	case err := <-failures:
		t.Fatalf("reload failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload within 5s")
	}
}

func TestStartWatcher(t *testing.T) {
	path := writeConfigFile(t, "[logging]\nlevel = \"info\"\n")

	onReload, _, _ := watchReloads()
	w, err := StartWatcher(path, 50*time.Millisecond, onReload)
	if err != nil {
		t.Fatalf("StartWatcher: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
