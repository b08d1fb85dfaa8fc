// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jeranaias/toolcrib/sandbox"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete toolcrib host configuration.
type Config struct {
	// Version of the configuration format
	Version string `toml:"version"`

	// Workspace locates the sandbox root
	Workspace WorkspaceConfig `toml:"workspace"`

	// Logging configures the host logger
	Logging LoggingConfig `toml:"logging"`

	// Stats bounds the in-memory execution log
	Stats StatsConfig `toml:"stats"`

	// Tools carries one policy section per tool
	Tools ToolsConfig `toml:"tools"`
}

// WorkspaceConfig locates the directory all tools are confined to.
type WorkspaceConfig struct {
	// Root is the workspace directory. Relative paths are resolved
	// against the host's working directory at registry construction.
	Root string `toml:"root"`
	// SessionID labels execution statistics; a fresh UUID is minted
	// when empty.
	SessionID string `toml:"session_id"`
}

// LoggingConfig controls the host logger.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error"
	Level string `toml:"level"`
	// Format selects the encoder: "console" or "json"
	Format string `toml:"format"`
}

// StatsConfig bounds the registry's detailed stat log. Aggregate
// summaries stay exact regardless of the bound.
type StatsConfig struct {
	// MaxRecent is how many recent execution stats are retained
	MaxRecent int `toml:"max_recent"`
}

// ToolsConfig declares the per-tool policy sections. A disabled tool is
// not registered at all.
type ToolsConfig struct {
	WriteFile   FilePolicy    `toml:"write_file"`
	ReadFile    FilePolicy    `toml:"read_file"`
	SearchFiles FilePolicy    `toml:"search_files"`
	RunShell    CommandPolicy `toml:"run_shell"`
	Git         CommandPolicy `toml:"git"`
}

// FilePolicy is the declarative policy section for file-oriented tools.
// Deny lists are appended to the tool's built-in denials, so configuration
// can only tighten a policy, never weaken it.
type FilePolicy struct {
	// Enabled registers the tool; a disabled tool does not exist
	Enabled bool `toml:"enabled"`
	// MaxFileSize bounds file contents in bytes; 0 keeps the built-in bound
	MaxFileSize int64 `toml:"max_file_size"`
	// AllowedExtensions restricts operations to these extensions when set
	AllowedExtensions []string `toml:"allowed_extensions"`
	// ForbiddenExtensions are appended to the built-in deny list
	ForbiddenExtensions []string `toml:"forbidden_extensions"`
	// AllowedDirectories restricts operations to these workspace-relative
	// prefixes when set
	AllowedDirectories []string `toml:"allowed_directories"`
	// ForbiddenDirectories are appended to the built-in deny list
	ForbiddenDirectories []string `toml:"forbidden_directories"`
	// MaxCallsPerSecond enables a per-tool rate limiter when positive
	MaxCallsPerSecond float64 `toml:"max_calls_per_second"`
	// BurstSize is the limiter burst; defaults to 1 when limited
	BurstSize int `toml:"burst_size"`
}

// CommandPolicy is the declarative policy section for subprocess tools.
type CommandPolicy struct {
	// Enabled registers the tool; a disabled tool does not exist
	Enabled bool `toml:"enabled"`
	// AllowNetwork permits commands whose leading program is a known
	// network client
	AllowNetwork bool `toml:"allow_network"`
	// AllowedCommands restricts commands to these regex patterns when set
	AllowedCommands []string `toml:"allowed_commands"`
	// ForbiddenCommands are appended to the built-in deny list
	ForbiddenCommands []string `toml:"forbidden_commands"`
	// MaxCallsPerSecond enables a per-tool rate limiter when positive
	MaxCallsPerSecond float64 `toml:"max_calls_per_second"`
	// BurstSize is the limiter burst; defaults to 1 when limited
	BurstSize int `toml:"burst_size"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values: every tool
// enabled, shell confined to the local machine, git allowed to reach
// remotes.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Workspace: WorkspaceConfig{
			Root: ".",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},

		Stats: StatsConfig{
			MaxRecent: 1000,
		},

		Tools: ToolsConfig{
			WriteFile: FilePolicy{
				Enabled: true,
			},
			ReadFile: FilePolicy{
				Enabled: true,
			},
			SearchFiles: FilePolicy{
				Enabled: true,
			},
			RunShell: CommandPolicy{
				Enabled:      true,
				AllowNetwork: false,
			},
			Git: CommandPolicy{
				Enabled:      true,
				AllowNetwork: true,
			},
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the toolcrib configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".toolcrib"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// ensureSecurePermissions checks and fixes permissions on the config
// file. A world-writable policy file would let anyone weaken the sandbox.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	mode := info.Mode().Perm()
	if mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from ~/.toolcrib/config.toml when it exists
// and falls back to defaults otherwise. Environment overrides apply
// either way.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	fillDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific TOML file with full
// validation. Keys absent from the file keep their default values.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := loadTOML(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	fillDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// loadTOML decodes a TOML file over the given config.
func loadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}
	if cfg.Workspace.Root == "" {
		cfg.Workspace.Root = defaults.Workspace.Root
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Logging.Format
	}
	if cfg.Stats.MaxRecent == 0 {
		cfg.Stats.MaxRecent = defaults.Stats.MaxRecent
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file with restrictive
// permissions (0600, owner read/write only).
func SaveTOML(cfg *Config, path string) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}

	fmt.Fprintln(file, "# toolcrib configuration file")
	fmt.Fprintln(file, "# Generated by toolcrib - edit with care")
	fmt.Fprintln(file, "")

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns every problem found,
// not just the first.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if strings.TrimSpace(c.Workspace.Root) == "" {
		errs = append(errs, ValidationError{
			Field:   "workspace.root",
			Message: "workspace root is required",
		})
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}

	validFormats := map[string]bool{"console": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid format '%s', must be one of: console, json", c.Logging.Format),
		})
	}

	if c.Stats.MaxRecent < 1 {
		errs = append(errs, ValidationError{
			Field:   "stats.max_recent",
			Message: fmt.Sprintf("must be positive, got %d", c.Stats.MaxRecent),
		})
	}

	// Raw section values are checked here because policy construction
	// treats non-positive knobs as "keep the built-in value".
	fileSections := []struct {
		field  string
		policy FilePolicy
	}{
		{"tools.write_file", c.Tools.WriteFile},
		{"tools.read_file", c.Tools.ReadFile},
		{"tools.search_files", c.Tools.SearchFiles},
	}
	for _, s := range fileSections {
		if s.policy.MaxFileSize < 0 {
			errs = append(errs, ValidationError{
				Field:   s.field + ".max_file_size",
				Message: "must not be negative",
			})
		}
		if s.policy.MaxCallsPerSecond < 0 {
			errs = append(errs, ValidationError{
				Field:   s.field + ".max_calls_per_second",
				Message: "must not be negative",
			})
		}
		if s.policy.BurstSize < 0 {
			errs = append(errs, ValidationError{
				Field:   s.field + ".burst_size",
				Message: "must not be negative",
			})
		}
	}

	commandSections := []struct {
		field  string
		policy CommandPolicy
	}{
		{"tools.run_shell", c.Tools.RunShell},
		{"tools.git", c.Tools.Git},
	}
	for _, s := range commandSections {
		if s.policy.MaxCallsPerSecond < 0 {
			errs = append(errs, ValidationError{
				Field:   s.field + ".max_calls_per_second",
				Message: "must not be negative",
			})
		}
		if s.policy.BurstSize < 0 {
			errs = append(errs, ValidationError{
				Field:   s.field + ".burst_size",
				Message: "must not be negative",
			})
		}
	}

	// The built policies catch uncompilable patterns here, before a
	// broken tool ever reaches Register.
	policies := []struct {
		field  string
		policy sandbox.SecurityPolicy
	}{
		{"tools.write_file", c.WritePolicy()},
		{"tools.read_file", c.ReadPolicy()},
		{"tools.search_files", c.SearchPolicy()},
		{"tools.run_shell", c.ShellPolicy()},
		{"tools.git", c.GitPolicy()},
	}
	for _, p := range policies {
		if err := p.policy.Validate(); err != nil {
			errs = append(errs, ValidationError{Field: p.field, Message: err.Error()})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - TOOLCRIB_ROOT: overrides workspace.root
//   - TOOLCRIB_SESSION_ID: overrides workspace.session_id
//   - TOOLCRIB_LOG_LEVEL: overrides logging.level
//   - TOOLCRIB_LOG_FORMAT: overrides logging.format
//   - TOOLCRIB_NO_SHELL: set to "1" or "true" to disable run_shell and git
//   - TOOLCRIB_ALLOW_NETWORK: overrides tools.run_shell.allow_network
func (c *Config) ApplyEnvOverrides() {
	if root := os.Getenv("TOOLCRIB_ROOT"); root != "" {
		c.Workspace.Root = root
	}

	if session := os.Getenv("TOOLCRIB_SESSION_ID"); session != "" {
		c.Workspace.SessionID = session
	}

	if level := os.Getenv("TOOLCRIB_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if format := os.Getenv("TOOLCRIB_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}

	// TOOLCRIB_NO_SHELL only disables, never re-enables: an environment
	// variable must not override an explicit enabled = false in the file.
	if noShell := os.Getenv("TOOLCRIB_NO_SHELL"); noShell == "1" || strings.ToLower(noShell) == "true" {
		c.Tools.RunShell.Enabled = false
		c.Tools.Git.Enabled = false
	}

	if allowNet := os.Getenv("TOOLCRIB_ALLOW_NETWORK"); allowNet != "" {
		c.Tools.RunShell.AllowNetwork = allowNet == "1" || strings.ToLower(allowNet) == "true"
	}
}

// =============================================================================
// POLICY CONSTRUCTION
// =============================================================================

// WritePolicy builds the write_file security policy from its section.
func (c *Config) WritePolicy() sandbox.SecurityPolicy {
	return c.Tools.WriteFile.apply(sandbox.DefaultWritePolicy())
}

// ReadPolicy builds the read_file security policy from its section.
func (c *Config) ReadPolicy() sandbox.SecurityPolicy {
	return c.Tools.ReadFile.apply(sandbox.DefaultReadPolicy())
}

// SearchPolicy builds the search_files security policy from its section.
func (c *Config) SearchPolicy() sandbox.SecurityPolicy {
	return c.Tools.SearchFiles.apply(sandbox.DefaultSearchPolicy())
}

// ShellPolicy builds the run_shell security policy from its section.
func (c *Config) ShellPolicy() sandbox.SecurityPolicy {
	return c.Tools.RunShell.apply(sandbox.DefaultShellPolicy())
}

// GitPolicy builds the git security policy from its section.
func (c *Config) GitPolicy() sandbox.SecurityPolicy {
	return c.Tools.Git.apply(sandbox.DefaultGitPolicy())
}

// apply merges a file policy section over a tool's built-in policy.
// Allow lists replace (they only narrow); deny lists append.
func (f FilePolicy) apply(p sandbox.SecurityPolicy) sandbox.SecurityPolicy {
	if f.MaxFileSize > 0 {
		p.MaxFileSize = f.MaxFileSize
	}
	if len(f.AllowedExtensions) > 0 {
		p.AllowedExtensions = append([]string(nil), f.AllowedExtensions...)
	}
	p.ForbiddenExtensions = append(p.ForbiddenExtensions, f.ForbiddenExtensions...)
	if len(f.AllowedDirectories) > 0 {
		p.AllowedDirectories = append([]string(nil), f.AllowedDirectories...)
	}
	p.ForbiddenDirectories = append(p.ForbiddenDirectories, f.ForbiddenDirectories...)
	if f.MaxCallsPerSecond > 0 {
		p.MaxCallsPerSecond = f.MaxCallsPerSecond
		p.BurstSize = f.BurstSize
	}
	return p
}

// apply merges a command policy section over a tool's built-in policy.
func (cp CommandPolicy) apply(p sandbox.SecurityPolicy) sandbox.SecurityPolicy {
	p.AllowNetwork = cp.AllowNetwork
	if len(cp.AllowedCommands) > 0 {
		p.AllowedCommands = append([]string(nil), cp.AllowedCommands...)
	}
	p.ForbiddenCommands = append(p.ForbiddenCommands, cp.ForbiddenCommands...)
	if cp.MaxCallsPerSecond > 0 {
		p.MaxCallsPerSecond = cp.MaxCallsPerSecond
		p.BurstSize = cp.BurstSize
	}
	return p
}

// =============================================================================
// REGISTRY CONSTRUCTION
// =============================================================================

// BuildRegistry constructs a registry rooted at the configured workspace
// with every enabled tool registered under its configured policy. Extra
// options (such as sandbox.WithLogger) apply after the config-derived
// ones.
func BuildRegistry(cfg *Config, opts ...sandbox.Option) (*sandbox.Registry, error) {
	base := []sandbox.Option{sandbox.WithMaxRecentStats(cfg.Stats.MaxRecent)}
	if cfg.Workspace.SessionID != "" {
		base = append(base, sandbox.WithSessionID(cfg.Workspace.SessionID))
	}

	reg, err := sandbox.NewRegistry(cfg.Workspace.Root, append(base, opts...)...)
	if err != nil {
		return nil, err
	}

	// Tools take the registry's resolved root, not the raw configured
	// path, so path checks and dispatch agree on one root.
	root := reg.Root()

	var tools []sandbox.Tool
	if cfg.Tools.WriteFile.Enabled {
		tools = append(tools, sandbox.NewWriteFileTool(root, cfg.WritePolicy()))
	}
	if cfg.Tools.ReadFile.Enabled {
		tools = append(tools, sandbox.NewReadFileTool(root, cfg.ReadPolicy()))
	}
	if cfg.Tools.SearchFiles.Enabled {
		tools = append(tools, sandbox.NewSearchFilesTool(root, cfg.SearchPolicy()))
	}
	if cfg.Tools.RunShell.Enabled {
		tools = append(tools, sandbox.NewRunShellTool(root, cfg.ShellPolicy()))
	}
	if cfg.Tools.Git.Enabled {
		tools = append(tools, sandbox.NewGitTool(root, cfg.GitPolicy()))
	}

	for _, tool := range tools {
		if err := reg.Register(tool); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// =============================================================================
// LOGGER CONSTRUCTION
// =============================================================================

// Build constructs a zap logger from the logging section.
func (c LoggingConfig) Build() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(c.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}

	var zcfg zap.Config
	if strings.ToLower(c.Format) == "json" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	return zcfg.Build()
}
