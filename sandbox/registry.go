// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// =============================================================================
// REGISTRY
// =============================================================================

// Registry holds uniquely-named tools rooted at one workspace directory
// and dispatches calls to them. Execute never returns an error and never
// panics: every outcome, including internal faults, arrives as a Result.
// A Registry is safe for concurrent use.
type Registry struct {
	root    string
	logger  *zap.Logger
	session string

	mu       sync.RWMutex
	tools    map[string]Tool
	limiters map[string]*rate.Limiter

	stats *statLog
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the structured logger. The default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithSessionID sets the session identifier used for calls that do not
// carry their own. The default is a fresh random identifier.
func WithSessionID(id string) Option {
	return func(r *Registry) {
		if id != "" {
			r.session = id
		}
	}
}

// WithMaxRecentStats bounds the detailed stat log. Aggregate summaries
// stay exact regardless of the bound.
func WithMaxRecentStats(n int) Option {
	return func(r *Registry) {
		r.stats = newStatLog(n)
	}
}

// NewRegistry creates a registry confined to the workspace root. The
// root must name an existing directory; it is resolved to an absolute,
// symlink-free path once, here, and every tool path check builds on it.
func NewRegistry(root string, opts ...Option) (*Registry, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace root must not be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to stat workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %s is not a directory", resolved)
	}

	r := &Registry{
		root:     resolved,
		logger:   zap.NewNop(),
		session:  uuid.NewString(),
		tools:    make(map[string]Tool),
		limiters: make(map[string]*rate.Limiter),
		stats:    newStatLog(defaultMaxRecentStats),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Root returns the resolved workspace root.
func (r *Registry) Root() string { return r.root }

// SessionID returns the default session identifier of this registry.
func (r *Registry) SessionID() string { return r.session }

// Register adds a tool under its configured name. A name collision is
// rejected with ErrDuplicateTool and leaves the first registration
// intact. The tool's security policy must validate.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("tool must not be nil")
	}
	cfg := tool.Config()
	if cfg.Name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	if err := cfg.Security.Validate(); err != nil {
		return fmt.Errorf("tool %s has an invalid security policy: %w", cfg.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[cfg.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, cfg.Name)
	}
	r.tools[cfg.Name] = tool
	if cfg.Security.MaxCallsPerSecond > 0 {
		burst := cfg.Security.BurstSize
		if burst < 1 {
			burst = 1
		}
		r.limiters[cfg.Name] = rate.NewLimiter(rate.Limit(cfg.Security.MaxCallsPerSecond), burst)
	}

	r.logger.Info("tool registered",
		zap.String("tool", cfg.Name),
		zap.String("version", cfg.Version))
	return nil
}

// HasTool reports whether a tool is registered under name.
func (r *Registry) HasTool(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// ToolNames returns the registered names, sorted.
func (r *Registry) ToolNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Descriptors returns the capability descriptors of all registered
// tools, sorted by name, for orchestrator-side discovery.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.tools))
	for _, tool := range r.tools {
		out = append(out, describe(tool.Config()))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// =============================================================================
// DISPATCH
// =============================================================================

// Execute dispatches one call: look the tool up, validate the arguments
// against its schema, run it, and record exactly one execution stat. All
// failures, including panics inside a tool, come back as failed Results;
// Execute itself never fails.
func (r *Registry) Execute(ctx context.Context, call Call) Result {
	start := time.Now()
	callID := uuid.NewString()
	session := call.Context.SessionID
	if session == "" {
		session = r.session
	}
	timestamp := call.Context.Timestamp
	if timestamp.IsZero() {
		timestamp = start
	}

	result := r.dispatch(ctx, call)
	result.Duration = time.Since(start)

	r.stats.record(ExecutionStat{
		Tool:      call.Tool,
		Duration:  result.Duration,
		Success:   result.Success,
		Error:     result.Error,
		Timestamp: timestamp,
	})

	if result.Success {
		r.logger.Debug("tool call succeeded",
			zap.String("tool", call.Tool),
			zap.String("callId", callID),
			zap.String("session", session),
			zap.Duration("duration", result.Duration))
	} else {
		r.logger.Warn("tool call failed",
			zap.String("tool", call.Tool),
			zap.String("callId", callID),
			zap.String("session", session),
			zap.String("errorKind", string(result.Kind())),
			zap.String("error", result.Error),
			zap.Duration("duration", result.Duration))
	}
	return result
}

// dispatch runs the per-call state machine up to the tool itself.
func (r *Registry) dispatch(ctx context.Context, call Call) (result Result) {
	r.mu.RLock()
	tool, ok := r.tools[call.Tool]
	limiter := r.limiters[call.Tool]
	r.mu.RUnlock()

	if !ok {
		return Fail(FailNotFound, fmt.Sprintf("%v: %s", ErrToolNotFound, call.Tool))
	}

	if limiter != nil && !limiter.Allow() {
		return FailWithMetadata(FailRateLimit,
			fmt.Sprintf("rate limit exceeded for tool %s", call.Tool),
			map[string]any{"limit": "callsPerSecond"})
	}

	if err := ValidateParameters(tool.Config().Schema, call.Params); err != nil {
		return failFromError(err)
	}

	// The never-panics boundary: a tool bug becomes a failed Result.
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool panicked",
				zap.String("tool", call.Tool),
				zap.Any("panic", rec),
				zap.Stack("stack"))
			result = Fail(FailExecution, fmt.Sprintf("internal error in tool %s", call.Tool))
		}
	}()

	result, err := tool.Execute(ctx, call.Params)
	if err != nil {
		return failFromError(err)
	}
	return result
}

// Stats returns a copy of the recent execution stats, oldest first.
func (r *Registry) Stats() []ExecutionStat {
	return r.stats.snapshot()
}

// Summary returns the aggregate execution summary since the registry was
// created.
func (r *Registry) Summary() Summary {
	return r.stats.summary()
}
