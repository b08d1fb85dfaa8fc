// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sandbox

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"al.essio.dev/pkg/shellescape"
)

// =============================================================================
// GIT TOOL
// =============================================================================

const (
	// defaultGitTimeout covers local verbs and slow remotes alike.
	defaultGitTimeout = 60 * time.Second

	// defaultMaxGitOutput bounds combined stdout+stderr capture.
	defaultMaxGitOutput = 1024 * 1024 // 1MB
)

// gitSubcommands is the closed set of verbs the tool will run. Anything
// else, including config and filter-branch, is rejected at validation.
var gitSubcommands = []string{
	"status", "log", "diff", "show", "branch",
	"add", "commit", "push", "pull", "checkout", "stash",
}

// gitForbiddenFlags matches destructive flag spellings within otherwise
// allowed verbs. Each pattern is tested against individual argv elements,
// never against quoted free text, so a commit message mentioning --force
// stays legal.
var gitForbiddenFlags = []*regexp.Regexp{
	regexp.MustCompile(`^--force(-with-lease)?(=.*)?$`),
	regexp.MustCompile(`^--force-if-includes$`),
	regexp.MustCompile(`^-f$`),
	regexp.MustCompile(`^-D$`),
	regexp.MustCompile(`^--delete$`),
	regexp.MustCompile(`^--mirror$`),
	regexp.MustCompile(`^--prune$`),
	regexp.MustCompile(`^--hard$`),
	regexp.MustCompile(`^--upload-pack(=.*)?$`),
	regexp.MustCompile(`^--receive-pack(=.*)?$`),
	regexp.MustCompile(`^--exec(=.*)?$`),
	regexp.MustCompile(`^-c$`),
	regexp.MustCompile(`^--config-env(=.*)?$`),
}

// gitForbiddenStashActions are stash verbs that discard work.
var gitForbiddenStashActions = map[string]bool{
	"drop":  true,
	"clear": true,
}

// GitTool runs a screened subset of git verbs in the workspace root.
// Arguments travel as an argv vector straight to the git binary; no
// shell ever interprets them, so quoting, substitution, and chaining
// have no effect here.
type GitTool struct {
	BaseTool
}

// DefaultGitPolicy permits execution and network (push/pull talk to
// remotes); the verb and flag screens live in the tool itself.
func DefaultGitPolicy() SecurityPolicy {
	return SecurityPolicy{
		AllowShell:   true,
		AllowNetwork: true,
	}
}

// NewGitTool builds the tool rooted at the workspace directory.
func NewGitTool(root string, policy SecurityPolicy) *GitTool {
	cfg := ToolConfig{
		Name:        "git",
		Description: "Run a git subcommand in the workspace repository. Only non-destructive verbs are available and history-rewriting flags are rejected.",
		Version:     "1.0.0",
		Schema: Schema{Parameters: []Parameter{
			{
				Name:        "subcommand",
				Type:        "string",
				Required:    true,
				Description: "Git verb to run",
				Enum:        gitSubcommands,
			},
			{
				Name:        "args",
				Type:        "array",
				Description: "Additional arguments passed to git verbatim",
			},
		}},
		Security: policy,
	}
	return &GitTool{newBaseTool(root, cfg)}
}

// Execute screens the verb and flags, then runs git as an argv vector.
func (t *GitTool) Execute(ctx context.Context, params map[string]interface{}) (Result, error) {
	subcommand := getStringParam(params, "subcommand", "")
	args := getStringSliceParam(params, "args")

	if err := t.screen(subcommand, args); err != nil {
		return failFromError(err), nil
	}

	argv := make([]string, 0, len(args)+2)
	argv = append(argv, "git", subcommand)
	argv = append(argv, args...)
	printable := shellescape.QuoteCommand(argv)

	// The composed command still passes through the policy so operator
	// supplied forbidden patterns apply to git like everything else.
	if err := t.cfg.Security.ValidateCommand(printable); err != nil {
		return failFromError(err), nil
	}

	outcome := runProcess(ctx, processSpec{
		Argv:      argv,
		Dir:       t.Root(),
		Timeout:   defaultGitTimeout,
		MaxOutput: defaultMaxGitOutput,
	})

	res := shapeProcessOutcome(outcome, defaultGitTimeout, defaultMaxGitOutput)
	if res.Metadata == nil {
		res.Metadata = make(map[string]any)
	}
	res.Metadata["command"] = printable
	return res, nil
}

// screen enforces the verb enum, the flag deny list, and the stash
// action screen before any process exists.
func (t *GitTool) screen(subcommand string, args []string) error {
	if !isGitSubcommand(subcommand) {
		return &ValidationError{
			Param: "subcommand",
			Message: fmt.Sprintf("value %q is not one of: %s",
				subcommand, strings.Join(gitSubcommands, ", ")),
		}
	}

	for _, arg := range args {
		if strings.ContainsRune(arg, 0) {
			return &ValidationError{Param: "args", Message: "argument contains a NUL byte"}
		}
		if !strings.HasPrefix(arg, "-") {
			continue
		}
		for _, pat := range gitForbiddenFlags {
			if pat.MatchString(arg) {
				return &SecurityError{
					Kind:    CommandForbidden,
					Pattern: pat.String(),
					Message: fmt.Sprintf("git flag %q is not permitted", arg),
				}
			}
		}
	}

	if subcommand == "stash" && len(args) > 0 && gitForbiddenStashActions[args[0]] {
		return &SecurityError{
			Kind:    CommandForbidden,
			Pattern: "stash " + args[0],
			Message: "git stash " + args[0] + " discards work and is not permitted",
		}
	}
	return nil
}

func isGitSubcommand(subcommand string) bool {
	for _, s := range gitSubcommands {
		if s == subcommand {
			return true
		}
	}
	return false
}
