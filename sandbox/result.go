// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sandbox

import "time"

// =============================================================================
// FAILURE KINDS
// =============================================================================

// FailureKind classifies a failed Result. It is mirrored into
// Result.Metadata under "errorKind" so orchestrators can branch on it
// without parsing messages.
type FailureKind string

const (
	FailValidation    FailureKind = "validation"
	FailSecurity      FailureKind = "security"
	FailResourceLimit FailureKind = "resource_limit"
	FailExecution     FailureKind = "execution"
	FailTimeout       FailureKind = "timeout"
	FailNotFound      FailureKind = "not_found"
	FailRateLimit     FailureKind = "rate_limit"
)

// =============================================================================
// EXECUTION RESULT
// =============================================================================

// Result is the uniform outcome of every tool call. Exactly one of Output
// and Error is populated: success carries no error, failure carries no
// output payload. Metadata is optional structured context (sizes, exit
// codes, the check that refused a call) and never leaks file contents on
// failure.
type Result struct {
	Success  bool           `json:"success"`
	Output   string         `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// Duration is stamped by the registry around the whole call.
	Duration time.Duration `json:"-"`
}

// Succeed builds a successful Result with the given output payload.
func Succeed(output string) Result {
	return Result{Success: true, Output: output}
}

// SucceedWithMetadata builds a successful Result carrying metadata.
func SucceedWithMetadata(output string, metadata map[string]any) Result {
	return Result{Success: true, Output: output, Metadata: metadata}
}

// Fail builds a failed Result of the given kind.
func Fail(kind FailureKind, message string) Result {
	return Result{
		Success:  false,
		Error:    message,
		Metadata: map[string]any{"errorKind": string(kind)},
	}
}

// FailWithMetadata builds a failed Result of the given kind with extra
// metadata naming the responsible check.
func FailWithMetadata(kind FailureKind, message string, metadata map[string]any) Result {
	if metadata == nil {
		metadata = make(map[string]any, 1)
	}
	metadata["errorKind"] = string(kind)
	return Result{Success: false, Error: message, Metadata: metadata}
}

// failFromError folds a typed error into a failed Result, preserving the
// responsible check in metadata.
func failFromError(err error) Result {
	switch e := err.(type) {
	case *SecurityError:
		md := map[string]any{"securityKind": string(e.Kind)}
		if e.Path != "" {
			md["path"] = e.Path
		}
		if e.Pattern != "" {
			md["pattern"] = e.Pattern
		}
		return FailWithMetadata(FailSecurity, e.Error(), md)
	case *ValidationError:
		return FailWithMetadata(FailValidation, e.Error(), map[string]any{"parameter": e.Param})
	case *PatternError:
		return FailWithMetadata(FailValidation, e.Error(), map[string]any{"pattern": e.Pattern})
	default:
		return Fail(FailExecution, err.Error())
	}
}

// Kind reports the failure kind of a failed Result, or "" for successes
// and for results produced outside the package helpers.
func (r Result) Kind() FailureKind {
	if r.Success || r.Metadata == nil {
		return ""
	}
	if k, ok := r.Metadata["errorKind"].(string); ok {
		return FailureKind(k)
	}
	return ""
}
