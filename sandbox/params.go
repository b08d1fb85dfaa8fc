// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sandbox

import (
	"fmt"
	"strings"
)

// =============================================================================
// PARAMETER VALIDATION
// =============================================================================

// ValidateParameters checks call arguments against a schema: required
// parameters must be present and non-nil, provided values must carry the
// declared type tag, and enum-constrained values must be in the set.
// Validation is deliberately structural; it never inspects parameter
// semantics, which is the tool's job.
func ValidateParameters(schema Schema, params map[string]interface{}) error {
	for _, param := range schema.Parameters {
		val, exists := params[param.Name]

		if param.Required && (!exists || val == nil) {
			return &ValidationError{
				Param:   param.Name,
				Message: "required parameter is missing",
			}
		}

		// Optional parameters that are absent take their defaults later.
		if !exists || val == nil {
			continue
		}

		if err := validateParamType(param, val); err != nil {
			return err
		}

		if len(param.Enum) > 0 {
			if err := validateEnum(param, val); err != nil {
				return err
			}
		}
	}
	return nil
}

// validateParamType checks a value against the parameter's type tag.
func validateParamType(param Parameter, val interface{}) error {
	switch param.Type {
	case "string":
		if _, ok := val.(string); !ok {
			return &ValidationError{
				Param:   param.Name,
				Message: "expected string",
			}
		}
	case "number":
		switch val.(type) {
		case int, int64, int32, float64, float32:
			// OK
		default:
			return &ValidationError{
				Param:   param.Name,
				Message: "expected number",
			}
		}
	case "boolean":
		if _, ok := val.(bool); !ok {
			return &ValidationError{
				Param:   param.Name,
				Message: "expected boolean",
			}
		}
	case "array":
		switch val.(type) {
		case []interface{}, []string:
			// OK
		default:
			return &ValidationError{
				Param:   param.Name,
				Message: "expected array",
			}
		}
	case "object":
		if _, ok := val.(map[string]interface{}); !ok {
			return &ValidationError{
				Param:   param.Name,
				Message: "expected object",
			}
		}
	}
	return nil
}

// validateEnum checks an enum-constrained value. Enum constraints apply
// to string parameters.
func validateEnum(param Parameter, val interface{}) error {
	s, ok := val.(string)
	if !ok {
		return &ValidationError{
			Param:   param.Name,
			Message: "expected string",
		}
	}
	for _, allowed := range param.Enum {
		if s == allowed {
			return nil
		}
	}
	return &ValidationError{
		Param: param.Name,
		Message: fmt.Sprintf("value %q is not one of: %s",
			s, strings.Join(param.Enum, ", ")),
	}
}
