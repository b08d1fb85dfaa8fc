// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sandbox

// =============================================================================
// PARAMETER SCHEMA
// =============================================================================

// Schema declares a tool's parameters.
type Schema struct {
	Parameters []Parameter
}

// Parameter declares a single tool parameter.
type Parameter struct {
	// Name of the parameter
	Name string

	// Type is the parameter type ("string", "number", "boolean", "array")
	Type string

	// Required indicates if the parameter must be provided
	Required bool

	// Description explains the parameter
	Description string

	// Default is the value assumed when the caller omits the parameter
	Default interface{}

	// Enum restricts a string parameter to an explicit set of values
	Enum []string
}

// Required lists the names of all required parameters, in declaration
// order.
func (s Schema) Required() []string {
	var names []string
	for _, p := range s.Parameters {
		if p.Required {
			names = append(names, p.Name)
		}
	}
	return names
}

// Param looks up a parameter declaration by name.
func (s Schema) Param(name string) (Parameter, bool) {
	for _, p := range s.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// =============================================================================
// CAPABILITY DESCRIPTOR
// =============================================================================

// Descriptor is the serializable capability description of one tool,
// shaped for orchestrators that feed tool inventories to a model.
type Descriptor struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Version     string           `json:"version,omitempty"`
	Parameters  DescriptorParams `json:"parameters"`
}

// DescriptorParams mirrors the schema as a properties map plus the
// required-name list.
type DescriptorParams struct {
	Properties map[string]DescriptorProperty `json:"properties"`
	Required   []string                      `json:"required"`
}

// DescriptorProperty describes one parameter in a Descriptor.
type DescriptorProperty struct {
	Type        string      `json:"type"`
	Description string      `json:"description,omitempty"`
	Default     interface{} `json:"default,omitempty"`
	Enum        []string    `json:"enum,omitempty"`
}

// describe converts a ToolConfig into its capability descriptor.
func describe(cfg ToolConfig) Descriptor {
	props := make(map[string]DescriptorProperty, len(cfg.Schema.Parameters))
	for _, p := range cfg.Schema.Parameters {
		props[p.Name] = DescriptorProperty{
			Type:        p.Type,
			Description: p.Description,
			Default:     p.Default,
			Enum:        p.Enum,
		}
	}
	required := cfg.Schema.Required()
	if required == nil {
		required = []string{}
	}
	return Descriptor{
		Name:        cfg.Name,
		Description: cfg.Description,
		Version:     cfg.Version,
		Parameters:  DescriptorParams{Properties: props, Required: required},
	}
}

// =============================================================================
// PARAMETER ACCESS HELPERS
// =============================================================================

// getStringParam extracts a string parameter with a default value.
func getStringParam(params map[string]interface{}, name string, defaultVal string) string {
	if val, ok := params[name]; ok {
		if s, ok := val.(string); ok && s != "" {
			return s
		}
	}
	return defaultVal
}

// getIntParam extracts an integer parameter with a default value.
// JSON-decoded numbers arrive as float64.
func getIntParam(params map[string]interface{}, name string, defaultVal int) int {
	if val, ok := params[name]; ok {
		switch v := val.(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return defaultVal
}

// getBoolParam extracts a boolean parameter with a default value.
func getBoolParam(params map[string]interface{}, name string, defaultVal bool) bool {
	if val, ok := params[name]; ok {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return defaultVal
}

// getStringSliceParam extracts a string-array parameter. JSON-decoded
// arrays arrive as []interface{}; non-string elements are skipped.
func getStringSliceParam(params map[string]interface{}, name string) []string {
	val, ok := params[name]
	if !ok {
		return nil
	}
	switch v := val.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
