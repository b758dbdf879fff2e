package tool

import (
	"fmt"
	"math"
	"regexp"

	"github.com/wingie/webagent/mcp"
)

// BuildInputSchema derives a tool's JSON Schema from its parameter list:
// always `{type: "object", properties, required, additionalProperties: false}`.
// The required list names exactly those parameters that are required AND have
// no default (a defaulted parameter is satisfiable without the caller naming
// it). Derivation is pure; identical parameter lists produce byte-identical
// marshaled schemas.
func BuildInputSchema(params []Param) (mcp.JSONSchema, error) {
	schema := mcp.JSONSchema{
		Type:                 "object",
		Properties:           map[string]mcp.PropertySchema{},
		AdditionalProperties: false,
	}
	seen := map[string]bool{}
	for i := range params {
		p := &params[i]
		if p.Name == "" {
			return mcp.JSONSchema{}, fmt.Errorf("parameter %d has no name", i)
		}
		if seen[p.Name] {
			return mcp.JSONSchema{}, fmt.Errorf("duplicate parameter %q", p.Name)
		}
		seen[p.Name] = true

		prop, err := propertySchema(p)
		if err != nil {
			return mcp.JSONSchema{}, fmt.Errorf("parameter %q: %w", p.Name, err)
		}
		schema.Properties[p.Name] = prop
		if p.Required && p.Default == nil {
			schema.Required = append(schema.Required, p.Name)
		}
	}
	return schema, nil
}

func propertySchema(p *Param) (mcp.PropertySchema, error) {
	prop := mcp.PropertySchema{Description: p.Description}
	switch p.Type {
	case ParamTypeString:
		prop.Type = "string"
		if p.Pattern != "" {
			if _, err := regexp.Compile(p.Pattern); err != nil {
				return prop, fmt.Errorf("invalid pattern %q: %w", p.Pattern, err)
			}
			prop.Pattern = p.Pattern
		}
		if len(p.Enum) > 0 {
			prop.Enum = p.Enum
		}

	case ParamTypeInteger, ParamTypeLong:
		prop.Type = "integer"
		prop.Minimum, prop.Maximum = bound(p.Min), bound(p.Max)

	case ParamTypeDouble:
		prop.Type = "number"
		prop.Minimum, prop.Maximum = bound(p.Min), bound(p.Max)

	case ParamTypeBoolean:
		prop.Type = "boolean"

	case ParamTypeObject:
		prop.Type = "object" // no deep schema extraction; the mapper deserialises

	default:
		return prop, fmt.Errorf("unknown parameter type %q", p.Type)
	}

	if lo, hi := bound(p.Min), bound(p.Max); lo != nil && hi != nil && *lo > *hi {
		return prop, fmt.Errorf("min %v > max %v", *lo, *hi)
	}
	return prop, nil
}

// bound normalizes a min/max limit: nil and ±Inf both mean "unset".
func bound(v *float64) *float64 {
	if v == nil || math.IsInf(*v, 0) {
		return nil
	}
	return v
}
