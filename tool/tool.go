// Package tool turns declarative tool metadata into a strongly-typed registry:
// it derives JSON Schemas from parameter descriptors, maps loosely-typed JSON
// argument objects onto each tool's declared parameter types, and serialises
// handler return values into MCP content envelopes.
package tool

import (
	"context"
	"fmt"
	"regexp"

	"github.com/wingie/webagent/mcp"
)

// SentinelParamKey is the well-known argument key accepted for tools that
// declare exactly one string parameter, for callers that cannot name
// parameters. The advertised schema still names the actual parameter.
const SentinelParamKey = "provideAllValuesInPlainEnglish"

// ParamType is a parameter's declared type tag.
type ParamType string

const (
	ParamTypeString  ParamType = "string"
	ParamTypeInteger ParamType = "integer"
	ParamTypeLong    ParamType = "long"
	ParamTypeDouble  ParamType = "double"
	ParamTypeBoolean ParamType = "boolean"
	ParamTypeObject  ParamType = "object"
)

// goType names the Go type a coerced value of this tag has; used in
// diagnostics and tests.
func (t ParamType) goType() string {
	switch t {
	case ParamTypeString:
		return "string"
	case ParamTypeInteger, ParamTypeLong:
		return "int64"
	case ParamTypeDouble:
		return "float64"
	case ParamTypeBoolean:
		return "bool"
	case ParamTypeObject:
		return "map[string]any"
	default:
		return "unknown"
	}
}

// Param describes one declared tool parameter. Min/Max apply to numeric types
// only; nil (or a ±Inf value) means unbounded. Pattern applies to strings only.
type Param struct {
	Name        string
	Type        ParamType
	Required    bool
	Default     *string // string form, parsed as the parameter's type; nil = unset
	Pattern     string
	Min         *float64
	Max         *float64
	Enum        []string
	Example     string
	Description string

	patternRe *regexp.Regexp // compiled by Descriptor.compile
}

// Descriptor is a tool's immutable registration record. InputSchema is
// derived from Params at registration; the two never drift because nothing
// else ever writes it.
type Descriptor struct {
	Name        string
	Description string
	Enabled     bool
	Async       bool   // invoked through the task executor rather than inline
	TaskType    string // task type submitted for async tools; defaults to Name
	TimeoutMs   int64  // 0 = use the configured default
	Params      []Param
	InputSchema mcp.JSONSchema
}

// Handler executes a tool. args holds the coerced values in declaration order.
type Handler func(ctx context.Context, args Args) (any, error)

// Args is the typed argument vector produced by the parameter mapper: one
// element per declared parameter, in declaration order. Element types are
// string, int64, float64, bool, or map[string]any per the declared tag;
// optional parameters that were absent (and had no default) hold their type's
// zero value (nil for object).
type Args []any

func (a Args) String(i int) string { return a[i].(string) }
func (a Args) Int(i int) int64     { return a[i].(int64) }
func (a Args) Float(i int) float64 { return a[i].(float64) }
func (a Args) Bool(i int) bool     { return a[i].(bool) }
func (a Args) Object(i int) map[string]any {
	v, _ := a[i].(map[string]any)
	return v
}

// Registration pairs a Descriptor with its Handler for Registry.RegisterAll.
type Registration struct {
	Descriptor Descriptor
	Handler    Handler
}

// New builds a tool registration from a name, description, parameter
// descriptors, and the handler to record for it. Tools built here are enabled;
// flip Descriptor.Enabled off (or set TimeoutMs/Async) before registering when
// needed.
func New(name, description string, params []Param, h Handler) Registration {
	return Registration{
		Descriptor: Descriptor{Name: name, Description: description, Enabled: true, Params: params},
		Handler:    h,
	}
}

// compile validates d's parameter list, derives InputSchema, and caches each
// string parameter's compiled pattern. Any error leaves d unusable for
// registration.
func (d *Descriptor) compile() error {
	if d.Name == "" {
		return fmt.Errorf("tool has no name")
	}
	schema, err := BuildInputSchema(d.Params)
	if err != nil {
		return fmt.Errorf("tool %q: %w", d.Name, err)
	}
	d.InputSchema = schema
	for i := range d.Params {
		p := &d.Params[i]
		if p.Pattern != "" {
			p.patternRe = regexp.MustCompile(p.Pattern) // BuildInputSchema already verified it compiles
		}
		if p.Default != nil {
			if _, err := coerce(d.Name, p, *p.Default); err != nil {
				return fmt.Errorf("tool %q: parameter %q: default value %q: %w", d.Name, p.Name, *p.Default, err)
			}
		}
	}
	return nil
}

// singleStringParam returns the index of d's only parameter when that
// parameter is a string; otherwise -1. Such tools additionally accept their
// argument under SentinelParamKey.
func (d *Descriptor) singleStringParam() int {
	if len(d.Params) == 1 && d.Params[0].Type == ParamTypeString {
		return 0
	}
	return -1
}
