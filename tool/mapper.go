package tool

import (
	"encoding/json"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// MapArguments converts a JSON argument object into the typed argument vector
// d's handler expects, applying defaults, required checks, coercion, and
// constraint validation in declaration order. It returns on the first
// violation with an error naming the offending parameter. Argument keys that
// name no declared parameter are rejected (the advertised schema says
// additionalProperties:false); the single-string sentinel key is the one
// exception.
func MapArguments(d *Descriptor, args map[string]any) (Args, *Error) {
	if args == nil {
		args = map[string]any{}
	}
	sentinelIdx := d.singleStringParam()

	for key := range args {
		if key == SentinelParamKey && sentinelIdx >= 0 {
			continue
		}
		if !slices.ContainsFunc(d.Params, func(p Param) bool { return p.Name == key }) {
			return nil, NewParameterError(d.Name, key, "unexpected argument")
		}
	}

	vector := make(Args, 0, len(d.Params))
	for i := range d.Params {
		p := &d.Params[i]
		raw, ok := args[p.Name]
		if !ok && i == sentinelIdx {
			raw, ok = args[SentinelParamKey]
		}
		if !ok {
			switch {
			case p.Default != nil:
				raw = *p.Default
			case p.Required:
				return nil, NewParameterError(d.Name, p.Name, "required parameter '%s' is missing", p.Name)
			default:
				vector = append(vector, zeroValue(p.Type))
				continue
			}
		}

		v, err := coerce(d.Name, p, raw)
		if err != nil {
			return nil, err
		}
		if err := validate(d.Name, p, v); err != nil {
			return nil, err
		}
		vector = append(vector, v)
	}
	return vector, nil
}

func zeroValue(t ParamType) any {
	switch t {
	case ParamTypeString:
		return ""
	case ParamTypeInteger, ParamTypeLong:
		return int64(0)
	case ParamTypeDouble:
		return float64(0)
	case ParamTypeBoolean:
		return false
	default: // object
		return map[string]any(nil)
	}
}

// coerce converts a raw JSON value (or a default's string form) to the
// parameter's declared Go type. Numbers accept any JSON number or a decimal
// string; booleans accept a bool or a case-insensitive "true"/"false" string;
// strings take any value's textual form; objects deserialise from a JSON
// object or a JSON-encoded string.
func coerce(toolName string, p *Param, raw any) (any, *Error) {
	switch p.Type {
	case ParamTypeString:
		return textualForm(raw), nil

	case ParamTypeInteger, ParamTypeLong:
		switch v := raw.(type) {
		case float64:
			if v != math.Trunc(v) {
				return nil, NewParameterError(toolName, p.Name, "expected an integer, got %v", v)
			}
			return int64(v), nil
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		case json.Number:
			n, err := v.Int64()
			if err != nil {
				return nil, NewParameterError(toolName, p.Name, "expected an integer, got %q", v.String())
			}
			return n, nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return nil, NewParameterError(toolName, p.Name, "expected an integer, got %q", v)
			}
			return n, nil
		default:
			return nil, NewParameterError(toolName, p.Name, "expected an integer, got %T", raw)
		}

	case ParamTypeDouble:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case int64:
			return float64(v), nil
		case int:
			return float64(v), nil
		case json.Number:
			f, err := v.Float64()
			if err != nil {
				return nil, NewParameterError(toolName, p.Name, "expected a number, got %q", v.String())
			}
			return f, nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, NewParameterError(toolName, p.Name, "expected a number, got %q", v)
			}
			return f, nil
		default:
			return nil, NewParameterError(toolName, p.Name, "expected a number, got %T", raw)
		}

	case ParamTypeBoolean:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true":
				return true, nil
			case "false":
				return false, nil
			}
			return nil, NewParameterError(toolName, p.Name, "expected true or false, got %q", v)
		default:
			return nil, NewParameterError(toolName, p.Name, "expected a boolean, got %T", raw)
		}

	case ParamTypeObject:
		switch v := raw.(type) {
		case map[string]any:
			return v, nil
		case string:
			m := map[string]any{}
			if err := json.Unmarshal([]byte(v), &m); err != nil {
				return nil, NewParameterError(toolName, p.Name, "expected a JSON object, got %q", v)
			}
			return m, nil
		default:
			return nil, NewParameterError(toolName, p.Name, "expected an object, got %T", raw)
		}

	default:
		return nil, NewParameterError(toolName, p.Name, "unknown parameter type %q", p.Type)
	}
}

// textualForm renders any JSON value the way a caller would expect to read it:
// strings as-is, numbers without a trailing ".0", composites as compact JSON.
func textualForm(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// validate applies the declared constraints to an already-coerced value:
// pattern for strings, min <= v <= max for numerics, enum membership for
// strings with a closed value set.
func validate(toolName string, p *Param, v any) *Error {
	switch p.Type {
	case ParamTypeString:
		s := v.(string)
		if p.Pattern != "" {
			re := p.patternRe
			if re == nil {
				compiled, err := regexp.Compile(p.Pattern)
				if err != nil {
					return NewParameterError(toolName, p.Name, "invalid pattern %q", p.Pattern)
				}
				re = compiled
			}
			if !re.MatchString(s) {
				return NewParameterError(toolName, p.Name, "value %q does not match pattern %q", s, p.Pattern)
			}
		}
		if len(p.Enum) > 0 && !slices.Contains(p.Enum, s) {
			return NewParameterError(toolName, p.Name, "value %q must be one of: %s", s, strings.Join(p.Enum, ", "))
		}

	case ParamTypeInteger, ParamTypeLong:
		return checkRange(toolName, p, float64(v.(int64)))

	case ParamTypeDouble:
		return checkRange(toolName, p, v.(float64))
	}
	return nil
}

func checkRange(toolName string, p *Param, v float64) *Error {
	if lo := bound(p.Min); lo != nil && v < *lo {
		return NewParameterError(toolName, p.Name, "value %v is below the minimum %v", v, *lo)
	}
	if hi := bound(p.Max); hi != nil && v > *hi {
		return NewParameterError(toolName, p.Name, "value %v is above the maximum %v", v, *hi)
	}
	return nil
}
