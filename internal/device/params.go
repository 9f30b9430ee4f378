package device

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ResolveParams validates provided against defs and returns a new map of
// coerced values.
//
// Definitions are processed in order. A nil value counts as absent. Absent
// optional parameters take their default, or are omitted when none is set.
// When defs is empty, provided passes through unmodified; otherwise keys
// without a definition are dropped.
func ResolveParams(defs []ParamDef, provided map[string]any) (map[string]any, error) {
	if len(defs) == 0 {
		if provided == nil {
			return map[string]any{}, nil
		}
		return provided, nil
	}

	resolved := make(map[string]any, len(defs))
	for _, def := range defs {
		raw, ok := provided[def.Name]
		if !ok || raw == nil {
			if def.Required {
				return nil, fmt.Errorf("%w: %q is missing", ErrMissingParameter, def.Name)
			}
			if def.Default == nil {
				continue
			}
			raw = def.Default
		}

		value, err := coerceParam(def, raw)
		if err != nil {
			return nil, err
		}
		resolved[def.Name] = value
	}
	return resolved, nil
}

// ValidateParamDefs checks that every definition has a name and a known type
// and that defaults satisfy their own definition.
func ValidateParamDefs(defs []ParamDef) error {
	seen := make(map[string]bool, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			return fmt.Errorf("%w: parameter name is empty", ErrInvalidParameter)
		}
		if seen[def.Name] {
			return fmt.Errorf("%w: duplicate parameter %q", ErrInvalidParameter, def.Name)
		}
		seen[def.Name] = true

		switch def.Type {
		case ParamString, ParamInteger, ParamFloat, ParamBoolean, ParamRange:
		default:
			return fmt.Errorf("%w: parameter %q has unknown type %q", ErrInvalidParameter, def.Name, def.Type)
		}
		if def.Min != nil && def.Max != nil && *def.Min > *def.Max {
			return fmt.Errorf("%w: parameter %q has min greater than max", ErrInvalidParameter, def.Name)
		}
		if def.Default != nil {
			if _, err := coerceParam(def, def.Default); err != nil {
				return fmt.Errorf("default: %w", err)
			}
		}
	}
	return nil
}

func coerceParam(def ParamDef, raw any) (any, error) {
	switch def.Type {
	case ParamString:
		if s, ok := raw.(string); ok {
			return s, nil
		}
		return fmt.Sprint(raw), nil

	case ParamBoolean:
		return parseBool(raw), nil

	case ParamInteger:
		n, ok := toFloat(raw)
		if !ok {
			return nil, &ValidationError{Param: def.Name, Value: raw, Expected: def.Type}
		}
		if n != math.Trunc(n) {
			return nil, &ValidationError{Param: def.Name, Value: raw, Expected: def.Type, Reason: "not a whole number"}
		}
		if n < math.MinInt64 || n >= 1<<63 {
			return nil, &ValidationError{Param: def.Name, Value: raw, Expected: def.Type, Reason: "outside integer range"}
		}
		if err := checkBounds(def, raw, n); err != nil {
			return nil, err
		}
		return int(n), nil

	case ParamFloat, ParamRange:
		n, ok := toFloat(raw)
		if !ok {
			return nil, &ValidationError{Param: def.Name, Value: raw, Expected: def.Type}
		}
		if err := checkBounds(def, raw, n); err != nil {
			return nil, err
		}
		return n, nil

	default:
		return nil, &ValidationError{
			Param:    def.Name,
			Value:    raw,
			Expected: def.Type,
			Reason:   fmt.Sprintf("unknown parameter type %q", def.Type),
		}
	}
}

func checkBounds(def ParamDef, raw any, n float64) error {
	if def.Min != nil && n < *def.Min {
		return &ValidationError{
			Param:    def.Name,
			Value:    raw,
			Expected: def.Type,
			Reason:   fmt.Sprintf("value %v below minimum %v", n, *def.Min),
		}
	}
	if def.Max != nil && n > *def.Max {
		return &ValidationError{
			Param:    def.Name,
			Value:    raw,
			Expected: def.Type,
			Reason:   fmt.Sprintf("value %v above maximum %v", n, *def.Max),
		}
	}
	return nil
}

// toFloat converts JSON-ish numeric values and numeric strings.
func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, !math.IsNaN(v) && !math.IsInf(v, 0)
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// parseBool accepts 1, true, yes and on (case-insensitive) as true.
// Everything else is false.
func parseBool(raw any) bool {
	switch v := raw.(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			return true
		}
		return false
	default:
		if n, ok := toFloat(v); ok {
			return n == 1
		}
		return false
	}
}
