package device

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeParams maps an inbound bus payload onto a raw parameter map for a
// command with the given definitions.
//
//   - an empty payload yields an empty map
//   - a JSON object is used as-is
//   - any other JSON value is bound to the single parameter, or dropped when
//     the command takes no parameters
//   - text that is not JSON is bound verbatim to the single parameter
//
// Anything else is rejected with ErrInvalidPayload.
func DecodeParams(payload string, defs []ParamDef) (map[string]any, error) {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" {
		return map[string]any{}, nil
	}

	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		if len(defs) == 1 {
			return map[string]any{defs[0].Name: payload}, nil
		}
		return nil, fmt.Errorf("%w: not valid JSON for a command with %d parameters", ErrInvalidPayload, len(defs))
	}

	if obj, ok := decoded.(map[string]any); ok {
		return obj, nil
	}

	switch len(defs) {
	case 0:
		return map[string]any{}, nil
	case 1:
		return map[string]any{defs[0].Name: decoded}, nil
	default:
		return nil, fmt.Errorf("%w: scalar payload for a command with %d parameters", ErrInvalidPayload, len(defs))
	}
}
