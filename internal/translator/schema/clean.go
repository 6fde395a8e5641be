// Package schema cleans client-supplied JSON Schema tool definitions into
// the shape the upstream's function-declaration schema accepts.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// strippedKeys are removed anywhere they appear in the schema tree.
var strippedKeys = map[string]struct{}{
	"$schema":              {},
	"additionalProperties": {},
	"format":               {},
	"default":              {},
	"uniqueItems":          {},
}

// constraintKeys are flattened into the description rather than dropped
// outright, so the model still sees the intent even though the upstream
// schema dialect does not carry them.
var constraintKeys = []string{
	"minimum", "maximum", "minLength", "maxLength",
	"minItems", "maxItems", "minProperties", "maxProperties",
	"pattern", "multipleOf", "exclusiveMinimum", "exclusiveMaximum",
}

// Clean recursively rewrites input_schema/parameters JSON Schema documents:
// strips validator-only keys, flattens constraints into the description,
// collapses ["T","null"] unions to T, and uppercases every "type" value.
// Clean is idempotent: re-applying it to its own output is a
// no-op.
func Clean(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	cleaned := cleanValue(v)
	out, err := json.Marshal(cleaned)
	if err != nil {
		return raw
	}
	return out
}

func cleanValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cleanObject(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cleanValue(item)
		}
		return out
	default:
		return v
	}
}

func cleanObject(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	var notes []string

	for k, v := range m {
		if _, strip := strippedKeys[k]; strip {
			continue
		}
		if isConstraintKey(k) {
			notes = append(notes, fmt.Sprintf("%s: %v", k, v))
			continue
		}
		out[k] = cleanValue(v)
	}

	if typ, ok := out["type"]; ok {
		out["type"] = normalizeType(typ)
	}

	if len(notes) > 0 {
		desc, _ := out["description"].(string)
		suffix := strings.Join(notes, "; ")
		if desc != "" {
			out["description"] = desc + " (" + suffix + ")"
		} else {
			out["description"] = suffix
		}
	}

	return out
}

func isConstraintKey(k string) bool {
	for _, c := range constraintKeys {
		if c == k {
			return true
		}
	}
	return false
}

// normalizeType collapses a ["T","null"] union to T and uppercases the
// result. A bare string type is uppercased directly.
func normalizeType(v any) any {
	switch t := v.(type) {
	case string:
		return strings.ToUpper(t)
	case []any:
		var nonNull []any
		for _, item := range t {
			if s, ok := item.(string); ok && strings.EqualFold(s, "null") {
				continue
			}
			nonNull = append(nonNull, item)
		}
		if len(nonNull) == 1 {
			if s, ok := nonNull[0].(string); ok {
				return strings.ToUpper(s)
			}
			return nonNull[0]
		}
		out := make([]any, len(nonNull))
		for i, item := range nonNull {
			if s, ok := item.(string); ok {
				out[i] = strings.ToUpper(s)
			} else {
				out[i] = item
			}
		}
		return out
	default:
		return v
	}
}
