package google

import "encoding/json"

// jsonAny decodes a raw JSON value into a generic any, for splicing into a
// merged parts array built with map[string]any/[]any.
func jsonAny(raw string) any {
	var v any
	_ = json.Unmarshal([]byte(raw), &v)
	return v
}

// mustMarshal serializes v, returning "null" on failure rather than
// panicking; merged part arrays are always built from valid JSON so this
// only defends against a nil slice.
func mustMarshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}
