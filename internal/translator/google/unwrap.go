package google

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// UnwrapResponse extracts the actual response payload from an upstream
// chunk, which may or may not carry the {response: {...}} envelope.
func UnwrapResponse(chunk []byte) []byte {
	if r := gjson.GetBytes(chunk, "response"); r.Exists() {
		return []byte(r.Raw)
	}
	return chunk
}

// AggregateProStream merges a sequence of SSE chunks from a forced-stream
// "pro" model call into a single response: within one response, consecutive
// plain-text parts merge into one, and consecutive thought:true parts merge
// into one, keeping the latest non-empty signature.
func AggregateProStream(chunks [][]byte) []byte {
	if len(chunks) == 0 {
		return []byte(`{}`)
	}

	var merged []any
	lastKind := "" // "text" or "thought"
	appendPart := func(kind, text, signature string) {
		if kind == lastKind && len(merged) > 0 {
			last := merged[len(merged)-1].(map[string]any)
			last["text"] = last["text"].(string) + text
			if signature != "" {
				last["thoughtSignature"] = signature
			}
			return
		}
		part := map[string]any{"text": text}
		if kind == "thought" {
			part["thought"] = true
		}
		if signature != "" {
			part["thoughtSignature"] = signature
		}
		merged = append(merged, part)
		lastKind = kind
	}

	var last gjson.Result
	for _, chunk := range chunks {
		unwrapped := UnwrapResponse(chunk)
		last = gjson.ParseBytes(unwrapped)
		candidate := last.Get("candidates.0")
		candidate.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
			fc := part.Get("functionCall")
			if fc.Exists() {
				merged = append(merged, map[string]any{"functionCall": jsonAny(fc.Raw)})
				lastKind = ""
				return true
			}
			kind := "text"
			if part.Get("thought").Bool() {
				kind = "thought"
			}
			appendPart(kind, part.Get("text").String(), part.Get("thoughtSignature").String())
			return true
		})
	}

	out := last.Raw
	if out == "" {
		out = `{"candidates":[{"content":{"parts":[]}}]}`
	}
	out, _ = sjson.SetRaw(out, "candidates.0.content.parts", mustMarshal(merged))
	return []byte(out)
}
