package google

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"
)

func TestUnwrapResponsePrefersResponseField(t *testing.T) {
	chunk := []byte(`{"response":{"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}}`)
	out := UnwrapResponse(chunk)
	assert.Equal(t, "hi", gjson.GetBytes(out, "candidates.0.content.parts.0.text").String())
}

func TestUnwrapResponseFallsBackToChunkItself(t *testing.T) {
	chunk := []byte(`{"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}`)
	out := UnwrapResponse(chunk)
	assert.Equal(t, "hi", gjson.GetBytes(out, "candidates.0.content.parts.0.text").String())
}

// TestAggregateProStreamMergesConsecutiveTextAndThoughtParts covers the
// pro-variant aggregation rule.
func TestAggregateProStreamMergesConsecutiveTextAndThoughtParts(t *testing.T) {
	chunks := [][]byte{
		[]byte(`{"response":{"candidates":[{"content":{"parts":[{"text":"thinking A","thought":true}]}}]}}`),
		[]byte(`{"response":{"candidates":[{"content":{"parts":[{"text":" thinking B","thought":true,"thoughtSignature":"SIG"}]}}]}}`),
		[]byte(`{"response":{"candidates":[{"content":{"parts":[{"text":"hello "}]}}]}}`),
		[]byte(`{"response":{"candidates":[{"content":{"parts":[{"text":"world"}]}}]}}`),
	}

	out := AggregateProStream(chunks)
	parts := gjson.GetBytes(out, "candidates.0.content.parts").Array()
	assertPartsMerged(t, parts)
}

func assertPartsMerged(t *testing.T, parts []gjson.Result) {
	t.Helper()
	if len(parts) != 2 {
		t.Fatalf("expected 2 merged parts, got %d: %v", len(parts), parts)
	}
	thinking := parts[0]
	assert.True(t, thinking.Get("thought").Bool())
	assert.Equal(t, "thinking A thinking B", thinking.Get("text").String())
	assert.Equal(t, "SIG", thinking.Get("thoughtSignature").String())

	text := parts[1]
	assert.False(t, text.Get("thought").Exists() && text.Get("thought").Bool())
	assert.Equal(t, "hello world", text.Get("text").String())
}
