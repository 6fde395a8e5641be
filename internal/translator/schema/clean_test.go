package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanStripsAndFlattensAndUppercases(t *testing.T) {
	input := json.RawMessage(`{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"additionalProperties": false,
		"properties": {
			"count": {"type": ["integer", "null"], "minimum": 1, "maximum": 10},
			"name": {"type": "string", "format": "email", "default": "x"}
		}
	}`)

	out := Clean(input)
	var parsed map[string]any
	require.NoError(t, json.Unmarshal(out, &parsed))

	assert.Equal(t, "OBJECT", parsed["type"])
	_, hasAdditional := parsed["additionalProperties"]
	assert.False(t, hasAdditional)

	props := parsed["properties"].(map[string]any)
	count := props["count"].(map[string]any)
	assert.Equal(t, "INTEGER", count["type"])
	assert.Contains(t, count["description"], "minimum")

	name := props["name"].(map[string]any)
	assert.Equal(t, "STRING", name["type"])
	_, hasFormat := name["format"]
	assert.False(t, hasFormat)
	_, hasDefault := name["default"]
	assert.False(t, hasDefault)
}

func TestCleanIsIdempotent(t *testing.T) {
	input := json.RawMessage(`{
		"type": ["string", "null"],
		"minLength": 3,
		"properties": {"a": {"type": "boolean", "uniqueItems": true}}
	}`)

	once := Clean(input)
	twice := Clean(once)

	var a, b map[string]any
	require.NoError(t, json.Unmarshal(once, &a))
	require.NoError(t, json.Unmarshal(twice, &b))
	assert.Equal(t, a, b)
}
