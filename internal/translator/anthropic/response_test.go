package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBuildResponseHappyPath covers end-to-end scenario 1: a single text
// part with usage {prompt:3,total:5} maps to output_tokens:2.
func TestBuildResponseHappyPath(t *testing.T) {
	upstream := []byte(`{
		"response": {
			"candidates": [{
				"content": {"parts": [{"text": "hello"}]}
			}],
			"usageMetadata": {"promptTokenCount": 3, "totalTokenCount": 5}
		}
	}`)

	resp := BuildResponse("msg_1", "claude-sonnet-4-5", upstream)

	require.Len(t, resp.Content, 1)
	assert.Equal(t, "text", resp.Content[0].Type)
	assert.Equal(t, "hello", resp.Content[0].Text)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, 3, resp.Usage.InputTokens)
	assert.Equal(t, 2, resp.Usage.OutputTokens)
}

// TestBuildResponseThoughtSignatureEdgeCase covers end-to-end scenario 4 and
// An empty text part carrying only a signature, followed by a function
// call, must surface as a standalone empty thinking block then a tool_use
// block, with stop_reason "tool_use".
func TestBuildResponseThoughtSignatureEdgeCase(t *testing.T) {
	upstream := []byte(`{
		"response": {
			"candidates": [{
				"content": {"parts": [
					{"text": "", "thoughtSignature": "SIG1"},
					{"functionCall": {"name": "x", "args": {}, "id": "t1"}}
				]}
			}]
		}
	}`)

	resp := BuildResponse("msg_2", "claude-sonnet-4-5", upstream)

	require.Len(t, resp.Content, 2)
	assert.Equal(t, "thinking", resp.Content[0].Type)
	assert.Equal(t, "", resp.Content[0].Text)
	assert.Equal(t, "SIG1", resp.Content[0].Signature)

	assert.Equal(t, "tool_use", resp.Content[1].Type)
	assert.Equal(t, "x", resp.Content[1].Name)
	assert.Equal(t, "t1", resp.Content[1].ID)

	assert.Equal(t, "tool_use", resp.StopReason)
}

func TestBuildResponseThinkingWithSignatureFlushesOnBlockEnd(t *testing.T) {
	upstream := []byte(`{
		"response": {
			"candidates": [{
				"content": {"parts": [
					{"text": "reasoning...", "thought": true},
					{"text": "", "thought": true, "thoughtSignature": "SIGTHINK"},
					{"text": "answer"}
				]}
			}]
		}
	}`)

	resp := BuildResponse("msg_3", "claude-sonnet-4-5", upstream)

	require.Len(t, resp.Content, 2)
	assert.Equal(t, "thinking", resp.Content[0].Type)
	assert.Equal(t, "reasoning...", resp.Content[0].Text)
	assert.Equal(t, "SIGTHINK", resp.Content[0].Signature)
	assert.Equal(t, "text", resp.Content[1].Type)
	assert.Equal(t, "answer", resp.Content[1].Text)
}

func TestBuildResponseNonThoughtTextWithSignature(t *testing.T) {
	upstream := []byte(`{
		"response": {
			"candidates": [{
				"content": {"parts": [
					{"text": "some text", "thoughtSignature": "SIG2"}
				]}
			}]
		}
	}`)

	resp := BuildResponse("msg_4", "claude-sonnet-4-5", upstream)

	require.Len(t, resp.Content, 2)
	assert.Equal(t, "thinking", resp.Content[0].Type)
	assert.Equal(t, "SIG2", resp.Content[0].Signature)
	assert.Equal(t, "text", resp.Content[1].Type)
	assert.Equal(t, "some text", resp.Content[1].Text)
}

func TestBuildResponseUsageFallsBackToCandidatesPlusThoughts(t *testing.T) {
	upstream := []byte(`{
		"response": {
			"candidates": [{"content": {"parts": [{"text": "hi"}]}}],
			"usageMetadata": {"promptTokenCount": 10, "totalTokenCount": 4, "candidatesTokenCount": 2, "thoughtsTokenCount": 1}
		}
	}`)

	resp := BuildResponse("msg_5", "claude-sonnet-4-5", upstream)
	assert.Equal(t, 10, resp.Usage.InputTokens)
	assert.Equal(t, 3, resp.Usage.OutputTokens)
}
