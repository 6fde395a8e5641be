package anthropic

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// ContentBlock is one block of a Claude-shaped response.
type ContentBlock struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Signature string `json:"signature,omitempty"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Input     any    `json:"input,omitempty"`
}

// Usage mirrors Claude's usage object.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is a non-streaming Claude-shaped /v1/messages reply.
type Response struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Model        string         `json:"model"`
	Content      []ContentBlock `json:"content"`
	StopReason   string         `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        Usage          `json:"usage"`
}

// blockKind tracks the content block currently being built while walking
// upstream parts. The governing rule: a thought-signature must be returned
// in the exact block position where the upstream produced it.
type blockKind int

const (
	blockNone blockKind = iota
	blockText
	blockThinking
	blockFunction
)

// accumulator implements the signature-placement state machine shared by
// the non-streaming builder and (conceptually) the streaming one.
type accumulator struct {
	blocks     []ContentBlock
	current    blockKind
	text       strings.Builder
	thinking   strings.Builder
	thinkSig   string
	trailing   string
	sawToolUse bool
}

func (a *accumulator) flush() {
	switch a.current {
	case blockText:
		a.blocks = append(a.blocks, ContentBlock{Type: "text", Text: a.text.String()})
		a.text.Reset()
	case blockThinking:
		b := ContentBlock{Type: "thinking", Text: a.thinking.String()}
		if a.thinkSig != "" {
			b.Signature = a.thinkSig
			a.thinkSig = ""
		}
		a.blocks = append(a.blocks, b)
		a.thinking.Reset()
	}
	a.current = blockNone
}

// flushTrailing emits the stashed trailing signature as a dedicated empty
// thinking block.
func (a *accumulator) flushTrailing() {
	if a.trailing == "" {
		return
	}
	a.blocks = append(a.blocks, ContentBlock{Type: "thinking", Text: "", Signature: a.trailing})
	a.trailing = ""
}

// applyPart feeds one upstream part through the signature-placement edge
// cases.
func (a *accumulator) applyPart(part gjson.Result) {
	text := part.Get("text")
	thought := part.Get("thought").Bool()
	sig := part.Get("thoughtSignature").String()
	fc := part.Get("functionCall")

	if fc.Exists() {
		if a.current != blockNone {
			a.flush()
		}
		a.flushTrailing()
		block := ContentBlock{
			Type: "tool_use",
			ID:   fc.Get("id").String(),
			Name: fc.Get("name").String(),
		}
		if argsRaw := fc.Get("args"); argsRaw.Exists() {
			var input any
			_ = json.Unmarshal([]byte(argsRaw.Raw), &input)
			block.Input = input
		} else {
			block.Input = map[string]any{}
		}
		if fcSig := part.Get("thoughtSignature"); fcSig.Exists() {
			block.Signature = fcSig.String()
		}
		a.blocks = append(a.blocks, block)
		a.sawToolUse = true
		return
	}

	textStr := text.String()

	if thought {
		if a.current != blockThinking {
			if a.current != blockNone {
				a.flush()
			}
			a.flushTrailing()
			a.current = blockThinking
		}
		a.thinking.WriteString(textStr)
		if sig != "" {
			a.thinkSig = sig
		}
		return
	}

	if textStr == "" && sig != "" {
		// Empty text part carrying only a signature: stash as trailing,
		// do not attach to the current block.
		a.trailing = sig
		return
	}

	if textStr != "" && sig != "" {
		// Non-empty non-thought text with a signature: flush current text,
		// emit a dedicated empty thinking block carrying the signature.
		if a.current != blockNone {
			a.flush()
		}
		a.blocks = append(a.blocks, ContentBlock{Type: "thinking", Text: "", Signature: sig})
		if a.current != blockText {
			a.current = blockText
		}
		a.text.WriteString(textStr)
		return
	}

	if textStr != "" {
		if a.current != blockText {
			if a.current != blockNone {
				a.flush()
			}
			a.current = blockText
		}
		a.text.WriteString(textStr)
	}
}

// BuildResponse translates one upstream non-streaming reply into a
// Claude-shaped Response.
func BuildResponse(id, clientModel string, upstreamBody []byte) *Response {
	root := gjson.ParseBytes(upstreamBody)
	candidate := root.Get("response.candidates.0")
	if !candidate.Exists() {
		candidate = root.Get("candidates.0")
	}

	acc := &accumulator{}
	candidate.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
		acc.applyPart(part)
		return true
	})
	acc.flush()
	acc.flushTrailing()

	stopReason := "end_turn"
	if acc.sawToolUse {
		stopReason = "tool_use"
	} else if candidate.Get("finishReason").String() == "MAX_TOKENS" {
		stopReason = "max_tokens"
	}

	usageRoot := root.Get("response.usageMetadata")
	if !usageRoot.Exists() {
		usageRoot = root.Get("usageMetadata")
	}
	prompt := int(usageRoot.Get("promptTokenCount").Int())
	total := int(usageRoot.Get("totalTokenCount").Int())
	var output int
	if total >= prompt {
		output = total - prompt
	} else {
		output = int(usageRoot.Get("candidatesTokenCount").Int()) + int(usageRoot.Get("thoughtsTokenCount").Int())
	}

	return &Response{
		ID:         id,
		Type:       "message",
		Role:       "assistant",
		Model:      clientModel,
		Content:    acc.blocks,
		StopReason: stopReason,
		Usage:      Usage{InputTokens: prompt, OutputTokens: output},
	}
}
