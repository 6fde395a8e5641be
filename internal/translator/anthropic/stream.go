package anthropic

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// Event is one Server-Sent Event the streaming translator emits.
type Event struct {
	Name string
	Data []byte
}

func sseEvent(name string, data any) Event {
	b, _ := json.Marshal(data)
	return Event{Name: name, Data: b}
}

// StreamState drives the streaming translation state machine: it
// consumes one upstream SSE chunk at a time and returns the client-facing
// events to forward. States are {none, text, thinking, function}; every
// transition closes the current block before starting a new one, and the
// output index increments on every content_block_stop.
type StreamState struct {
	id         string
	model      string
	index      int
	current    blockKind
	thinkSig   string
	trailing   string
	sawToolUse bool

	// finishReason and usage are carried by late upstream chunks; the last
	// value seen wins and is reported by Finish.
	finishReason string
	usage        gjson.Result
}

// NewStreamState begins a stream for one response.
func NewStreamState(id, clientModel string) *StreamState {
	return &StreamState{id: id, model: clientModel}
}

// Start emits message_start. Call once before any chunk is processed.
func (s *StreamState) Start() []Event {
	return []Event{sseEvent("message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":      s.id,
			"type":    "message",
			"role":    "assistant",
			"model":   s.model,
			"content": []any{},
			"usage":   map[string]any{"input_tokens": 0, "output_tokens": 0},
		},
	})}
}

// closeCurrent closes whatever block is open, if any, incrementing index.
func (s *StreamState) closeCurrent() []Event {
	if s.current == blockNone {
		return nil
	}
	var events []Event
	if s.current == blockThinking && s.thinkSig != "" {
		events = append(events, sseEvent("content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": s.index,
			"delta": map[string]any{"type": "signature_delta", "signature": s.thinkSig},
		}))
		s.thinkSig = ""
	}
	events = append(events, sseEvent("content_block_stop", map[string]any{
		"type":  "content_block_stop",
		"index": s.index,
	}))
	s.current = blockNone
	s.index++
	return events
}

// flushTrailing emits a standalone empty thinking block carrying a stashed
// trailing signature.
func (s *StreamState) flushTrailing() []Event {
	if s.trailing == "" {
		return nil
	}
	sig := s.trailing
	s.trailing = ""
	events := []Event{
		sseEvent("content_block_start", map[string]any{
			"type":  "content_block_start",
			"index": s.index,
			"content_block": map[string]any{"type": "thinking", "text": ""},
		}),
		sseEvent("content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": s.index,
			"delta": map[string]any{"type": "signature_delta", "signature": sig},
		}),
		sseEvent("content_block_stop", map[string]any{
			"type":  "content_block_stop",
			"index": s.index,
		}),
	}
	s.index++
	return events
}

func (s *StreamState) startBlock(kind blockKind, openingBlock map[string]any) []Event {
	s.current = kind
	return []Event{sseEvent("content_block_start", map[string]any{
		"type":          "content_block_start",
		"index":         s.index,
		"content_block": openingBlock,
	})}
}

// ApplyChunk translates one upstream SSE chunk (already unwrapped of its
// transport envelope) into zero or more client-facing events.
func (s *StreamState) ApplyChunk(chunk []byte) []Event {
	root := gjson.ParseBytes(chunk)
	candidate := root.Get("response.candidates.0")
	if !candidate.Exists() {
		candidate = root.Get("candidates.0")
	}

	if fr := candidate.Get("finishReason"); fr.Exists() {
		s.finishReason = fr.String()
	}
	usage := root.Get("response.usageMetadata")
	if !usage.Exists() {
		usage = root.Get("usageMetadata")
	}
	if usage.Exists() {
		s.usage = usage
	}

	var events []Event
	candidate.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
		events = append(events, s.applyPart(part)...)
		return true
	})
	return events
}

func (s *StreamState) applyPart(part gjson.Result) []Event {
	fc := part.Get("functionCall")
	if fc.Exists() {
		var events []Event
		events = append(events, s.closeCurrent()...)
		events = append(events, s.flushTrailing()...)

		name := fc.Get("name").String()
		id := fc.Get("id").String()
		events = append(events, s.startBlock(blockFunction, map[string]any{
			"type": "tool_use", "id": id, "name": name, "input": map[string]any{},
		})...)

		args := "{}"
		if argsRaw := fc.Get("args"); argsRaw.Exists() {
			args = argsRaw.Raw
		}
		events = append(events, sseEvent("content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": s.index,
			"delta": map[string]any{"type": "input_json_delta", "partial_json": args},
		}))

		events = append(events, s.closeCurrent()...)
		s.sawToolUse = true
		return events
	}

	text := part.Get("text")
	thought := part.Get("thought").Bool()
	sig := part.Get("thoughtSignature").String()
	textStr := text.String()

	if thought {
		var events []Event
		if s.current != blockThinking {
			events = append(events, s.closeCurrent()...)
			events = append(events, s.flushTrailing()...)
			events = append(events, s.startBlock(blockThinking, map[string]any{"type": "thinking", "text": ""})...)
		}
		if textStr != "" {
			events = append(events, sseEvent("content_block_delta", map[string]any{
				"type":  "content_block_delta",
				"index": s.index,
				"delta": map[string]any{"type": "thinking_delta", "thinking": textStr},
			}))
		}
		if sig != "" {
			s.thinkSig = sig
		}
		return events
	}

	if textStr == "" && sig != "" {
		s.trailing = sig
		return nil
	}

	if textStr != "" && sig != "" {
		var events []Event
		events = append(events, s.closeCurrent()...)
		events = append(events, s.flushTrailing()...)
		sigEvents := []Event{
			sseEvent("content_block_start", map[string]any{
				"type": "content_block_start", "index": s.index,
				"content_block": map[string]any{"type": "thinking", "text": ""},
			}),
			sseEvent("content_block_delta", map[string]any{
				"type": "content_block_delta", "index": s.index,
				"delta": map[string]any{"type": "signature_delta", "signature": sig},
			}),
			sseEvent("content_block_stop", map[string]any{"type": "content_block_stop", "index": s.index}),
		}
		s.index++
		events = append(events, sigEvents...)
		events = append(events, s.startBlock(blockText, map[string]any{"type": "text", "text": ""})...)
		events = append(events, sseEvent("content_block_delta", map[string]any{
			"type": "content_block_delta", "index": s.index,
			"delta": map[string]any{"type": "text_delta", "text": textStr},
		}))
		return events
	}

	if textStr != "" {
		var events []Event
		if s.current != blockText {
			events = append(events, s.closeCurrent()...)
			events = append(events, s.flushTrailing()...)
			events = append(events, s.startBlock(blockText, map[string]any{"type": "text", "text": ""})...)
		}
		events = append(events, sseEvent("content_block_delta", map[string]any{
			"type": "content_block_delta", "index": s.index,
			"delta": map[string]any{"type": "text_delta", "text": textStr},
		}))
		return events
	}

	return nil
}

// Finish closes any open block, flushes a trailing signature, and emits
// message_delta + message_stop.
func (s *StreamState) Finish() []Event {
	var events []Event
	events = append(events, s.closeCurrent()...)
	events = append(events, s.flushTrailing()...)

	stopReason := "end_turn"
	if s.sawToolUse {
		stopReason = "tool_use"
	} else if s.finishReason == "MAX_TOKENS" {
		stopReason = "max_tokens"
	}

	usage := s.usage
	prompt := int(usage.Get("promptTokenCount").Int())
	total := int(usage.Get("totalTokenCount").Int())
	var output int
	if total >= prompt {
		output = total - prompt
	} else {
		output = int(usage.Get("candidatesTokenCount").Int()) + int(usage.Get("thoughtsTokenCount").Int())
	}

	events = append(events, sseEvent("message_delta", map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": stopReason, "stop_sequence": nil},
		"usage": map[string]any{"input_tokens": prompt, "output_tokens": output},
	}))
	events = append(events, sseEvent("message_stop", map[string]any{"type": "message_stop"}))
	return events
}

// Encode renders an Event in the text/event-stream wire format.
func Encode(e Event) []byte {
	var b strings.Builder
	b.WriteString("event: ")
	b.WriteString(e.Name)
	b.WriteString("\ndata: ")
	b.Write(e.Data)
	b.WriteString("\n\n")
	return []byte(b.String())
}
