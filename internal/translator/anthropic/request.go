package anthropic

import (
	"encoding/json"
	"strings"

	"github.com/quotarelay/quotarelay/internal/translator/schema"
)

// noContentPlaceholder is dropped from text blocks on the way upstream.
const noContentPlaceholder = "(no content)"

// maxOutputTokens is fixed for every request.
const maxOutputTokens = 64000

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      json.RawMessage    `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	TopP        *float64           `json:"top_p,omitempty"`
	TopK        *int               `json:"top_k,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	Thinking    *anthropicThinking `json:"thinking,omitempty"`
}

type anthropicMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type anthropicThinking struct {
	Type         string `json:"type,omitempty"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// Converted holds the translated upstream content and bookkeeping an
// in-flight request needs for later stages (response translation).
type Converted struct {
	// Contents is the upstream "contents" array: []map[string]any{role,parts}.
	Contents []any
	// Tools is the upstream "tools" array, or nil when the client sent none.
	Tools []any
	// GenerationConfig is the upstream "generationConfig" object.
	GenerationConfig map[string]any
	// UpstreamModel is the resolved upstream model id (possibly forced to
	// the flash variant by a web_search tool).
	UpstreamModel string
	// RequestType is "web_search" when a web_search tool forced it, else "".
	RequestType string
	// ToolIDToName maps tool_use block ids to tool names, for resolving
	// tool_result blocks that only carry the id.
	ToolIDToName map[string]string
}

// ConvertRequest translates an Anthropic /v1/messages request body into the
// upstream content schema.
func ConvertRequest(raw []byte) (*Converted, error) {
	var req anthropicRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, err
	}

	out := &Converted{ToolIDToName: map[string]string{}}
	out.UpstreamModel = ResolveModel(req.Model)

	var contents []any
	if sys := systemText(req.System); sys != "" {
		contents = append(contents, map[string]any{
			"role":  "user",
			"parts": []any{map[string]any{"text": sys}},
		})
	}

	for _, m := range req.Messages {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		parts := convertContentBlocks(m.Content, out.ToolIDToName)
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, map[string]any{"role": role, "parts": parts})
	}
	out.Contents = contents

	thinkingEnabled := req.Thinking != nil && req.Thinking.Type == "enabled"
	budget := 0
	if req.Thinking != nil {
		budget = req.Thinking.BudgetTokens
	}

	forcedFlash := false
	for _, t := range req.Tools {
		if t.Name == "web_search" {
			forcedFlash = true
			break
		}
	}

	if forcedFlash {
		out.UpstreamModel = flashModel
		out.RequestType = "web_search"
		if budget == 0 || budget > flashThinkingBudgetCap {
			budget = flashThinkingBudgetCap
		}
		out.Tools = []any{map[string]any{"googleSearch": map[string]any{}}}
	} else if len(req.Tools) > 0 {
		decls := make([]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			decl := map[string]any{"name": t.Name}
			if t.Description != "" {
				decl["description"] = t.Description
			}
			if len(t.InputSchema) > 0 {
				var cleaned any
				if err := json.Unmarshal(schema.Clean(t.InputSchema), &cleaned); err == nil {
					decl["parameters"] = cleaned
				}
			}
			decls = append(decls, decl)
		}
		out.Tools = []any{map[string]any{"functionDeclarations": decls}}
	}

	gen := map[string]any{"maxOutputTokens": maxOutputTokens}
	if thinkingEnabled {
		gen["thinkingConfig"] = map[string]any{
			"includeThoughts": true,
			"thinkingBudget":  budget,
		}
	}
	if req.Temperature != nil {
		gen["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		gen["topP"] = *req.TopP
	}
	if req.TopK != nil {
		gen["topK"] = *req.TopK
	}
	gen["safetySettings"] = defaultSafetySettings()
	out.GenerationConfig = gen

	return out, nil
}

// defaultSafetySettings disables every category the upstream recognizes,
// so the upstream never blocks a completion on its own filters.
func defaultSafetySettings() []any {
	categories := []string{
		"HARM_CATEGORY_HARASSMENT",
		"HARM_CATEGORY_HATE_SPEECH",
		"HARM_CATEGORY_SEXUALLY_EXPLICIT",
		"HARM_CATEGORY_DANGEROUS_CONTENT",
	}
	out := make([]any, 0, len(categories))
	for _, c := range categories {
		out = append(out, map[string]any{"category": c, "threshold": "OFF"})
	}
	return out
}

// systemText flattens the Anthropic "system" field, which may be a bare
// string or a list of text blocks, into a single string.
func systemText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []map[string]any
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		if text, ok := b["text"].(string); ok && text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n")
}

// convertContentBlocks translates one message's "content" (a bare string or
// a list of typed blocks) into upstream parts.
func convertContentBlocks(raw json.RawMessage, toolIDToName map[string]string) []any {
	if len(raw) == 0 {
		return nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if text == "" || text == noContentPlaceholder {
			return nil
		}
		return []any{map[string]any{"text": text}}
	}

	var blocks []map[string]any
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil
	}

	var parts []any
	for _, b := range blocks {
		switch b["type"] {
		case "text":
			text, _ := b["text"].(string)
			if text == "" || text == noContentPlaceholder {
				continue
			}
			parts = append(parts, map[string]any{"text": text})

		case "thinking", "redacted_thinking":
			// redacted_thinking is folded into a normal thought:true text
			// block rather than preserved as opaque bytes.
			text, _ := b["thinking"].(string)
			if text == "" {
				text, _ = b["data"].(string)
			}
			part := map[string]any{"text": text, "thought": true}
			if sig, ok := b["signature"].(string); ok && sig != "" {
				part["thoughtSignature"] = sig
			}
			parts = append(parts, part)

		case "tool_use":
			id, _ := b["id"].(string)
			name, _ := b["name"].(string)
			if id != "" && name != "" {
				toolIDToName[id] = name
			}
			fc := map[string]any{"name": name, "id": id}
			if args, ok := b["input"]; ok {
				fc["args"] = args
			} else {
				fc["args"] = map[string]any{}
			}
			part := map[string]any{"functionCall": fc}
			if sig, ok := b["signature"].(string); ok && sig != "" {
				part["thoughtSignature"] = sig
			}
			parts = append(parts, part)

		case "tool_result":
			id, _ := b["tool_use_id"].(string)
			name := toolIDToName[id]
			result := toolResultText(b["content"])
			parts = append(parts, map[string]any{
				"functionResponse": map[string]any{
					"name":     name,
					"id":       id,
					"response": map[string]any{"result": result},
				},
			})

		case "image":
			src, _ := b["source"].(map[string]any)
			if src == nil {
				continue
			}
			mediaType, _ := src["media_type"].(string)
			data, _ := src["data"].(string)
			parts = append(parts, map[string]any{
				"inlineData": map[string]any{"mimeType": mediaType, "data": data},
			})
		}
	}
	return parts
}

// toolResultText flattens a tool_result's "content" field (a bare string or
// a list of blocks) into a single string.
func toolResultText(content any) string {
	switch c := content.(type) {
	case string:
		return c
	case []any:
		var parts []string
		for _, item := range c {
			b, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := b["text"].(string); ok {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}
