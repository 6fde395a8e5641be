package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/quotarelay/quotarelay/internal/accounts"
	"github.com/quotarelay/quotarelay/internal/orchestrator"
	"github.com/quotarelay/quotarelay/internal/translator/anthropic"
	"github.com/quotarelay/quotarelay/internal/translator/google"
)

// anthropicEnvelope builds the upstream v1internal request body shared by
// both wire surfaces: {contents, tools, generationConfig} wrapped with
// {project, requestId, model, userAgent, requestType}.
func anthropicEnvelope(conv *anthropic.Converted) ([]byte, error) {
	body := map[string]any{"contents": conv.Contents, "generationConfig": conv.GenerationConfig}
	if conv.Tools != nil {
		body["tools"] = conv.Tools
	}
	return json.Marshal(body)
}

func (h *Handlers) handleMessages(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil || !json.Valid(raw) {
		writeInvalidJSON(c)
		return
	}

	clientModel := gjson.GetBytes(raw, "model").String()
	stream := gjson.GetBytes(raw, "stream").Bool()

	conv, err := anthropic.ConvertRequest(raw)
	if err != nil {
		writeInvalidJSON(c)
		return
	}

	requestBody, err := anthropicEnvelope(conv)
	if err != nil {
		writeInvalidJSON(c)
		return
	}

	method := "generateContent"
	if stream {
		method = "streamGenerateContent"
	}

	req := orchestrator.Request{
		Group:  accounts.GroupForModel(conv.UpstreamModel),
		Model:  conv.UpstreamModel,
		Method: method,
		BuildBody: func(projectID string) ([]byte, error) {
			return google.WrapRequest(requestBody, projectID, conv.UpstreamModel, conv.RequestType)
		},
	}

	resp, err := h.Orchestrator.CallV1Internal(c.Request.Context(), req)
	if err != nil {
		writeOrchestratorError(c, err)
		return
	}
	if !success(resp.StatusCode) {
		writePassthrough(c, resp)
		return
	}

	msgID := "msg_" + uuid.NewString()

	if !stream {
		c.JSON(http.StatusOK, anthropic.BuildResponse(msgID, clientModel, resp.Body))
		return
	}

	h.streamAnthropicResponse(c, msgID, clientModel, resp.Body)
}

func (h *Handlers) streamAnthropicResponse(c *gin.Context, msgID, clientModel string, body []byte) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.WriteHeader(http.StatusOK)

	write := func(events []anthropic.Event) {
		for _, ev := range events {
			_, _ = c.Writer.Write(anthropic.Encode(ev))
		}
		c.Writer.Flush()
	}

	state := anthropic.NewStreamState(msgID, clientModel)
	write(state.Start())
	for _, chunk := range splitSSEChunks(body) {
		write(state.ApplyChunk(chunk))
	}
	write(state.Finish())
}

func (h *Handlers) handleCountTokens(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil || !json.Valid(raw) {
		writeInvalidJSON(c)
		return
	}

	conv, err := anthropic.ConvertRequest(raw)
	if err != nil {
		writeInvalidJSON(c)
		return
	}

	requestBody, err := anthropicEnvelope(conv)
	if err != nil {
		writeInvalidJSON(c)
		return
	}

	req := orchestrator.Request{
		Group:  accounts.GroupForModel(conv.UpstreamModel),
		Model:  conv.UpstreamModel,
		Method: "countTokens",
		BuildBody: func(projectID string) ([]byte, error) {
			return google.WrapRequest(requestBody, projectID, conv.UpstreamModel, conv.RequestType)
		},
	}

	resp, err := h.Orchestrator.CallV1Internal(c.Request.Context(), req)
	if err != nil {
		writeOrchestratorError(c, err)
		return
	}
	if !success(resp.StatusCode) {
		writePassthrough(c, resp)
		return
	}

	unwrapped := google.UnwrapResponse(resp.Body)
	total := gjson.GetBytes(unwrapped, "totalTokens").Int()
	c.JSON(http.StatusOK, gin.H{"input_tokens": total})
}
