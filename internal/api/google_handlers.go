package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/quotarelay/quotarelay/internal/accounts"
	"github.com/quotarelay/quotarelay/internal/orchestrator"
	"github.com/quotarelay/quotarelay/internal/translator/google"
)

// googleModels lists every model known from live quota snapshots whose id
// contains "gemini", sorted for a stable listing.
func (h *Handlers) googleModels() []string {
	known := h.QuotaCache.KnownModels()
	out := make([]string, 0, len(known))
	for _, id := range known {
		if strings.Contains(strings.ToLower(id), "gemini") {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func modelEntry(id string) gin.H {
	return gin.H{
		"name":                       "models/" + id,
		"displayName":                id,
		"supportedGenerationMethods": []string{"generateContent", "streamGenerateContent", "countTokens"},
	}
}

func (h *Handlers) handleModelsList(c *gin.Context) {
	ids := h.googleModels()
	models := make([]gin.H, 0, len(ids))
	for _, id := range ids {
		models = append(models, modelEntry(id))
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}

func (h *Handlers) handleModelsWildcard(c *gin.Context) {
	action := strings.TrimPrefix(c.Param("action"), "/")
	if action == "" {
		h.handleModelsList(c)
		return
	}
	if strings.Contains(action, ":") {
		c.Status(http.StatusNotFound)
		return
	}
	c.JSON(http.StatusOK, modelEntry(action))
}

// handleModelAction dispatches POST /v1beta/models/<name>:<method>, where
// method is one of generateContent, streamGenerateContent, countTokens.
func (h *Handlers) handleModelAction(c *gin.Context) {
	action := strings.TrimPrefix(c.Param("action"), "/")
	name, method, ok := strings.Cut(action, ":")
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": gin.H{"message": "unknown route"}})
		return
	}

	raw, err := c.GetRawData()
	if err != nil || !json.Valid(raw) {
		writeInvalidJSON(c)
		return
	}

	switch method {
	case "generateContent":
		h.googleGenerate(c, name, raw, false)
	case "streamGenerateContent":
		h.googleGenerate(c, name, raw, true)
	case "countTokens":
		h.googleCountTokens(c, name, raw)
	default:
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": gin.H{"message": "unknown method " + method}})
	}
}

func (h *Handlers) googleGenerate(c *gin.Context, model string, raw []byte, clientWantsStream bool) {
	forcedStream := clientWantsStream || google.IsProVariant(model)

	method := "generateContent"
	query := map[string]string{}
	if forcedStream {
		method = "streamGenerateContent"
		query["alt"] = "sse"
	}

	req := orchestrator.Request{
		Group:  accounts.GroupForModel(model),
		Model:  model,
		Method: method,
		Query:  query,
		BuildBody: func(projectID string) ([]byte, error) {
			return google.WrapRequest(raw, projectID, model, "")
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

	switch {
	case clientWantsStream:
		h.streamGoogleResponse(c, resp.Body)
	case google.IsProVariant(model):
		aggregated := google.AggregateProStream(splitSSEChunks(resp.Body))
		c.Data(http.StatusOK, "application/json", google.UnwrapResponse(aggregated))
	default:
		c.Data(http.StatusOK, "application/json", google.UnwrapResponse(resp.Body))
	}
}

func (h *Handlers) streamGoogleResponse(c *gin.Context, body []byte) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.WriteHeader(http.StatusOK)

	for _, chunk := range splitSSEChunks(body) {
		unwrapped := google.UnwrapResponse(chunk)
		_, _ = c.Writer.Write([]byte("data: "))
		_, _ = c.Writer.Write(unwrapped)
		_, _ = c.Writer.Write([]byte("\n\n"))
		c.Writer.Flush()
	}
}

func (h *Handlers) googleCountTokens(c *gin.Context, model string, raw []byte) {
	req := orchestrator.Request{
		Group:  accounts.GroupForModel(model),
		Model:  model,
		Method: "countTokens",
		BuildBody: func(projectID string) ([]byte, error) {
			return google.WrapRequest(raw, projectID, model, "")
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
	c.JSON(http.StatusOK, gin.H{"totalTokens": total})
}
