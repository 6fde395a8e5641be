package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quotarelay/quotarelay/internal/accounts"
	"github.com/quotarelay/quotarelay/internal/upstream"
)

// writeInvalidJSON writes the fixed 400 body for a request body that
// failed to parse as JSON.
func writeInvalidJSON(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "Invalid JSON body"}})
}

// writeOrchestratorError classifies an error returned by the orchestrator:
// a typed *accounts.Error carries its own status, everything else is an
// internal error surfaced as 500.
func writeOrchestratorError(c *gin.Context, err error) {
	var accErr *accounts.Error
	if errors.As(err, &accErr) {
		c.AbortWithStatusJSON(accErr.StatusCode, gin.H{"error": gin.H{"message": accErr.Message}})
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": err.Error()}})
}

// writePassthrough returns a non-2xx upstream response to the client with
// identical status, headers (sans content-encoding/content-length,
// already stripped by the upstream client), and body.
func writePassthrough(c *gin.Context, resp *upstream.Response) {
	for k, vs := range resp.Header {
		for _, v := range vs {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Data(resp.StatusCode, contentTypeOrJSON(resp.Header), resp.Body)
}

func contentTypeOrJSON(h map[string][]string) string {
	if vs, ok := h["Content-Type"]; ok && len(vs) > 0 {
		return vs[0]
	}
	return "application/json"
}

// success reports whether an upstream status code is 2xx.
func success(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
