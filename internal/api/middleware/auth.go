package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// APIKey admits requests carrying one of the configured keys. It is a
// no-op when keys is empty, matching the "only when a non-empty key set
// is configured" admission rule. Header precedence, first match wins:
// Authorization: Bearer, x-api-key, anthropic-api-key, x-goog-api-key.
func APIKey(keys []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		allowed[k] = struct{}{}
	}

	return func(c *gin.Context) {
		if len(allowed) == 0 {
			c.Next()
			return
		}

		candidate := extractCandidate(c.Request.Header)
		if candidate == "" {
			unauthorized(c)
			return
		}
		if _, ok := allowed[candidate]; !ok {
			unauthorized(c)
			return
		}
		c.Next()
	}
}

func extractCandidate(h http.Header) string {
	if auth := h.Get("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			return strings.TrimPrefix(auth, "Bearer ")
		}
		return ""
	}
	if v := h.Get("x-api-key"); v != "" {
		return v
	}
	if v := h.Get("anthropic-api-key"); v != "" {
		return v
	}
	if v := h.Get("x-goog-api-key"); v != "" {
		return v
	}
	return ""
}

func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"message": "Invalid API Key"}})
}
