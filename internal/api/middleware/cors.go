// Package middleware holds gin.HandlerFunc chains shared by every route
// group registered on the server.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CORS attaches the fixed cross-origin headers to every response and
// short-circuits preflight OPTIONS requests with 204.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, x-api-key, anthropic-api-key, x-goog-api-key, anthropic-version")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
