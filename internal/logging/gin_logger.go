package logging

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const skipGinLogKey = "__gin_skip_request_logging__"

// GinLogger returns a Gin middleware handler that logs HTTP requests and
// responses using logger, mirroring the request id into the response
// headers so a client-visible id ties together the two sides of a call.
func GinLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := maskSensitiveQuery(c.Request.URL.RawQuery)

		requestID := c.Request.Header.Get("X-Request-Id")
		if strings.TrimSpace(requestID) == "" {
			requestID = uuid.NewString()
		}
		c.Writer.Header().Set("X-Request-Id", requestID)

		c.Next()

		if shouldSkipGinRequestLogging(c) {
			return
		}

		if raw != "" {
			path = path + "?" + raw
		}

		latency := time.Since(start).Truncate(time.Millisecond)
		statusCode := c.Writer.Status()
		clientIP := c.ClientIP()
		method := c.Request.Method
		userAgent := c.Request.UserAgent()

		clientType := "generic"
		uaLower := strings.ToLower(userAgent)
		switch {
		case strings.Contains(uaLower, "claude-cli"):
			clientType = "claude-cli"
		case strings.Contains(uaLower, "google-genai-sdk"), strings.Contains(uaLower, "google-api-nodejs-client"):
			clientType = "gemini-sdk"
		case strings.Contains(uaLower, "cursor"):
			clientType = "cursor-ide"
		}

		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()
		logLine := fmt.Sprintf("[api] %3d | %10v | %15s | %-7s %s", statusCode, latency, clientIP, method, path)
		if errorMessage != "" {
			logLine = logLine + " | " + errorMessage
		}

		fields := logrus.Fields{
			"status":      statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   clientIP,
			"method":      method,
			"path":        path,
			"request_id":  requestID,
			"client_type": clientType,
		}
		if userAgent != "" {
			ua := userAgent
			if len(ua) > 180 {
				ua = ua[:180] + "..."
			}
			fields["user_agent"] = ua
		}

		entry := logger.WithFields(fields)
		switch {
		case statusCode >= http.StatusInternalServerError:
			entry.Error(logLine)
		case statusCode >= http.StatusBadRequest:
			entry.Warn(logLine)
		default:
			entry.Info(logLine)
		}
	}
}

// GinRecovery returns a Gin middleware handler that recovers from panics,
// logs them, and returns a 500 rather than crashing the process.
func GinRecovery(logger *logrus.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.WithFields(logrus.Fields{
			"panic": recovered,
			"stack": string(debug.Stack()),
			"path":  c.Request.URL.Path,
		}).Error("recovered from panic")
		c.AbortWithStatus(http.StatusInternalServerError)
	})
}

// SkipRequestLogging marks c so GinLogger skips emitting a log line for it,
// used by the streaming handlers whose latency/status is not meaningful.
func SkipRequestLogging(c *gin.Context) {
	if c == nil {
		return
	}
	c.Set(skipGinLogKey, true)
}

func shouldSkipGinRequestLogging(c *gin.Context) bool {
	val, exists := c.Get(skipGinLogKey)
	if !exists {
		return false
	}
	flag, ok := val.(bool)
	return ok && flag
}
