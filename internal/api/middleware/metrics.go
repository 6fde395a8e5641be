package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quotarelay/quotarelay/internal/metrics"
)

// Metrics records per-request latency and totals for every completed
// request, keyed by route pattern rather than raw path.
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.RequestsInFlight.Inc()
		c.Next()
		m.RequestsInFlight.Dec()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := strconv.Itoa(c.Writer.Status())
		m.RecordRequest(route, c.Request.Method, status, time.Since(start).Seconds())
	}
}
