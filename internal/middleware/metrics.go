package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/release-distribution-api/internal/service"
)

// unmatchedRoute labels requests that hit no route. Raw paths carry download tokens and artifact keys.
const unmatchedRoute = "unmatched"

// Metrics observes request latency per route template. Paths in skip, such as health checks and scrapes, are not recorded.
func Metrics(metricsSvc *service.MetricsService, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, path := range skip {
		skipped[path] = struct{}{}
	}
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		route := c.FullPath()
		if _, ok := skipped[route]; ok {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		if route == "" {
			route = unmatchedRoute
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
