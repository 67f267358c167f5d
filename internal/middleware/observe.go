package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"

	"dispatch/internal/logger"
	"dispatch/internal/metrics"
)

// RequestObserver logs each request, records its latency under the matched
// route template and reports handler errors to the New Relic transaction
// started by nrgin, when there is one. rec may be nil.
func RequestObserver(rec metrics.HTTPRecorder) gin.HandlerFunc {
	log := logger.New("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		if rec != nil {
			rec.HTTPRequest(c.Request.Method, route, status, elapsed)
		}

		if len(c.Errors) > 0 {
			if txn := nrgin.Transaction(c); txn != nil {
				for _, err := range c.Errors {
					txn.NoticeError(err.Err)
				}
			}
		}

		fields := map[string]any{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"route":       route,
			"status":      status,
			"duration_ms": elapsed.Milliseconds(),
		}
		switch {
		case status >= 500:
			log.Errorf("%s %s -> %d (%s): %s", c.Request.Method, c.Request.URL.Path, status, elapsed, c.Errors.String())
		case route == "/health" || route == "/metrics":
			log.Debugf("%s %s -> %d", c.Request.Method, route, status)
		default:
			log.Infow("request", fields)
		}
	}
}
