package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/buttermb/menulink/pkg/telemetry"
)

// RequestMetrics records per-request duration and count. Paths are
// labelled by route template (c.FullPath), not the raw URL, so menu
// tokens and IDs never become metric labels.
func RequestMetrics() gin.HandlerFunc {
	duration, derr := telemetry.NewHistogram(telemetry.MetricOpts{
		Name:        "menulink.http.request_duration",
		Description: "HTTP request latency",
		Unit:        "ms",
	})
	requests, cerr := telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "menulink.http.requests",
		Description: "HTTP requests served",
		Unit:        "{request}",
	})
	if derr != nil || cerr != nil {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			// unmatched route; keep the label space bounded
			path = "unmatched"
		}
		elapsed := float64(time.Since(start).Microseconds()) / 1000.0
		ctx := c.Request.Context()
		duration.Record(ctx, elapsed,
			telemetry.MethodAttr(c.Request.Method),
			telemetry.PathAttr(path),
			telemetry.StatusCodeAttr(c.Writer.Status()),
		)
		requests.Inc(ctx,
			telemetry.MethodAttr(c.Request.Method),
			telemetry.PathAttr(path),
			telemetry.StatusCodeAttr(c.Writer.Status()),
		)
	}
}
