package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RequestLogger logs one line per admin request, tagged with the holder
// and the bus channel it serves. Browser callers are identified by their
// Origin header.
func RequestLogger(logger zerolog.Logger, holder, channel string) gin.HandlerFunc {
	logger = logger.With().Str("holder", holder).Str("channel", channel).Logger()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := logger.Debug()
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		case c.Request.Method != "GET" && c.Request.Method != "HEAD":
			// writes change what the holder serves
			event = logger.Info()
		}
		if from := c.GetHeader("Origin"); from != "" {
			event = event.Str("origin", from)
		}
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		event.
			Str("method", c.Request.Method).
			Str("route", routeOf(c)).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("observability admin request")
	}
}

func RequestMetricsMiddleware(holder string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		RecordHTTPRequest(holder, c.Request.Method, routeOf(c), c.Writer.Status(), time.Since(start))
	}
}

// routeOf returns the matched route pattern, or "unmatched" so unknown
// paths do not blow up metric label cardinality.
func routeOf(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}
