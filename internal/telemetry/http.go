package telemetry

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HTTPServerLogger logs every finished call with method, route, status and
// duration. Errors that handlers attached to the context are included, so
// internal causes reach the server log even though clients only see the
// generic message.
func HTTPServerLogger(l *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		status := c.Writer.Status()
		attrs := []any{
			slog.String("method", c.Request.Method),
			slog.String("route", route),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
		}
		for _, e := range c.Errors {
			attrs = append(attrs, slog.Any("error", e.Err))
		}

		lvl := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			lvl = slog.LevelError
		}
		l.Log(c.Request.Context(), lvl, "finished call", attrs...)
	}
}
