package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/salary-advance-lending/internal/platform/metrics"
)

// Recovery turns a handler panic into the API's INTERNAL_SERVER_ERROR envelope.
// The panic is logged with its stack and counted per route.
func Recovery(logger *slog.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}

			route := routeOf(c)
			m.Panic(route)

			attrs := []interface{}{
				"panic", r,
				"stack", string(debug.Stack()),
				"method", c.Request.Method,
				"route", route,
				"correlation_id", GetCorrelationID(c),
			}
			logger.Error("Recovered from handler panic", append(attrs, callerAttrs(c)...)...)

			abortWithError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "An internal server error occurred")
		}()

		c.Next()
	}
}
