package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/salary-advance-lending/internal/auth"
)

// CallerKey is the key used to store the authenticated caller in the gin context
const CallerKey = "caller"

// TokenValidator turns a bearer token into a caller
type TokenValidator interface {
	Validate(token string) (auth.Caller, error)
}

// Authenticate rejects requests without a valid bearer token and stores the caller
// on both the gin context and the request context
func Authenticate(validator TokenValidator, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || strings.TrimSpace(token) == "" {
			abortUnauthorized(c, "Missing bearer token")
			return
		}

		caller, err := validator.Validate(strings.TrimSpace(token))
		if err != nil {
			logger.Warn("Rejected bearer token",
				"path", c.Request.URL.Path,
				"correlation_id", GetCorrelationID(c),
				"error", err,
			)
			abortUnauthorized(c, "Invalid or expired token")
			return
		}

		c.Set(CallerKey, caller)
		c.Request = c.Request.WithContext(auth.WithCaller(c.Request.Context(), caller))
		c.Next()
	}
}

// GetCaller retrieves the authenticated caller from the gin context if present
func GetCaller(c *gin.Context) (auth.Caller, bool) {
	if v, exists := c.Get(CallerKey); exists {
		if caller, ok := v.(auth.Caller); ok {
			return caller, true
		}
	}
	return auth.Caller{}, false
}

func abortUnauthorized(c *gin.Context, message string) {
	abortWithError(c, http.StatusUnauthorized, "UNAUTHORIZED", message)
}
