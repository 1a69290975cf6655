package middleware

import (
	"github.com/gin-gonic/gin"
)

// errorEnvelope has the JSON shape of an error written by the handler package
type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func abortWithError(c *gin.Context, status int, code, message string) {
	var body errorEnvelope
	body.Error.Code = code
	body.Error.Message = message
	body.CorrelationID = GetCorrelationID(c)
	c.AbortWithStatusJSON(status, body)
}

// routeOf returns the matched route template, never the raw URL
func routeOf(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}

// callerAttrs names the tenant and user behind a request. Gateway callbacks carry the tenant in their path.
func callerAttrs(c *gin.Context) []interface{} {
	if caller, ok := GetCaller(c); ok {
		return []interface{}{"tenant_id", caller.TenantID.String(), "user_id", caller.UserID.String()}
	}
	if tenantID := c.Param("tenant_id"); tenantID != "" {
		return []interface{}{"tenant_id", tenantID}
	}
	return nil
}
