// Package correlation propagates a per-request correlation id. The id is
// taken from the X-Correlation-Id header when the caller supplies one,
// generated otherwise, and echoed back on every response.
package correlation

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// HeaderName is the HTTP header carrying the correlation id.
	HeaderName = "X-Correlation-Id"
	contextKey = "correlationID"
)

// Middleware installs the correlation id on the request context.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderName)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(contextKey, id)
		c.Header(HeaderName, id)
		c.Next()
	}
}

// FromContext returns the request's correlation id, or "" when the
// middleware is not installed.
func FromContext(c *gin.Context) string {
	return c.GetString(contextKey)
}
