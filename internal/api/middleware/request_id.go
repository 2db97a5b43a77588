package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader carries the correlation ID between the management API
	// and its callers.
	RequestIDHeader = "X-Request-ID"
	// RequestIDKey is the gin context key the correlation ID is stored under.
	RequestIDKey = "request_id"
)

// RequestID tags every request with a correlation ID so a scheduling call can
// be traced across the API logs and the error envelope's trace_id. A caller
// may supply its own via X-Request-ID; anything absent gets a fresh UUID.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}

		c.Set(RequestIDKey, id)
		c.Writer.Header().Set(RequestIDHeader, id)

		c.Next()
	}
}
