package middleware

import (
	"github.com/gin-gonic/gin"
)

const (
	sessionIDKey   = "sessionId"
	commandTypeKey = "commandType"
)

// SetSessionID records the session a request operates on for logging.
func SetSessionID(c *gin.Context, id string) {
	c.Set(sessionIDKey, id)
}

// SessionIDFromContext fetches the session ID set by the session handlers.
func SessionIDFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(sessionIDKey)
	if id, ok := val.(string); ok {
		return id
	}
	return ""
}

// SetCommandType records the gateway command type handled by a request.
func SetCommandType(c *gin.Context, kind string) {
	c.Set(commandTypeKey, kind)
}
