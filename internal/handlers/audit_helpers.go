package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDContextKey = "request_id"

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

func contactIDFromContext(c *gin.Context) *string {
	if val, ok := c.Get("contactID"); ok {
		if contactID, ok := val.(string); ok && contactID != "" {
			return &contactID
		}
	}

	if header := c.GetHeader("X-Contact-ID"); header != "" {
		return &header
	}

	return nil
}
