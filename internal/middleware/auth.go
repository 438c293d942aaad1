package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"securelink/internal/auth"
	"securelink/internal/telemetry"
)

// AuthMiddleware validates the Authorization header and stores the resolved
// principal on the request context. Failed verifications are written to the
// audit stream; a nil emitter skips that without changing behaviour.
func AuthMiddleware(verifier *auth.Verifier, audit *telemetry.AuditEmitter) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		principal, err := verifier.Verify(parts[1])
		if err != nil {
			audit.Emit(c.Request.Context(), "WARN", "auth failure: credential rejected",
				c.GetHeader("X-Request-Id"), nil)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("principalID", principal.ID)
		c.Set("contactID", principal.ContactID)
		c.Next()
	}
}
