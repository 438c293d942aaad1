package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"securelink/internal/registry"
	"securelink/internal/telemetry"
)

// RegisterDebugRoutes wires debug-only endpoints. They are unauthenticated
// and must stay disabled outside development.
func RegisterDebugRoutes(router *gin.Engine, reg *registry.Registry, emitter *telemetry.AuditEmitter, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/channels", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"active_connections": reg.Count()})
	})

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), "INFO", "audit test", requestIDFromContext(c), contactIDFromContext(c))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
