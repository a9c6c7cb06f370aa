package handler

import (
	"net/http"
	"time"

	"github.com/MrGarbonzo/secret-moltbot/internal/agent"
	"github.com/gin-gonic/gin"
)

// HandleHealth handles GET /health.
func HandleHealth(a *agent.Agent) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"state":     a.Snapshot().State,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}
