package handler

import (
	"net/http"

	"github.com/MrGarbonzo/secret-moltbot/internal/attestation"
	"github.com/gin-gonic/gin"
)

// HandleGetAttestation handles GET /api/attestation. The view is computed
// fresh on every call; there is no cached attestation state to invalidate.
func HandleGetAttestation(engine *attestation.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		view, err := engine.CollectView(c.Request.Context())
		if err != nil {
			// Only integrity failures reach here; transient and
			// unavailable conditions are folded into the view itself.
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "error",
				"error":  err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, view)
	}
}
