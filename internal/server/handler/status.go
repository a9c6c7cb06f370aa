package handler

import (
	"net/http"

	"github.com/MrGarbonzo/secret-moltbot/internal/agent"
	"github.com/gin-gonic/gin"
)

// HandleGetStatus handles GET /api/status. The state field drives the
// dashboard view: booting and registering show a spinner, registered shows
// the claim URL and verification code, verified shows the normal dashboard,
// error shows the failure detail.
func HandleGetStatus(a *agent.Agent) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, a.Snapshot())
	}
}

// HandleCheckVerification handles POST /api/check-verification: a manual
// claim-status poll for when the owner says the verification code is posted.
// It advances the agent lifecycle only; trust state has no mutation surface.
func HandleCheckVerification(a *agent.Agent) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := a.Snapshot()
		if snap.State == agent.StateVerified {
			c.JSON(http.StatusOK, gin.H{"verified": true, "message": "already verified"})
			return
		}
		if snap.State != agent.StateRegistered {
			c.JSON(http.StatusConflict, gin.H{
				"verified": false,
				"message":  "agent is in state: " + string(snap.State),
			})
			return
		}

		st, err := a.CheckVerification(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"verified": false, "error": err.Error()})
			return
		}
		if st.Claimed {
			c.JSON(http.StatusOK, gin.H{"verified": true, "message": "verification confirmed, agent is live"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"verified": false,
			"message":  "not yet verified; make sure the post with the verification code is published",
		})
	}
}
