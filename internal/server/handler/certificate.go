package handler

import (
	"errors"
	"net/http"

	"github.com/MrGarbonzo/secret-moltbot/internal/attestation"
	"github.com/MrGarbonzo/secret-moltbot/internal/birthcert"
	"github.com/gin-gonic/gin"
)

// HandleGetCertificate handles GET /api/birth-certificate. It loads the
// stored record, recomputes a fresh attestation view, and reports whether
// the code measurement moved since birth.
//
// The three non-OK outcomes are deliberately distinct so the dashboard can
// tell expected absence from active integrity failure:
//
//	404 status=not_found  no certificate yet (pre-registration, not an error)
//	500 status=corrupt    the stored record fails its binding digest — alarm
//	503 status=error      the current attestation view could not be computed
func HandleGetCertificate(certs *birthcert.Manager, engine *attestation.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		view, err := engine.CollectView(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "error",
				"error":  err.Error(),
			})
			return
		}

		res, err := certs.Verify(view)
		switch {
		case errors.Is(err, birthcert.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"status": "not_found",
				"detail": "no birth certificate found; the agent may not have completed registration yet",
			})
			return
		case errors.Is(err, birthcert.ErrCorruptRecord):
			c.JSON(http.StatusInternalServerError, gin.H{
				"status": "corrupt",
				"error":  err.Error(),
			})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{
				"status": "error",
				"error":  err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":                   "ok",
			"certificate":              res.Certificate,
			"code_changed_since_birth": res.CodeChanged,
			"birth_code_measurement":   res.BirthMeasurement,
			"current_code_measurement": res.CurrentMeasurement,
		})
	}
}
