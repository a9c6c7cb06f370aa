package server

import (
	"github.com/MrGarbonzo/secret-moltbot/internal/agent"
	"github.com/MrGarbonzo/secret-moltbot/internal/attestation"
	"github.com/MrGarbonzo/secret-moltbot/internal/birthcert"
	"github.com/MrGarbonzo/secret-moltbot/internal/server/handler"
	"github.com/gin-gonic/gin"
)

// NewRouter creates and configures the Gin router with all routes. Every
// trust-state endpoint is a pure read; the only POST advances the agent's
// claim lifecycle and never touches attestation data or the certificate.
func NewRouter(a *agent.Agent, engine *attestation.Engine, certs *birthcert.Manager, cfg *Config) *gin.Engine {
	r := gin.Default()

	if len(cfg.CORSOrigins) > 0 {
		r.Use(CORS(cfg.CORSOrigins))
	}

	r.GET("/health", handler.HandleHealth(a))

	api := r.Group("/api")
	{
		api.GET("/status", handler.HandleGetStatus(a))
		api.GET("/attestation", handler.HandleGetAttestation(engine))
		api.GET("/birth-certificate", handler.HandleGetCertificate(certs, engine))

		check := handler.HandleCheckVerification(a)
		if cfg.AdminToken != "" {
			api.POST("/check-verification", AdminAuth(cfg.AdminToken), check)
		} else {
			api.POST("/check-verification", check)
		}
	}

	return r
}
