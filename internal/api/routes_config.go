package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleGetConfig returns the effective configuration. MQTT key material
// paths are kept, the files themselves are never read here.
func (s *Server) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ladder_data":      s.cfg.GetLadderData(),
		"application_data": s.cfg.GetApplicationData(),
		"engine_port":      s.cfg.GetLadderData().EnginePort(),
		"host_mode":        s.cfg.GetLadderData().HostMode(),
		"path":             s.cfg.Path(),
	})
}
