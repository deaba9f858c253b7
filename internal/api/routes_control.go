package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/ladderbridge/internal/events"
)

// handleStop asks the bridge to shut down. The session ends, the engine is
// terminated and the process exits.
func (s *Server) handleStop(c *gin.Context) {
	reason := c.DefaultQuery("reason", "api request")

	s.logger.Warn().Str("client_ip", c.ClientIP()).Str("reason", reason).Msg("shutdown requested")

	s.eventBus.Emit(context.Background(), events.Event{
		Type:    events.EventShutdown,
		Source:  "api",
		Payload: events.ShutdownPayload{Reason: reason},
	})

	c.JSON(http.StatusAccepted, gin.H{
		"status": "stopping",
		"reason": reason,
	})
}
