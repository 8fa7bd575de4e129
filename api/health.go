package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const healthCheckTimeout = 3 * time.Second

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	now := time.Now().UTC()
	if err := s.deps.Store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "unhealthy",
			"timestamp": now,
			"database":  "disconnected",
			"error":     err.Error(),
		})
		return
	}

	body := gin.H{
		"status":    "healthy",
		"timestamp": now,
		"uptime":    time.Since(s.started).Seconds(),
		"database":  "connected",
	}
	if s.deps.EngineProbe != nil {
		if err := s.deps.EngineProbe(ctx); err != nil {
			body["status"] = "unhealthy"
			body["engine"] = "unreachable"
			body["error"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		body["engine"] = "reachable"
	}
	c.JSON(http.StatusOK, body)
}
