package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	contractx "github.com/tanpawarit/relay-support-router/agent/contract"
)

func (s *Server) listAgents(c *gin.Context) {
	handlers := s.deps.Processor.ListHandlers()
	c.JSON(http.StatusOK, gin.H{"agents": handlers, "total": len(handlers)})
}

func (s *Server) agentCapabilities(c *gin.Context) {
	agentType := c.Param("type")
	caps, err := s.deps.Processor.Capabilities(contractx.HandlerType(agentType))
	if errors.Is(err, contractx.ErrHandlerNotFound) {
		errorJSON(c, http.StatusNotFound, "Agent type '"+agentType+"' not found")
		return
	}
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, "Failed to get capabilities")
		return
	}
	c.JSON(http.StatusOK, gin.H{"agentType": agentType, "capabilities": caps})
}
