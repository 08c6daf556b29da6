package http

import (
	"fmt"
	"net/http"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	"peerlink/pkg/errors"
	"peerlink/pkg/validation"

	"github.com/gin-gonic/gin"
)

type ConnectionHandler struct {
	connections ports.ConnectionService
}

func NewConnectionHandler(connections ports.ConnectionService) *ConnectionHandler {
	return &ConnectionHandler{connections: connections}
}

func (h *ConnectionHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1")
	{
		api.GET("/connections", h.ListConnections)
		api.GET("/connections/:id", h.GetConnection)
		api.GET("/connections/:id/stats", h.GetConnectionStats)
		api.DELETE("/connections/:id", h.CloseConnection)
	}
}

func (h *ConnectionHandler) ListConnections(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connections": h.connections.Connections(),
	})
}

func (h *ConnectionHandler) GetConnection(c *gin.Context) {
	id, ok := connectionID(c)
	if !ok {
		return
	}

	pc, found := h.connections.Connection(id)
	if !found {
		c.Error(fmt.Errorf("%w: %s", domain.ErrConnectionNotFound, id))
		return
	}

	resp := gin.H{"connection": pc}
	if remote, found := h.connections.RemoteStream(id); found {
		resp["remote_stream"] = remote
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ConnectionHandler) GetConnectionStats(c *gin.Context) {
	id, ok := connectionID(c)
	if !ok {
		return
	}

	stats, found := h.connections.GetStats(id)
	if !found {
		c.Error(fmt.Errorf("%w: %s", domain.ErrConnectionNotFound, id))
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

func (h *ConnectionHandler) CloseConnection(c *gin.Context) {
	id, ok := connectionID(c)
	if !ok {
		return
	}

	if _, ok := h.connections.Connection(id); !ok {
		c.Error(fmt.Errorf("%w: %s", domain.ErrConnectionNotFound, id))
		return
	}
	h.connections.Close(id)
	c.Status(http.StatusNoContent)
}

func connectionID(c *gin.Context) (domain.ConnectionID, bool) {
	id := c.Param("id")
	if err := validation.ValidateConnectionID(id); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return "", false
	}
	return domain.ConnectionID(id), true
}
