package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GetRoom returns the backend's view of a room: its peers and their
// producers. The session table is only a cache, so introspection goes to the
// authoritative source.
func (g *Gateway) GetRoom(c *gin.Context) {
	roomID := c.Param("roomId")

	room, err := g.media.RoomInfo(c.Request.Context(), roomID)
	if err != nil {
		g.log.Warn("room lookup failed", zap.String("roomId", roomID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "room lookup failed"})
		return
	}
	if room == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	c.JSON(http.StatusOK, room)
}
