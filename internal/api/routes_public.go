package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/lobbylink/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "lobbylink",
		"version": s.version,
	})
}

// handleGetServerInfo returns what is being advertised and where.
func (s *Server) handleGetServerInfo(c *gin.Context) {
	snap := s.state.Snapshot()
	sysInfo := util.GetSystemInfo()

	c.JSON(http.StatusOK, gin.H{
		"server_name":   snap.Name,
		"player_count":  snap.PlayerCount,
		"local_addr":    snap.LocalAddr.String(),
		"external_addr": snap.ExternalAddr.String(),
		"link_active":   s.link.IsActive(),
		"platform":      sysInfo.Platform,
		"hostname":      sysInfo.Hostname,
	})
}
