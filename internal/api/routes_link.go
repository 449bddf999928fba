package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/lobbylink/internal/db"
)

const maxEventLimit = 500

func (s *Server) handleLinkStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.link.Status())
}

func (s *Server) handleLinkEvents(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event journal is disabled"})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(n, maxEventLimit)
	}

	entries, err := s.journal.Recent(limit, c.Query("type"))
	if err != nil {
		log.Error().Err(err).Msg("API: failed to read journal")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read journal"})
		return
	}
	if entries == nil {
		entries = []db.JournalEntry{}
	}

	c.JSON(http.StatusOK, gin.H{
		"count":  len(entries),
		"events": entries,
	})
}

func (s *Server) handleLinkStart(c *gin.Context) {
	s.link.Start()
	// Hand the link the current state so a fresh worker has something to
	// advertise.
	s.state.Publish()

	log.Info().Str("client_ip", c.ClientIP()).Msg("API: link started")
	c.JSON(http.StatusAccepted, gin.H{
		"status": "starting",
		"link":   s.link.Status(),
	})
}

func (s *Server) handleLinkStop(c *gin.Context) {
	s.link.Stop()

	log.Info().Str("client_ip", c.ClientIP()).Msg("API: link stopped")
	c.JSON(http.StatusAccepted, gin.H{
		"status": "stopping",
	})
}

type snapshotRequest struct {
	Name        *string `json:"name"`
	PlayerCount *int    `json:"player_count" binding:"omitempty,min=0,max=32767"`
}

func (s *Server) handleLinkSnapshot(c *gin.Context) {
	var body snapshotRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if body.Name == nil && body.PlayerCount == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to update"})
		return
	}
	if body.Name != nil && *body.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name cannot be empty"})
		return
	}

	changed := false
	if body.Name != nil {
		changed = s.state.SetName(*body.Name) || changed
	}
	if body.PlayerCount != nil {
		changed = s.state.SetPlayerCount(*body.PlayerCount) || changed
	}

	c.JSON(http.StatusOK, gin.H{
		"changed":  changed,
		"snapshot": s.state.Snapshot(),
	})
}
