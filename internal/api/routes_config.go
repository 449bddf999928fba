package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/lobbylink/internal/config"
	"github.com/energizer-project/lobbylink/internal/events"
	"github.com/energizer-project/lobbylink/internal/util"
)

// handleGetConfig returns the configuration with secrets redacted.
func (s *Server) handleGetConfig(c *gin.Context) {
	app := s.cfg.GetApplicationData()
	if app.API.AuthToken != "" {
		app.API.AuthToken = "********"
	}

	c.JSON(http.StatusOK, gin.H{
		"link":        s.cfg.GetLink(),
		"server":      s.cfg.GetServer(),
		"application": app,
	})
}

// handleSetServerField updates one key of the server section, persists the
// file and applies the change to the advertisement where it has one.
func (s *Server) handleSetServerField(c *gin.Context) {
	var body struct {
		Key   string      `json:"key" binding:"required"`
		Value interface{} `json:"value"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	previous := s.cfg.GetServer()
	if err := s.cfg.UpdateServerField(body.Key, body.Value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if problems := serverErrors(config.Validate(s.cfg)); len(problems) > 0 {
		s.cfg.SetServer(previous)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid configuration", "details": problems})
		return
	}

	if err := s.cfg.Save(); err != nil {
		log.Error().Err(err).Msg("API: failed to save config")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
		return
	}

	srv := s.cfg.GetServer()
	switch body.Key {
	case "name":
		s.state.SetName(srv.Name)
	case "player_count":
		s.state.SetPlayerCount(srv.PlayerCount)
	}

	s.eventBus.Emit(c.Request.Context(), events.Event{
		Type:   events.EventConfigChanged,
		Source: "api",
		Payload: events.ConfigChangedPayload{
			Section: "server",
			Key:     body.Key,
			Value:   body.Value,
		},
	})

	log.Info().Str("key", body.Key).Msg("API: server config updated")
	c.JSON(http.StatusOK, gin.H{
		"status": "updated",
		"server": srv,
	})
}

// serverErrors keeps the errors about the server section, so an unrelated
// problem elsewhere in the file does not block edits.
func serverErrors(result *config.ValidationResult) []config.ValidationError {
	var out []config.ValidationError
	for _, e := range result.Errors {
		if strings.HasPrefix(e.Field, "server.") {
			out = append(out, e)
		}
	}
	return out
}

// handleGetResources returns host resource usage.
func (s *Server) handleGetResources(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"system":    util.GetSystemInfo(),
		"resources": util.GetResourceUsage(),
	})
}
