package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/lobbylink/internal/config"
	"github.com/energizer-project/lobbylink/internal/db"
	"github.com/energizer-project/lobbylink/internal/events"
	"github.com/energizer-project/lobbylink/internal/lobby"
	intnet "github.com/energizer-project/lobbylink/internal/network"
	"github.com/energizer-project/lobbylink/internal/server"
	"github.com/energizer-project/lobbylink/internal/util"
)

// LinkController is the part of the lobby link the API drives.
type LinkController interface {
	Start()
	Stop()
	IsActive() bool
	ServerTime() int64
	Status() lobby.Status
}

// EventLog returns recorded link events.
type EventLog interface {
	Recent(limit int, eventType string) ([]db.JournalEntry, error)
}

// Server is the REST API server.
type Server struct {
	cfg      *config.Config
	eventBus *events.EventBus
	link     LinkController
	state    *server.Advertised
	version  string

	// Optional
	journal EventLog
	metrics http.Handler

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, eventBus *events.EventBus, link LinkController, state *server.Advertised, version string) *Server {
	if cfg.GetApplicationData().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:      cfg,
		eventBus: eventBus,
		link:     link,
		state:    state,
		version:  version,
	}
}

// SetDependencies injects the optional journal and metrics handler. Either
// may be nil.
func (s *Server) SetDependencies(journal EventLog, metrics http.Handler) {
	s.journal = journal
	s.metrics = metrics
}

// Handler builds the router. Start calls it; tests use it directly.
func (s *Server) Handler() http.Handler {
	if s.router == nil {
		s.router = s.buildRouter()
	}
	return s.router
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	apiCfg := s.cfg.GetApplicationData().API
	addr := fmt.Sprintf(":%d", apiCfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if apiCfg.TLSEnabled {
		hosts := []string{"localhost", "127.0.0.1"}
		if ip := s.state.ExternalIP(); ip.IsValid() {
			hosts = append(hosts, ip.String())
		}
		if err := util.EnsureTLSCert(apiCfg.TLSCertFile, apiCfg.TLSKeyFile, hosts...); err != nil {
			return fmt.Errorf("failed to prepare TLS certificate: %w", err)
		}
		cert, err := tls.LoadX509KeyPair(apiCfg.TLSCertFile, apiCfg.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
	}

	ln, err := intnet.Listen(ctx, addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Bool("tls", apiCfg.TLSEnabled).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	if s.httpServer.TLSConfig != nil {
		ln = tls.NewListener(ln, s.httpServer.TLSConfig)
	}
	err = s.httpServer.Serve(ln)

	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	apiCfg := s.cfg.GetApplicationData().API
	metricsCfg := s.cfg.GetApplicationData().Metrics

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := apiCfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.Use(NewRateLimiter(apiCfg.RateLimitRPS).Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/server_info", s.handleGetServerInfo)
	}

	protected := router.Group("/api")
	protected.Use(IPWhitelist(apiCfg.IPWhitelist))
	protected.Use(RequireToken(apiCfg.AuthToken))

	link := protected.Group("/link")
	{
		link.GET("/status", s.handleLinkStatus)
		link.GET("/events", s.handleLinkEvents)
		link.POST("/start", s.handleLinkStart)
		link.POST("/stop", s.handleLinkStop)
		link.POST("/snapshot", s.handleLinkSnapshot)
	}

	configure := protected.Group("/config")
	{
		configure.GET("", s.handleGetConfig)
		configure.POST("/server", s.handleSetServerField)
	}

	protected.GET("/system/resources", s.handleGetResources)

	if metricsCfg.Enabled && s.metrics != nil {
		path := metricsCfg.Path
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, IPWhitelist(apiCfg.IPWhitelist), gin.WrapH(s.metrics))
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message": "lobbylink API is running",
		})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
