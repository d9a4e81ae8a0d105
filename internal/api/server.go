package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/ragol/internal/config"
	"github.com/energizer-project/ragol/internal/db"
	"github.com/energizer-project/ragol/internal/network"
	"github.com/energizer-project/ragol/internal/util"
)

// SessionSource lists live relay sessions.
type SessionSource interface {
	List() []network.SessionInfo
}

// CaptureSource reads stored frames.
type CaptureSource interface {
	Recent(ctx context.Context, limit int, f db.Filter) ([]db.Capture, error)
	CountByCode(ctx context.Context) ([]db.CodeCount, error)
}

// Deps are the runtime collaborators of the API. Any of them may be nil; the
// routes that need a missing one answer 503.
type Deps struct {
	Relay    network.RelayConfig
	Sessions SessionSource
	Captures CaptureSource
}

// Server is the HTTP inspection API.
type Server struct {
	cfg       config.APIConfig
	deps      Deps
	startedAt time.Time
	logger    zerolog.Logger

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer builds the API server and its router.
func NewServer(cfg config.APIConfig, deps Deps, debug bool) *Server {
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:       cfg,
		deps:      deps,
		startedAt: time.Now(),
		logger:    log.With().Str("component", "api").Logger(),
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on the configured port until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	if s.cfg.TLS {
		hosts := []string{"localhost", "127.0.0.1"}
		if info := util.GetSystemInfo(); info.Hostname != "" {
			hosts = append(hosts, info.Hostname)
		}
		if _, err := util.EnsureSelfSignedCert(s.cfg.CertFile, s.cfg.KeyFile, hosts); err != nil {
			ln.Close()
			return fmt.Errorf("API server TLS setup: %w", err)
		}
	}
	s.logger.Info().Str("addr", addr).Bool("tls", s.cfg.TLS).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if s.cfg.TLS {
		err = s.httpServer.ServeTLS(ln, s.cfg.CertFile, s.cfg.KeyFile)
	} else {
		err = s.httpServer.Serve(ln)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := s.cfg.AllowedOrigins
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

	router.Use(NewRateLimiter(s.cfg.RateLimitRPS).Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/info", s.handleInfo)
	}

	protected := router.Group("/api")
	protected.Use(IPWhitelist(s.cfg.AllowedIPs), RequireToken(s.cfg.Token))
	{
		protected.POST("/frames/decode", s.handleDecode)
		protected.POST("/frames/encode", s.handleEncode)
		protected.GET("/captures", s.handleCaptures)
		protected.GET("/captures/stats", s.handleCaptureStats)
		protected.GET("/sessions", s.handleSessions)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})
	return router
}
