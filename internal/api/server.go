package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/ladderbridge/internal/config"
	"github.com/energizer-project/ladderbridge/internal/db"
	"github.com/energizer-project/ladderbridge/internal/events"
	"github.com/energizer-project/ladderbridge/internal/network"
	"github.com/energizer-project/ladderbridge/internal/session"
)

// StatusSource reports the live session.
type StatusSource interface {
	Status() session.Status
}

// HistorySource reads recorded sessions.
type HistorySource interface {
	Recent(ctx context.Context, limit int) ([]db.SessionRecord, error)
	Get(ctx context.Context, id string) (db.SessionRecord, error)
}

// Server is the local control API of the bridge.
type Server struct {
	cfg      *config.Config
	eventBus *events.EventBus
	status   StatusSource
	history  HistorySource
	version  string
	started  time.Time
	logger   zerolog.Logger

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server. history may be nil when the session
// history is disabled.
func NewServer(cfg *config.Config, eventBus *events.EventBus, status StatusSource, history HistorySource, version string) *Server {
	if cfg.GetApplicationData().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg,
		eventBus: eventBus,
		status:   status,
		history:  history,
		version:  version,
		started:  time.Now(),
		logger:   log.With().Str("component", "api").Logger(),
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	apiCfg := s.cfg.GetApplicationData().API
	addr := net.JoinHostPort(apiCfg.Host, strconv.Itoa(apiCfg.Port))

	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	lc := network.ListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("control API starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	security := s.cfg.GetApplicationData().Security
	allowedOrigins := security.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(security.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/version", s.handleGetVersion)
	}

	monitor := router.Group("/api")
	{
		monitor.GET("/status", s.handleGetStatus)
		monitor.GET("/system", s.handleGetSystem)
		monitor.GET("/config", s.handleGetConfig)
		monitor.GET("/sessions", s.handleGetSessions)
		monitor.GET("/sessions/:id", s.handleGetSession)
		monitor.GET("/logs", s.handleGetLogEntries)
	}

	control := router.Group("/api/control")
	{
		control.POST("/stop", s.handleStop)
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "ladderbridge control API is running"})
	})

	return router
}
