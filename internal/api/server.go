// Package api exposes the read-only operations HTTP API.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"disclosure-trading-bot/config"
	"disclosure-trading-bot/internal/database"
	"disclosure-trading-bot/internal/events"
	"disclosure-trading-bot/internal/logging"
	"disclosure-trading-bot/internal/reconcile"
)

// Reconciler runs a report-only reconciliation pass on demand
type Reconciler interface {
	Run(ctx context.Context) (*reconcile.Report, error)
}

// ReconcilerFactory builds a reconciler for an account/mode pair
type ReconcilerFactory func(accountID, mode string) (Reconciler, error)

// Server serves portfolio, position, and reconciliation state. Read-only:
// all trading mutations happen in the scheduled passes.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	repo       *database.Repository
	bus        *events.EventBus
	reconcilers ReconcilerFactory
	cfg        config.ServerConfig
	log        *logging.Logger
}

// NewServer creates the ops API server
func NewServer(cfg config.ServerConfig, repo *database.Repository, bus *events.EventBus, reconcilers ReconcilerFactory) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	corsConfig.AllowMethods = []string{"GET", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:      router,
		repo:        repo,
		bus:         bus,
		reconcilers: reconcilers,
		cfg:         cfg,
		log:         logging.WithComponent("api"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		api.GET("/portfolio/:account", s.handlePortfolio)
		api.GET("/positions/:account", s.handlePositions)
		api.GET("/trades/:account", s.handleTrades)
		api.GET("/reconciliation/:account", s.handleReconciliation)
		api.GET("/activity", s.handleActivity)
	}
}

// Start runs the HTTP server until Shutdown
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeout) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info("Starting ops API server", "addr", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ops API server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// requestLogger attaches a trace-scoped logger to each request context and
// logs the completed request
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx, log := logging.WithTraceContext(c.Request.Context())
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		log.WithComponent("api").Info("Request completed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// errorResponse sends a JSON error body
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse sends a JSON success envelope
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
