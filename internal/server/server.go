package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/cmdwarden/warden/internal/approval"
	"github.com/cmdwarden/warden/internal/audit"
	"github.com/cmdwarden/warden/internal/auth"
	"github.com/cmdwarden/warden/internal/config"
	"github.com/cmdwarden/warden/internal/pipeline"
)

// Server is the HTTP face of the gateway: request submission, the
// audit log, approval resolution and the live approval feed.
type Server struct {
	echo    *echo.Echo
	config  config.ServerConfig
	manager *config.Manager
	broker  approval.Broker
	store   audit.Store
	ws      *WSHandler
	started time.Time
}

func New(manager *config.Manager, pipe *pipeline.Pipeline, store audit.Store, broker approval.Broker, authManager *auth.Manager) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		config:  manager.Current().Server,
		manager: manager,
		broker:  broker,
		store:   store,
		started: time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes(pipe, store, broker, authManager)

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	log.Info().Int("port", s.config.Port).Msg("starting HTTP server")

	s.echo.Server.ReadTimeout = time.Duration(s.config.ReadTimeout) * time.Second
	s.echo.Server.WriteTimeout = time.Duration(s.config.WriteTimeout) * time.Second

	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down server")

	s.ws.Hub().Shutdown()

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Duration(s.config.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	return nil
}

func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))

	s.echo.Use(middleware.Recover())

	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))
}

func (s *Server) setupRoutes(pipe *pipeline.Pipeline, store audit.Store, broker approval.Broker, authManager *auth.Manager) {
	s.ws = NewWSHandler(broker, authManager)

	executeHandler := NewExecuteHandler(pipe)
	auditHandler := NewAuditHandler(store)
	approvalHandler := NewApprovalHandler(broker, s.ws.Hub())
	authHandler := auth.NewHandler(authManager)

	// Public endpoints. The websocket route does its own token check
	// because browsers cannot set headers on websocket dials.
	s.echo.GET("/health", s.handleHealth)
	s.echo.POST("/login", authHandler.Login)
	s.echo.GET("/api/v1/ws", s.ws.HandleWebSocket)

	// Everything else sits behind the auth middleware. When auth is
	// disabled the middleware waves requests through.
	protected := s.echo.Group("")
	protected.Use(authManager.Middleware())

	protected.GET("/me", authHandler.Me)

	api := protected.Group("/api/v1")
	api.POST("/execute", executeHandler.Execute)
	api.GET("/status", s.handleStatus)
	api.GET("/audit", auditHandler.List)
	api.GET("/audit/stats", auditHandler.Stats)
	api.GET("/audit/:id", auditHandler.Get)
	api.GET("/approvals", approvalHandler.List)
	api.POST("/approvals/:id/approve", approvalHandler.Approve, authManager.RequireRole(auth.RoleApprover))
	api.POST("/approvals/:id/deny", approvalHandler.Deny, authManager.RequireRole(auth.RoleApprover))
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (s *Server) handleStatus(c echo.Context) error {
	ctx := c.Request().Context()
	snap := s.manager.Current()

	pending, err := s.broker.GetPending(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to read pending approvals for status")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to read pending approvals",
		})
	}

	stats, err := s.store.Stats(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to read ledger stats for status")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to read ledger stats",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":            "ok",
		"mode":              snap.ExecMode(),
		"pending_approvals": len(pending),
		"uptime_seconds":    int(time.Since(s.started).Seconds()),
		"ledger":            stats,
	})
}
