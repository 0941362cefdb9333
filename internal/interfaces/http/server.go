// Package http exposes the approval core over a JSON API.
// Handlers translate requests to application service calls and map
// classified errors to status codes.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/garyjia/approval-coordinator/internal/application/port"
	"github.com/garyjia/approval-coordinator/internal/application/service"
)

const tracerName = "github.com/garyjia/approval-coordinator/http"

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// LockAdmin inspects and clears request locks
type LockAdmin interface {
	IsLocked(ctx context.Context, resourceID int64) (string, bool, error)
	ForceRelease(ctx context.Context, resourceID int64, actorID string) error
}

// RequestRecorder records per-route request metrics
type RequestRecorder interface {
	RecordAPIRequest(method, path string, status int, duration time.Duration)
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Version         string
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		Version:         "dev",
	}
}

// ServerDeps are the collaborators of the HTTP server. Locks, Recorder,
// MetricsHandler and Health are optional.
type ServerDeps struct {
	Approvals      service.ApprovalService
	Delegations    service.DelegationService
	Authorizer     port.Authorizer
	Locks          LockAdmin
	Recorder       RequestRecorder
	MetricsHandler http.Handler
	Health         func(ctx context.Context) error
	Logger         Logger
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	deps       ServerDeps
	httpServer *http.Server
	router     *gin.Engine
	tracer     trace.Tracer
}

// NewServer creates a new HTTP server with the given services
func NewServer(config ServerConfig, deps ServerDeps) *Server {
	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		config: config,
		deps:   deps,
		router: gin.New(),
		tracer: otel.Tracer(tracerName),
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.tracingMiddleware())
	s.router.Use(s.loggingMiddleware())
	s.router.Use(corsMiddleware())
}

// corsMiddleware adds CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+UserHeader)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// tracingMiddleware starts one span per request, named after the route
func (s *Server) tracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		ctx, span := s.tracer.Start(c.Request.Context(), c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.route", route),
			))
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

// loggingMiddleware logs every request and feeds the request recorder
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if s.deps.Logger != nil {
			s.deps.Logger.Info("HTTP request",
				"method", method,
				"path", path,
				"status", status,
				"latency", latency.String(),
				"client_ip", c.ClientIP(),
			)
		}

		if s.deps.Recorder != nil {
			route := c.FullPath()
			if route == "" {
				route = "unmatched"
			}
			s.deps.Recorder.RecordAPIRequest(method, route, status, latency)
		}
	}
}

func (s *Server) setupRoutes() {
	handlers := NewHandlers(s.deps, s.config.Version)

	s.router.GET("/health", handlers.HealthCheck)
	if s.deps.MetricsHandler != nil {
		s.router.GET("/metrics", gin.WrapH(s.deps.MetricsHandler))
	}

	api := s.router.Group("/api/v1")
	{
		api.POST("/requests", handlers.CreateRequest)
		api.GET("/requests/:id", handlers.GetRequest)
		api.GET("/requests/:id/audit", handlers.GetAuditTrail)
		api.POST("/requests/:id/cancel", handlers.CancelRequest)
		api.GET("/requests/:id/lock", handlers.GetLock)
		api.DELETE("/requests/:id/lock", handlers.ForceUnlock)

		api.POST("/tasks/:id/approve", handlers.ApproveTask)
		api.POST("/tasks/:id/reject", handlers.RejectTask)
		api.POST("/tasks/:id/reassign", handlers.ReassignTask)

		api.POST("/delegations", handlers.CreateDelegation)
		api.DELETE("/delegations/:id", handlers.RevokeDelegation)

		api.GET("/users/:id/tasks", handlers.ListPendingTasks)
		api.GET("/users/:id/delegations", handlers.ListActiveDelegations)
		api.GET("/users/:id/delegated-tasks", handlers.ListDelegatedTasks)
	}
}

// Start serves until ctx is cancelled or the listener fails
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logInfo("Starting HTTP server", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logInfo("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logError("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logInfo("Stopping HTTP server")

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logError("HTTP server shutdown error", "error", err)
		return err
	}

	s.logInfo("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

func (s *Server) logInfo(msg string, kv ...interface{}) {
	if s.deps.Logger != nil {
		s.deps.Logger.Info(msg, kv...)
	}
}

func (s *Server) logError(msg string, kv ...interface{}) {
	if s.deps.Logger != nil {
		s.deps.Logger.Error(msg, kv...)
	}
}
