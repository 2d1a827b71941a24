package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wordflowlab/arbiter/pkg/dispatch"
	"github.com/wordflowlab/arbiter/pkg/logging"
	"github.com/wordflowlab/arbiter/pkg/runtime"
	"github.com/wordflowlab/arbiter/pkg/trigger"
	"github.com/wordflowlab/arbiter/pkg/workflow"
)

// Config holds HTTP server settings
type Config struct {
	Addr         string
	Mode         string // "production" uses gin release mode
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns sensible defaults for local use
func DefaultConfig() *Config {
	return &Config{
		Addr:         ":8080",
		Mode:         "debug",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
}

// Dependencies holds all dependencies for the server
type Dependencies struct {
	Dispatcher *dispatch.Dispatcher
	Executor   *workflow.Executor
	Runtime    *runtime.Runtime
	Webhook    *trigger.WebhookBackend
	Manual     *trigger.ManualBackend
	Logger     *logging.Logger
}

// Server is the HTTP adapter over the dispatcher and agent runtime.
// It carries no business rules of its own; every route delegates to
// the engine and maps typed errors to status codes.
type Server struct {
	config *Config
	router *gin.Engine
	server *http.Server
	deps   *Dependencies
}

// New creates a new Server instance with the given configuration
func New(config *Config, deps *Dependencies) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if deps == nil {
		return nil, fmt.Errorf("dependencies cannot be nil")
	}

	if config.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config: config,
		router: gin.New(),
		deps:   deps,
	}

	s.router.Use(gin.Recovery())
	s.setupRoutes()
	return s, nil
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	// Webhook ingress: any method, any sub-path under /hooks
	s.router.Any("/hooks/*path", s.handleWebhook)

	v1 := s.router.Group("/v1")
	s.registerWorkflowRoutes(v1)
	s.registerHandlerRoutes(v1)
	s.registerExecutionRoutes(v1)
	s.registerAgentRoutes(v1)
	s.registerTriggerRoutes(v1)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// Router returns the underlying Gin router for advanced customization
func (s *Server) Router() *gin.Engine {
	return s.router
}

// healthCheck handles health check requests
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
