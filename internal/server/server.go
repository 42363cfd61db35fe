// Package server exposes feed sessions over HTTP and WebSocket.
package server

import (
	"context"
	"sync"
	"time"

	"postsync/internal/config"
	"postsync/internal/observability"
	"postsync/internal/session"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

var (
	promOnce sync.Once
	prom     *fiberprometheus.FiberPrometheus
)

// initMetrics registers the HTTP collectors once per process.
func initMetrics(serviceName string) *fiberprometheus.FiberPrometheus {
	promOnce.Do(func() {
		prom = fiberprometheus.New(serviceName)
	})
	return prom
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	sessions       *session.Registry
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	checks         map[string]HealthCheck
}

// Option configures a Server.
type Option func(*Server)

// WithHealthCheck adds a named dependency to /health.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) { s.checks[name] = check }
}

// NewServer creates the HTTP surface for the given session registry.
func NewServer(cfg *config.Config, sessions *session.Registry, opts ...Option) *Server {
	s := &Server{
		config:         cfg,
		sessions:       sessions,
		promMiddleware: initMetrics("postsync"),
		checks:         make(map[string]HealthCheck),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "postsync",
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
	})
	s.SetupMiddleware(s.app)
	s.SetupRoutes(s.app)
	return s
}

// App returns the underlying fiber application.
func (s *Server) App() *fiber.App { return s.app }

// Start listens on the configured port until Shutdown.
func (s *Server) Start() error {
	observability.Logger.Info("Server starting", "port", s.config.Port)
	return s.app.Listen(":" + s.config.Port)
}

// Shutdown stops accepting requests and unmounts every session.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)
	s.sessions.CloseAll()
	return err
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(ContextMiddleware())
	app.Use(s.promMiddleware.Middleware)
	app.Use(StructuredLogger())
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health", s.HealthCheck)
	s.promMiddleware.RegisterAt(app, "/metrics")

	api := app.Group("/api", RequireUser())

	api.Get("/feed", s.GetFeed)
	api.Post("/feed/refresh", s.RefreshFeed)

	draft := api.Group("/draft")
	draft.Get("/", s.GetDraft)
	draft.Put("/text", s.SetDraftText)
	draft.Put("/image", s.SetDraftImage)
	draft.Post("/submit", s.SubmitDraft)
	draft.Post("/cancel", s.CancelDraft)

	api.Delete("/session", s.CloseSession)

	ws := app.Group("/ws", RequireUser(), RequireUpgrade())
	ws.Get("/feed", s.FeedSocketHandler())
}

// HealthCheck reports liveness plus the state of every registered dependency.
func (s *Server) HealthCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	status := fiber.StatusOK
	deps := fiber.Map{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			deps[name] = "unhealthy"
			status = fiber.StatusServiceUnavailable
			continue
		}
		deps[name] = "healthy"
	}

	overall := "up"
	if status != fiber.StatusOK {
		overall = "degraded"
	}
	return c.Status(status).JSON(fiber.Map{
		"status":       overall,
		"sessions":     s.sessions.Len(),
		"dependencies": deps,
		"time":         time.Now(),
	})
}
