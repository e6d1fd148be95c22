package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sifan077/shortlinkd/config"
	"github.com/sifan077/shortlinkd/internal/app/usecase"
	"github.com/sifan077/shortlinkd/internal/http/handler"
	"github.com/sifan077/shortlinkd/internal/http/middleware"
)

// Dependencies bundles what the HTTP server needs. Redis is optional and
// only backs the rate limiter.
type Dependencies struct {
	Logger   *zap.Logger
	Config   config.ServerConfig
	UseCases *usecase.UseCases
	Redis    redis.UniversalClient
	Checks   map[string]handler.HealthCheck
}

// Server wraps the Fiber application and its dependencies.
type Server struct {
	app  *fiber.App
	deps Dependencies
}

// New creates the HTTP server with middleware and routes registered.
func New(deps Dependencies) (*Server, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.UseCases == nil {
		return nil, errors.New("server: use-cases are required")
	}

	app := fiber.New(fiber.Config{
		AppName:               "shortlinkd",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		IdleTimeout:           60 * time.Second,
		BodyLimit:             64 * 1024,
		ErrorHandler:          errorHandler,
	})

	s := &Server{
		app:  app,
		deps: deps,
	}

	if err := s.registerMiddleware(); err != nil {
		return nil, err
	}
	s.registerRoutes()
	return s, nil
}

// App exposes the underlying fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the Fiber server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the Fiber server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerMiddleware() error {
	log := s.deps.Logger
	cfg := s.deps.Config

	s.app.Use(middleware.RequestID())
	s.app.Use(middleware.Recovery(log))
	s.app.Use(middleware.Logger(log))
	s.app.Use(middleware.CORS(cfg.AllowedOrigins))

	if s.deps.Redis != nil && cfg.RateLimit > 0 {
		window := time.Minute
		if cfg.RateLimitEvery != "" {
			d, err := time.ParseDuration(cfg.RateLimitEvery)
			if err != nil || d <= 0 {
				return fmt.Errorf("server: invalid rate_limit_window %q", cfg.RateLimitEvery)
			}
			window = d
		}
		rl := middleware.DefaultRateLimitConfig()
		rl.MaxRequests = cfg.RateLimit
		rl.Window = window
		rl.Skip = func(c *fiber.Ctx) bool { return c.Path() == "/health" }
		s.app.Use(middleware.RateLimit(s.deps.Redis, rl, log))
	}

	if cfg.JWTSecret != "" {
		s.app.Use(middleware.Auth([]byte(cfg.JWTSecret), log))
	} else {
		log.Warn("server.jwt_secret is empty, every request is served as guest")
	}
	return nil
}

func (s *Server) registerRoutes() {
	handler.NewShortLinkHandler(handler.ShortLinkDeps{
		Logger:   s.deps.Logger,
		UseCases: s.deps.UseCases,
	}).Register(s.app)

	// Registered last: /:code matches any single path segment.
	handler.NewRedirectHandler(handler.RedirectDeps{
		Logger:   s.deps.Logger,
		Redirect: s.deps.UseCases.Redirect,
		Checks:   s.deps.Checks,
	}).Register(s.app)
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "internal server error"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	}
	return c.Status(code).JSON(handler.ErrorResponse{
		Error:     msg,
		RequestID: middleware.RequestIDFrom(c),
	})
}
