package api

import (
	"context"
	"fmt"
	"time"

	"github.com/basekick-labs/lineprotocol/internal/metrics"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"
)

// Server represents the HTTP API server
type Server struct {
	app     *fiber.App
	metrics *metrics.Metrics
	logger  zerolog.Logger
	addr    string
	started time.Time
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxPayloadSize int64 // Applies to the request body as sent (compressed or not)
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:           "0.0.0.0",
		Port:           8086,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxPayloadSize: 100 << 20,
	}
}

// NewServer creates a new HTTP server with Fiber
func NewServer(cfg ServerConfig, m *metrics.Metrics, logger zerolog.Logger) *Server {
	if m == nil {
		m = metrics.Get()
	}
	logger = logger.With().Str("component", "api-server").Logger()

	app := fiber.New(fiber.Config{
		AppName:               "lpcodec",
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		IdleTimeout:           cfg.IdleTimeout,
		BodyLimit:             int(cfg.MaxPayloadSize),
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(logger),
	})

	app.Use(recover.New())
	app.Use(requestLogger(m, logger))

	s := &Server{
		app:     app,
		metrics: m,
		logger:  logger,
		addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		started: time.Now(),
	}

	app.Get("/health", s.healthHandler)
	app.Get("/metrics", s.metricsHandler)
	return s
}

// App exposes the underlying Fiber app so handlers can register routes.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) healthHandler(c *fiber.Ctx) error {
	uptime := time.Since(s.started)
	return c.JSON(fiber.Map{
		"status":     "ok",
		"time":       time.Now().UTC().Format(time.RFC3339),
		"uptime_sec": uptime.Seconds(),
	})
}

func (s *Server) metricsHandler(c *fiber.Ctx) error {
	if c.Get("Accept") == "application/json" {
		return c.JSON(s.metrics.Snapshot())
	}
	c.Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	return c.SendString(s.metrics.PrometheusFormat())
}

// Start listens in the background. Listen failures are reported on the
// returned channel.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	s.logger.Info().Str("addr", s.addr).Msg("Starting HTTP server")

	go func() {
		if err := s.app.Listen(s.addr); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down server gracefully...")
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info().Msg("Server stopped")
	return nil
}

func customErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
		}

		logger.Error().
			Err(err).
			Int("status", code).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Msg("Request error")

		return c.Status(code).JSON(fiber.Map{
			"code":    errorCode(code),
			"message": err.Error(),
		})
	}
}

// requestLogger logs failed requests and collects HTTP metrics
func requestLogger(m *metrics.Metrics, logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		duration := time.Since(start)
		status := c.Response().StatusCode()
		if err != nil {
			if e, ok := err.(*fiber.Error); ok {
				status = e.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		m.IncHTTPRequests()
		m.RecordHTTPLatency(duration.Microseconds())
		if status >= 400 {
			m.IncHTTPError()
		} else {
			m.IncHTTPSuccess()
		}

		// Only failures are logged
		if status >= 400 {
			event := logger.Warn()
			if status >= 500 {
				event = logger.Error()
			}
			event.
				Str("method", c.Method()).
				Str("path", c.Path()).
				Int("status", status).
				Dur("duration", duration).
				Msg("Request failed")
		}
		return err
	}
}

// errorCode maps HTTP statuses to InfluxDB v2 error codes.
func errorCode(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return "invalid"
	case fiber.StatusNotFound:
		return "not found"
	case fiber.StatusRequestEntityTooLarge:
		return "request too large"
	case fiber.StatusUnsupportedMediaType:
		return "unsupported media type"
	case fiber.StatusServiceUnavailable:
		return "unavailable"
	default:
		return "internal error"
	}
}
