// Package httpapi exposes the claim and batch-trigger endpoints over HTTP.
package httpapi

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/qrcoast/linkdrop/internal/batchproc"
	"github.com/qrcoast/linkdrop/internal/claimflow"
	"github.com/qrcoast/linkdrop/internal/pkg/logger"
)

// Config carries the transport-level secrets.
type Config struct {
	// APIKey gates the claim endpoint.
	APIKey string

	// QStash signing keys; both current and next are accepted so key
	// rotation never drops a scheduled trigger.
	QStashCurrentSigningKey string
	QStashNextSigningKey    string
}

type server struct {
	app    *fiber.App
	claims claimflow.Service
	batch  batchproc.Processor
	cfg    Config
}

// New builds the HTTP server with its routes and middleware mounted.
func New(claims claimflow.Service, batch batchproc.Processor, cfg Config) *server {
	s := &server{
		claims: claims,
		batch:  batch,
		cfg:    cfg,
	}

	app := fiber.New(fiber.Config{
		AppName:      "linkdrop",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 120 * time.Second,
	})
	app.Use(recover.New())
	app.Use(s.requestLogger())

	api := app.Group("/api")
	api.Post("/link-visit/claim", s.requireAPIKey(), s.handleClaim)
	api.Post("/queue/process-claims-batch", s.requireQStashSignature(), s.handleProcessBatch)

	s.app = app
	return s
}

// Listen serves until Shutdown is called.
func (s *server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown drains in-flight requests and stops the listener.
func (s *server) Shutdown() error {
	return s.app.Shutdown()
}

// requestLogger logs each request with its outcome, warning on client
// errors and erroring on server errors.
func (s *server) requestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			status = fiberErr.Code
		}

		fields := []any{
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", c.IP(),
		}
		switch {
		case status >= 500:
			logger.Error(c.UserContext(), "request failed", fields...)
		case status >= 400:
			logger.Warn(c.UserContext(), "request rejected", fields...)
		default:
			logger.Info(c.UserContext(), "request served", fields...)
		}

		return err
	}
}
