package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-tracker/internal/observability"
)

// NewApp builds the Fiber application with the global middleware chain installed.
func NewApp(name string, logger *zap.Logger, metrics *observability.Metrics, timeout time.Duration) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               name,
		ErrorHandler:          ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	RegisterMiddlewares(app, logger, metrics, timeout)
	return app
}
