package http

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-tracker/internal/observability"
	apperrors "github.com/spec-kit/ticket-tracker/pkg/util/errorutil"
)

// RegisterMiddlewares attaches global middlewares. The request logger sits outside the
// error handler so it observes the final status code.
func RegisterMiddlewares(app *fiber.App, logger *zap.Logger, metrics *observability.Metrics, timeout time.Duration) {
	app.Use(cors.New())
	app.Use(observability.RequestLogger(logger, metrics))
	if timeout > 0 {
		app.Use(requestTimeoutMiddleware(timeout))
	}
	app.Use(errorHandlingMiddleware(logger, metrics))
}

// ErrorHandler renders errors that escape the middleware chain, such as unmatched routes.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		domainErr := apperrors.ToDomainError(err)
		if domainErr.HTTPStatus >= fiber.StatusInternalServerError {
			logger.Error("request failed", zap.Error(domainErr))
		}
		return writeError(c, domainErr)
	}
}

func requestTimeoutMiddleware(timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

func errorHandlingMiddleware(logger *zap.Logger, metrics *observability.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
				err = apperrors.NewInternalError(fmt.Errorf("panic: %v", r))
			}
			if err != nil {
				domainErr := apperrors.ToDomainError(err)
				metrics.RecordError(c.Route().Path, c.Method(), domainErr.Code)
				if domainErr.HTTPStatus >= fiber.StatusInternalServerError {
					logger.Error("request failed",
						zap.String("method", c.Method()),
						zap.String("path", c.Path()),
						zap.Error(domainErr),
					)
				}
				err = writeError(c, domainErr)
			}
		}()
		return c.Next()
	}
}

// writeError renders {message}; validation failures carry their field list instead of
// a string.
func writeError(c *fiber.Ctx, domainErr *apperrors.DomainError) error {
	var message any = domainErr.Message
	if len(domainErr.Fields) > 0 {
		message = domainErr.Fields
	}
	return c.Status(domainErr.HTTPStatus).JSON(fiber.Map{"message": message})
}
