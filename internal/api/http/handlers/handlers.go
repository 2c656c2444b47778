// Package handlers adapts HTTP requests to service calls.
package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-tracker/internal/auth"
	"github.com/spec-kit/ticket-tracker/internal/domain"
	apperrors "github.com/spec-kit/ticket-tracker/pkg/util/errorutil"
	"github.com/spec-kit/ticket-tracker/pkg/util/validation"
)

// parseBody decodes the JSON body into out and runs its validation rules.
func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return apperrors.NewValidationError("Invalid request body", nil)
	}
	return validation.Struct(out)
}

func callerFrom(c *fiber.Ctx) (domain.Identity, error) {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		return domain.Identity{}, apperrors.NewUnauthenticated("Access denied")
	}
	return identity, nil
}
