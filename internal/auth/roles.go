package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-tracker/internal/domain"
	apperrors "github.com/spec-kit/ticket-tracker/pkg/util/errorutil"
)

// RequireRole ensures the authenticated caller holds the given role.
func RequireRole(role domain.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity, ok := IdentityFromContext(c)
		if !ok {
			return apperrors.NewUnauthenticated("Unauthenticated")
		}
		if identity.Role != role {
			return apperrors.NewForbidden("Forbidden")
		}
		return c.Next()
	}
}

// RequireAdmin is RequireRole for the admin role.
func RequireAdmin() fiber.Handler {
	return RequireRole(domain.RoleAdmin)
}
