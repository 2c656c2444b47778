package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-tracker/internal/domain"
	apperrors "github.com/spec-kit/ticket-tracker/pkg/util/errorutil"
)

const identityKey = "auth_identity"

// TokenVerifier resolves a bearer token to the caller it was issued for.
type TokenVerifier interface {
	VerifyToken(token string) (domain.Identity, error)
}

// AuthMiddleware validates bearer tokens and stores the caller identity.
type AuthMiddleware struct {
	verifier TokenVerifier
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(verifier TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		return apperrors.NewUnauthenticated("Access denied")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewInvalidToken("Invalid token")
	}

	identity, err := m.verifier.VerifyToken(strings.TrimSpace(parts[1]))
	if err != nil {
		return apperrors.NewInvalidToken("Invalid token")
	}

	c.Locals(identityKey, identity)
	return c.Next()
}

// IdentityFromContext retrieves the authenticated caller.
func IdentityFromContext(c *fiber.Ctx) (domain.Identity, bool) {
	identity, ok := c.Locals(identityKey).(domain.Identity)
	return identity, ok
}
