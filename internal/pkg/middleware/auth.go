package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/LeadVault/internal/pkg/auth"
	"github.com/ManuelReschke/LeadVault/internal/pkg/usercontext"
)

// AdminSecretHeader carries the shared secret of the admin endpoints.
const AdminSecretHeader = "X-Admin-Secret"

// TokenVerifier resolves a bearer token to the caller.
type TokenVerifier interface {
	Verify(token string) (*auth.Identity, error)
}

// RequireBearerAuth authenticates API requests with an identity-provider
// token and stores the caller in the user context.
func RequireBearerAuth(verifier TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := extractBearerToken(c)
		if token == "" {
			return unauthorized(c, "missing bearer token")
		}

		identity, err := verifier.Verify(token)
		if err != nil {
			return unauthorized(c, err.Error())
		}

		usercontext.Set(c, usercontext.UserContext{
			UserID:     identity.UserID,
			Email:      identity.Email,
			IsLoggedIn: true,
		})
		return c.Next()
	}
}

// RequireAdminSecret gates operator endpoints behind a shared secret. With no
// secret configured the endpoints are unavailable rather than open.
func RequireAdminSecret(secret string) fiber.Handler {
	expected := []byte(strings.TrimSpace(secret))
	return func(c *fiber.Ctx) error {
		if len(expected) == 0 {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error":   "admin_disabled",
				"message": "admin secret not configured",
			})
		}
		given := []byte(strings.TrimSpace(c.Get(AdminSecretHeader)))
		if subtle.ConstantTimeCompare(given, expected) != 1 {
			return unauthorized(c, "invalid admin secret")
		}
		return c.Next()
	}
}

func extractBearerToken(c *fiber.Ctx) string {
	header := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func unauthorized(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error":   "unauthorized",
		"message": message,
	})
}
