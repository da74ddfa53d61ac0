package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/LeadVault/internal/pkg/logger"
)

// RequestContext copies the request id assigned by fiber's requestid
// middleware into the request's context.Context, where services and the GORM
// logger pick it up.
func RequestContext() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if id, ok := c.Locals("requestid").(string); ok && id != "" {
			c.SetUserContext(logger.WithRequestID(c.UserContext(), id))
		}
		return c.Next()
	}
}
