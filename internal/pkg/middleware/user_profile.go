package middleware

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ManuelReschke/LeadVault/app/models"
	"github.com/ManuelReschke/LeadVault/internal/pkg/logger"
	"github.com/ManuelReschke/LeadVault/internal/pkg/usercontext"
)

// EnsureUserProfile creates the local profile of an authenticated caller on
// first sight. Must run after RequireBearerAuth.
func EnsureUserProfile(db *gorm.DB, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		uc := usercontext.GetUserContext(c)
		if !uc.IsLoggedIn {
			return c.Next()
		}
		if _, err := models.GetOrCreateUserProfile(db.WithContext(c.UserContext()), uc.UserID, uc.Email); err != nil {
			logger.FromContext(c.UserContext(), log).Error("failed to load user profile",
				zap.String("user_id", uc.UserID),
				zap.Error(err),
			)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
		}
		return c.Next()
	}
}
