package controllers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ManuelReschke/LeadVault/internal/pkg/logger"
	"github.com/ManuelReschke/LeadVault/internal/pkg/signupgrant"
	"github.com/ManuelReschke/LeadVault/internal/pkg/usercontext"
)

// Granter issues starter leads.
type Granter interface {
	Grant(ctx context.Context, userID, email, clientIP string) (*signupgrant.Result, error)
}

type SignupGrantController struct {
	granter           Granter
	trustProxyHeaders bool
	log               *zap.Logger
}

func NewSignupGrantController(granter Granter, trustProxyHeaders bool, log *zap.Logger) *SignupGrantController {
	return &SignupGrantController{
		granter:           granter,
		trustProxyHeaders: trustProxyHeaders,
		log:               log.Named("signupgrant"),
	}
}

func (sc *SignupGrantController) HandleSignupGrant(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return errorResponse(c, fiber.StatusUnauthorized, "unauthorized")
	}

	res, err := sc.granter.Grant(c.UserContext(), userCtx.UserID, userCtx.Email, GetClientIP(c, sc.trustProxyHeaders))
	if err != nil {
		logger.FromContext(c.UserContext(), sc.log).Error("signup grant failed",
			zap.String("user_id", userCtx.UserID),
			zap.Error(err),
		)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error")
	}

	if !res.Granted {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"granted": false,
			"reason":  res.Reason,
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"granted":   true,
		"leadCount": res.LeadCount,
	})
}
