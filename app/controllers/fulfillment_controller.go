package controllers

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ManuelReschke/LeadVault/internal/pkg/billing"
	"github.com/ManuelReschke/LeadVault/internal/pkg/fulfillment"
	"github.com/ManuelReschke/LeadVault/internal/pkg/inventory"
	"github.com/ManuelReschke/LeadVault/internal/pkg/logger"
	"github.com/ManuelReschke/LeadVault/internal/pkg/usercontext"
)

// Fulfiller allocates leads for a paid transaction.
type Fulfiller interface {
	Fulfill(ctx context.Context, req fulfillment.Request) (*fulfillment.Result, error)
}

type fulfillmentRequest struct {
	TransactionID  string `json:"transactionId" validate:"omitempty,max=191"`
	PackageID      string `json:"packageId" validate:"omitempty,max=100"`
	RequestedLeads int    `json:"requestedLeads" validate:"gte=1"`
}

type FulfillmentController struct {
	fulfiller Fulfiller
	validate  *validator.Validate
	log       *zap.Logger
}

func NewFulfillmentController(fulfiller Fulfiller, log *zap.Logger) *FulfillmentController {
	return &FulfillmentController{
		fulfiller: fulfiller,
		validate:  validator.New(),
		log:       log.Named("fulfillment"),
	}
}

func (fc *FulfillmentController) HandleFulfill(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return errorResponse(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var body fulfillmentRequest
	if err := c.BodyParser(&body); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "invalid_request")
	}
	if err := fc.validate.Struct(&body); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Field() == "RequestedLeads" {
			return errorResponse(c, fiber.StatusBadRequest, "invalid_lead_count")
		}
		return errorResponse(c, fiber.StatusBadRequest, "invalid_request")
	}

	res, err := fc.fulfiller.Fulfill(c.UserContext(), fulfillment.Request{
		UserID:         userCtx.UserID,
		Email:          userCtx.Email,
		TransactionID:  body.TransactionID,
		PackageID:      body.PackageID,
		RequestedLeads: body.RequestedLeads,
	})
	if err != nil {
		return fc.handleError(c, err)
	}

	if !res.Granted {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"granted":       false,
			"reason":        res.Reason,
			"transactionId": res.TransactionID,
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"granted":       true,
		"leadCount":     res.LeadCount,
		"transactionId": res.TransactionID,
	})
}

func (fc *FulfillmentController) handleError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, fulfillment.ErrInvalidLeadCount):
		return errorResponse(c, fiber.StatusBadRequest, "invalid_lead_count")
	case errors.Is(err, billing.ErrNoTransaction):
		return errorResponse(c, fiber.StatusConflict, "no_completed_transaction")
	case errors.Is(err, inventory.ErrInsufficientInventory):
		return errorResponse(c, fiber.StatusConflict, "insufficient_inventory")
	case errors.Is(err, billing.ErrCustomerNotMapped):
		return errorResponse(c, fiber.StatusConflict, "customer_not_mapped")
	case errors.Is(err, fulfillment.ErrFulfillmentInProgress):
		return errorResponse(c, fiber.StatusConflict, "fulfillment_in_progress")
	}
	logger.FromContext(c.UserContext(), fc.log).Error("fulfillment failed",
		zap.String("user_id", usercontext.GetUserID(c)),
		zap.Error(err),
	)
	return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error")
}
