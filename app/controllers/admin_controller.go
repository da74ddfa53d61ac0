package controllers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ManuelReschke/LeadVault/internal/pkg/inventory"
	"github.com/ManuelReschke/LeadVault/internal/pkg/logger"
	"github.com/ManuelReschke/LeadVault/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/LeadVault/internal/pkg/signupgrant"
)

// Backfiller retroactively grants starter leads to existing users.
type Backfiller interface {
	Backfill(ctx context.Context) (*signupgrant.BackfillResult, error)
}

// AdminController serves the operator endpoints. Access control happens in
// the router via the admin secret middleware.
type AdminController struct {
	db         *gorm.DB
	backfiller Backfiller
	counters   counter.Recorder
	log        *zap.Logger
}

// NewAdminController creates a new admin controller
func NewAdminController(db *gorm.DB, backfiller Backfiller, counters counter.Recorder, log *zap.Logger) *AdminController {
	if counters == nil {
		counters = counter.Nop{}
	}
	return &AdminController{
		db:         db,
		backfiller: backfiller,
		counters:   counters,
		log:        log.Named("admin"),
	}
}

// HandleBackfillStarter runs the starter grant backfill synchronously.
func (ac *AdminController) HandleBackfillStarter(c *fiber.Ctx) error {
	res, err := ac.backfiller.Backfill(c.UserContext())
	if err != nil {
		return ac.handleError(c, "backfill failed", err)
	}
	return c.Status(fiber.StatusOK).JSON(res)
}

// HandleAllocationStats reports the allocation counters and the pool size.
func (ac *AdminController) HandleAllocationStats(c *fiber.Ctx) error {
	ctx := c.UserContext()

	snapshot, err := ac.counters.Snapshot(ctx)
	if err != nil {
		// counters are advisory, the pool numbers still help
		logger.FromContext(ctx, ac.log).Warn("failed to read allocation counters", zap.Error(err))
		snapshot = map[string]int64{}
	}

	pool, err := inventory.PoolStats(ctx, ac.db)
	if err != nil {
		return ac.handleError(c, "failed to read pool stats", err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"counters": snapshot,
		"pool":     pool,
	})
}

func (ac *AdminController) handleError(c *fiber.Ctx, msg string, err error) error {
	logger.FromContext(c.UserContext(), ac.log).Error(msg, zap.Error(err))
	return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error")
}
