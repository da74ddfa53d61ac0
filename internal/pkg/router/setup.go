package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ManuelReschke/LeadVault/internal/pkg/billing"
	"github.com/ManuelReschke/LeadVault/internal/pkg/config"
	"github.com/ManuelReschke/LeadVault/internal/pkg/fulfillment"
	"github.com/ManuelReschke/LeadVault/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/LeadVault/internal/pkg/middleware"
	"github.com/ManuelReschke/LeadVault/internal/pkg/s3archive"
	"github.com/ManuelReschke/LeadVault/internal/pkg/signupgrant"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies is everything the HTTP layer needs, wired once in main.
type Dependencies struct {
	Config         *config.Config
	DB             *gorm.DB
	Cache          *redis.Client
	Billing        *billing.Service
	Verifier       *billing.SignatureVerifier
	Fulfillment    *fulfillment.Service
	SignupGrant    *signupgrant.Service
	Tokens         middleware.TokenVerifier
	Archive        s3archive.Archiver
	Counters       counter.Recorder
	LimiterStorage fiber.Storage
	Log            *zap.Logger
}

func InstallRouter(app *fiber.App, deps *Dependencies) {
	setup(app, NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
