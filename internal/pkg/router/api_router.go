package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/LeadVault/app/controllers"
	"github.com/ManuelReschke/LeadVault/internal/pkg/middleware"
	"github.com/ManuelReschke/LeadVault/internal/pkg/usercontext"
)

type ApiRouter struct {
	deps *Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	d := h.deps
	cfg := d.Config

	health := controllers.NewHealthController(d.DB, d.Cache)
	webhook := controllers.NewWebhookController(d.Billing, d.Verifier, d.Archive, d.Counters, d.Log)
	fulfill := controllers.NewFulfillmentController(d.Fulfillment, d.Log)
	signup := controllers.NewSignupGrantController(d.SignupGrant, cfg.App.TrustProxyHeaders, d.Log)
	admin := controllers.NewAdminController(d.DB, d.SignupGrant, d.Counters, d.Log)

	app.Get("/health", health.HandleHealth)

	// processor deliveries are authenticated by their signature only
	app.Post("/webhook/payment", webhook.HandlePaymentWebhook)

	authenticated := []fiber.Handler{
		middleware.RequireBearerAuth(d.Tokens),
		middleware.EnsureUserProfile(d.DB, d.Log),
	}

	app.Post("/fulfillment", append(authenticated,
		h.limiter("fulfillment", cfg.Fulfillment.RateLimit, cfg.Fulfillment.RateWindow),
		fulfill.HandleFulfill,
	)...)
	app.Post("/signup-grant", append(authenticated,
		h.limiter("signup", cfg.Signup.RateLimit, cfg.Signup.RateWindow),
		signup.HandleSignupGrant,
	)...)

	adminGroup := app.Group("/admin", middleware.RequireAdminSecret(cfg.Admin.Secret))
	adminGroup.Post("/backfill-starter", admin.HandleBackfillStarter)
	adminGroup.Get("/allocation-stats", admin.HandleAllocationStats)
}

// limiter throttles per authenticated user, falling back to the client IP.
func (h ApiRouter) limiter(scope string, limit int, window time.Duration) fiber.Handler {
	trustProxy := h.deps.Config.App.TrustProxyHeaders
	return limiter.New(limiter.Config{
		Max:        limit,
		Expiration: window,
		Storage:    h.deps.LimiterStorage,
		KeyGenerator: func(c *fiber.Ctx) string {
			if id := usercontext.GetUserID(c); id != "" {
				return scope + ":user:" + id
			}
			return scope + ":ip:" + controllers.GetClientIP(c, trustProxy)
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited"})
		},
	})
}

func NewApiRouter(deps *Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
