package main

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"

	"github.com/ManuelReschke/LeadVault/internal/pkg/auth"
	"github.com/ManuelReschke/LeadVault/internal/pkg/billing"
	"github.com/ManuelReschke/LeadVault/internal/pkg/cache"
	"github.com/ManuelReschke/LeadVault/internal/pkg/config"
	"github.com/ManuelReschke/LeadVault/internal/pkg/database"
	"github.com/ManuelReschke/LeadVault/internal/pkg/env"
	"github.com/ManuelReschke/LeadVault/internal/pkg/fulfillment"
	"github.com/ManuelReschke/LeadVault/internal/pkg/iphash"
	"github.com/ManuelReschke/LeadVault/internal/pkg/lock"
	"github.com/ManuelReschke/LeadVault/internal/pkg/logger"
	"github.com/ManuelReschke/LeadVault/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/LeadVault/internal/pkg/middleware"
	"github.com/ManuelReschke/LeadVault/internal/pkg/router"
	"github.com/ManuelReschke/LeadVault/internal/pkg/s3archive"
	"github.com/ManuelReschke/LeadVault/internal/pkg/signupgrant"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := env.SetupEnvFile(); err != nil && !errors.Is(err, env.ErrNoEnvFile) {
		stdlog.Fatalf("load .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		stdlog.Fatalf("invalid configuration: %v", err)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		stdlog.Fatalf("init logger: %v", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApplication(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to start application", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(fmt.Sprintf("%s:%s", cfg.App.Host, cfg.App.Port))
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatal("server stopped", zap.Error(err))
		}
	case <-ctx.Done():
		log.Info("shutting down")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			log.Error("graceful shutdown failed", zap.Error(err))
		}
	}
}

func NewApplication(ctx context.Context, cfg *config.Config, log *zap.Logger) (*fiber.App, error) {
	dbLogLevel := "warn"
	if cfg.IsDev() {
		dbLogLevel = "info"
	}
	db, err := database.SetupDatabase(ctx, cfg.Database, dbLogLevel, log.Named("gorm"))
	if err != nil {
		return nil, fmt.Errorf("setup database: %w", err)
	}
	redisClient := cache.SetupCache(ctx, cfg.Cache, log)

	archiveCfg, err := s3archive.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("s3 archive config: %w", err)
	}
	var archive s3archive.Archiver = s3archive.Nop{}
	if archiveCfg.Enabled {
		client, err := s3archive.NewClient(ctx, archiveCfg, log)
		if err != nil {
			// the archive is best-effort, deliveries are still mirrored
			log.Warn("s3 archive unavailable", zap.Error(err))
		} else {
			archive = client
		}
	}

	verifier := billing.NewSignatureVerifier(cfg.Webhook.Secrets, cfg.Webhook.Tolerance)
	if !verifier.Configured() {
		log.Warn("PAYMENT_WEBHOOK_SECRET is not set, every webhook delivery will be rejected")
	}

	counters := counter.NewRedisRecorder(redisClient)
	billingSvc := billing.NewServiceFromDB(db, billing.ReconcileConfig{
		Lookback:   cfg.Fulfillment.Lookback,
		LedgerPage: cfg.Fulfillment.LedgerPage,
		MirrorScan: cfg.Fulfillment.MirrorScan,
	}, log)
	fulfillSvc := fulfillment.NewService(db, billingSvc,
		lock.NewRedisLocker(redisClient, "leadvault:fulfillment:"),
		counters,
		fulfillment.Config{MaxLeads: cfg.Fulfillment.MaxRequest, LockTTL: cfg.Fulfillment.LockTTL},
		log,
	)
	grantSvc := signupgrant.NewService(db, iphash.New(cfg.Signup.IPHashSalt), counters, signupgrant.Config{
		FreeLeads:    cfg.Signup.FreeLeads,
		IPWindow:     cfg.Signup.IPWindow,
		BackfillPage: cfg.Signup.BackfillPage,
	}, log)

	app := fiber.New(fiber.Config{
		AppName:   "LeadVault",
		BodyLimit: 1 << 20,
	})

	app.Use(
		recover.New(),
		requestid.New(),
		middleware.RequestContext(),
		fiberlogger.New(fiberlogger.Config{
			Format: "${time} ${locals:requestid} ${status} - ${latency} ${method} ${path}\n",
		}),
	)

	// fiber metrics
	if cfg.Metrics.Password != "" {
		app.Get("/metrics", basicauth.New(basicauth.Config{
			Users: map[string]string{
				cfg.Metrics.User: cfg.Metrics.Password,
			},
		}), monitor.New(monitor.Config{Title: "LeadVault Metrics"}))
	}

	// SWAGGER / OPENAPI
	if specPath := findOpenAPISpec(); specPath != "" {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: specPath,
			Path:     "v1",
		}))
	} else {
		log.Warn("openapi spec not found, /docs/api disabled")
	}

	router.InstallRouter(app, &router.Dependencies{
		Config:         cfg,
		DB:             db,
		Cache:          redisClient,
		Billing:        billingSvc,
		Verifier:       verifier,
		Fulfillment:    fulfillSvc,
		SignupGrant:    grantSvc,
		Tokens:         auth.NewTokenVerifier(cfg.Auth),
		Archive:        archive,
		Counters:       counters,
		LimiterStorage: cache.LimiterStorage(ctx, redisClient, cfg.Cache, log),
		Log:            log,
	})

	return app, nil
}

func findOpenAPISpec() string {
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/leadvault to project root
		"../../../", // Fallback
	}
	for _, base := range basePaths {
		path := base + "public/docs/v1/openapi.yml"
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
