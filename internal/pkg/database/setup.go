package database

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/ManuelReschke/LeadVault/app/models"
	"github.com/ManuelReschke/LeadVault/internal/pkg/config"
	"github.com/ManuelReschke/LeadVault/internal/pkg/logger"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

// Models lists every table the service owns, in dependency order.
func Models() []any {
	return []any{
		&models.CustomerLink{},
		&models.Transaction{},
		&models.WebhookEvent{},
		&models.Fulfillment{},
		&models.Lead{},
		&models.UserLead{},
		&models.SignupGrant{},
		&models.UserProfile{},
	}
}

// Options returns the gorm settings shared by production and tests.
// TranslateError maps driver unique violations onto gorm.ErrDuplicatedKey,
// which the allocators rely on for idempotency.
func Options(log *zap.Logger, level string) *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
		Logger:         logger.NewGormLogger(log, logger.GormLevel(level), 200*time.Millisecond),
	}
}

// SetupDatabase connects to MySQL, retrying while the server comes up, and
// auto-migrates the schema. Migrations in /migrations remain the source of
// truth for production; AutoMigrate keeps dev databases in step.
func SetupDatabase(ctx context.Context, cfg config.DatabaseConfig, logLevel string, log *zap.Logger) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)

	for i := 0; i < maxRetries; i++ {
		db, err = gorm.Open(mysql.New(mysql.Config{
			DSN:                       cfg.DSN(),
			DefaultStringSize:         256,
			DisableDatetimePrecision:  true,
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), Options(log, logLevel))
		if err == nil {
			if err = db.WithContext(ctx).AutoMigrate(Models()...); err == nil {
				return db, nil
			}
		}

		log.Warn("failed to connect to database",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", maxRetries),
			zap.Error(err),
		)
		if i < maxRetries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}

	return nil, err
}
