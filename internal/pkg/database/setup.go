package database

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/Turbopic/app/models"
	"github.com/ManuelReschke/Turbopic/internal/pkg/config"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

// Models lists every table owned by the service, in dependency order.
func Models() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Plan{},
		&models.Permission{},
		&models.Integration{},
		&models.Subscription{},
		&models.TokenUsage{},
		&models.ProductUsage{},
		&models.Payment{},
		&models.BillingWebhookEvent{},
		&models.GeneratedProduct{},
	}
}

// SetupDatabase opens the mysql connection with retries, sizes the pool and
// installs the concurrency limiter around every statement.
func SetupDatabase(cfg config.DBConfig, limiter *Limiter) (*gorm.DB, error) {
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
		}), &gorm.Config{
			TranslateError: true,
			Logger:         logger.Default.LogMode(logger.Warn),
		})
		if err == nil {
			break
		}

		log.Warnf("[Database] Failed to connect (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if limiter != nil {
		if err := db.Use(limiter); err != nil {
			return nil, fmt.Errorf("install limiter: %w", err)
		}
	}

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(Models()...); err != nil {
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
	}

	log.Infof("[Database] Connected to %s:%s/%s (pool %d, limiter %d)", cfg.Host, cfg.Port, cfg.Name, cfg.MaxOpenConns, cfg.ConcurrencyLimit)
	return db, nil
}
