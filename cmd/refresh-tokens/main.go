// Command refresh-tokens re-grants active subscriptions whose provider stopped
// sending renewal events and prints "updated / total".
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Turbopic/app/repository"
	"github.com/ManuelReschke/Turbopic/internal/pkg/billing"
	"github.com/ManuelReschke/Turbopic/internal/pkg/config"
	"github.com/ManuelReschke/Turbopic/internal/pkg/database"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[RefreshTokens] %v", err)
	}
	// Migrations are owned by cmd/migrate.
	cfg.DB.AutoMigrate = false

	db, err := database.SetupDatabase(cfg.DB, database.NewLimiter(cfg.DB.ConcurrencyLimit))
	if err != nil {
		log.Fatalf("[RefreshTokens] %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	reconciler := billing.NewReconciler(repository.NewRepositories(db), nil, billing.ReconcilerConfig{
		MaxAttempts: cfg.Deduction.MaxAttempts,
	})
	res, err := reconciler.RefreshRenewals(ctx)
	if err != nil {
		log.Errorf("[RefreshTokens] %v", err)
		os.Exit(1)
	}
	fmt.Printf("%d / %d\n", res.Updated, res.Total)
}
