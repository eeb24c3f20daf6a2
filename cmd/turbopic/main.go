package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/Turbopic/app/controllers"
	"github.com/ManuelReschke/Turbopic/app/repository"
	"github.com/ManuelReschke/Turbopic/internal/pkg/billing"
	"github.com/ManuelReschke/Turbopic/internal/pkg/cache"
	"github.com/ManuelReschke/Turbopic/internal/pkg/config"
	"github.com/ManuelReschke/Turbopic/internal/pkg/database"
	"github.com/ManuelReschke/Turbopic/internal/pkg/entitlements"
	"github.com/ManuelReschke/Turbopic/internal/pkg/generator"
	"github.com/ManuelReschke/Turbopic/internal/pkg/jobqueue"
	"github.com/ManuelReschke/Turbopic/internal/pkg/metrics"
	"github.com/ManuelReschke/Turbopic/internal/pkg/permissions"
	"github.com/ManuelReschke/Turbopic/internal/pkg/router"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[Turbopic] %v", err)
	}

	app, manager, err := NewApplication(cfg)
	if err != nil {
		log.Fatalf("[Turbopic] %v", err)
	}
	manager.Start()

	go func() {
		if err := app.Listen(cfg.Addr()); err != nil {
			log.Fatalf("[Turbopic] listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("[Turbopic] Shutting down")
	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		log.Errorf("[Turbopic] shutdown: %v", err)
	}
	manager.Stop()
}

// NewApplication wires storage, billing, metering and the job queue into a
// fiber app. The returned manager is not started.
func NewApplication(cfg config.Config) (*fiber.App, *jobqueue.Manager, error) {
	limiter := database.NewLimiter(cfg.DB.ConcurrencyLimit)
	metrics.RegisterDBInFlight(limiter.InFlight)

	db, err := database.SetupDatabase(cfg.DB, limiter)
	if err != nil {
		return nil, nil, err
	}
	repos := repository.NewRepositories(db)
	redisClient := cache.NewClient(cfg.Cache)

	balance := entitlements.NewCalculator(repos, cfg.Deduction.FreeProductUnitsPerMonth)
	engine := entitlements.NewEngine(repos, entitlements.EngineConfig{
		Strict:      cfg.Deduction.Strict,
		MaxAttempts: cfg.Deduction.MaxAttempts,
	})

	var (
		prices  billing.PriceLookup
		catalog controllers.CatalogSyncer
	)
	if cfg.Stripe.SecretKey != "" {
		stripeAPI := billing.NewStripeAPI(cfg.Stripe.SecretKey)
		prices = stripeAPI
		if cfg.Stripe.ProductID != "" {
			catalog = billing.NewCatalog(repos, stripeAPI, cfg.Stripe.ProductID)
		}
	} else {
		log.Warn("[Turbopic] STRIPE_SECRET_KEY not set, top-ups must carry their grant in metadata")
	}
	reconciler := billing.NewReconciler(repos, prices, billing.ReconcilerConfig{MaxAttempts: cfg.Deduction.MaxAttempts})

	queue := jobqueue.NewQueue(redisClient, jobqueue.QueueConfig{
		Workers:     cfg.Jobs.Workers,
		MaxAttempts: cfg.Jobs.MaxAttempts,
		Backoff: jobqueue.Backoff{
			Base:   cfg.Jobs.BackoffBase,
			Max:    cfg.Jobs.BackoffMax,
			Factor: 2,
		},
	})
	gen := generator.New(generator.Config{
		URL:     cfg.Generator.URL,
		Token:   cfg.Generator.Token,
		Timeout: cfg.Generator.Timeout,
	})
	queue.Register(jobqueue.JobTypeGenerateProduct, jobqueue.NewGenerationProcessor(repos, balance, engine, gen))
	manager := jobqueue.NewManager(queue, reconciler, cfg.RenewalTTL)

	handlers := controllers.New(controllers.Dependencies{
		Repos:               repos,
		Balance:             balance,
		Engine:              engine,
		Reconciler:          reconciler,
		Journal:             billing.NewJournal(repos.WebhookEvent),
		Permissions:         permissions.NewDeriver(repos),
		Catalog:             catalog,
		Generations:         jobqueue.NewGenerations(queue, repos.Product),
		StripeWebhookSecret: cfg.Stripe.WebhookSecret,
	})

	app := fiber.New(fiber.Config{
		AppName:   "Turbopic",
		BodyLimit: 4 * 1024 * 1024,
	})
	app.Use(recover.New(), logger.New())

	routerCfg := router.Config{
		ServiceToken:     cfg.App.ServiceToken,
		ShopifyAPISecret: cfg.Shopify.APISecret,
		MetricsUser:      cfg.App.MetricsUser,
		MetricsPassword:  cfg.App.MetricsPassword,
		RateLimitMax:     cfg.RateLimit.Max,
		RateLimitWindow:  cfg.RateLimit.Expiration,
		OpenAPIFile:      cfg.App.OpenAPIFile,
	}
	if !cfg.IsDev() {
		routerCfg.LimiterStorage = cache.NewLimiterStorage(cfg.Cache)
	}
	router.InstallRouter(app, handlers, repos, routerCfg)

	return app, manager, nil
}
