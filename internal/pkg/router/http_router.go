package router

import (
	"os"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuelReschke/Turbopic/app/controllers"
	"github.com/ManuelReschke/Turbopic/app/repository"
	"github.com/ManuelReschke/Turbopic/internal/pkg/middleware"
)

// HttpRouter serves health, metrics, docs and the provider webhooks.
type HttpRouter struct {
	handlers *controllers.Handlers
	repos    *repository.Repositories
	cfg      Config
}

func NewHttpRouter(handlers *controllers.Handlers, repos *repository.Repositories, cfg Config) *HttpRouter {
	return &HttpRouter{handlers: handlers, repos: repos, cfg: cfg}
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	h.registerPublicRoutes(app)
	h.registerWebhookRoutes(app)
}

func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	ops := h.opsAuth()
	app.Get("/metrics", ops, adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/monitor", ops, monitor.New(monitor.Config{Title: "Turbopic Metrics"}))

	if h.cfg.OpenAPIFile == "" {
		return
	}
	if _, err := os.Stat(h.cfg.OpenAPIFile); err != nil {
		log.Warnf("[Router] OpenAPI file %s not found, docs disabled", h.cfg.OpenAPIFile)
		return
	}
	app.Use(swagger.New(swagger.Config{
		BasePath: "/docs/api/",
		FilePath: h.cfg.OpenAPIFile,
		Path:     "v1",
	}))
}

// opsAuth protects metrics and monitor with basic auth when credentials are configured.
func (h HttpRouter) opsAuth() fiber.Handler {
	if h.cfg.MetricsUser == "" {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return basicauth.New(basicauth.Config{
		Users: map[string]string{h.cfg.MetricsUser: h.cfg.MetricsPassword},
	})
}

func (h HttpRouter) registerWebhookRoutes(app *fiber.App) {
	// Stripe deliveries are signature-verified in the controller.
	app.Post("/webhooks/stripe", h.handlers.HandleStripeWebhook)
	app.Post("/webhooks/shopify",
		middleware.ShopifyWebhookAuth(h.repos, h.cfg.ServiceToken, h.cfg.ShopifyAPISecret),
		h.handlers.HandleShopifyWebhook,
	)
}
