package router

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/Turbopic/app/controllers"
	"github.com/ManuelReschke/Turbopic/app/repository"
	"github.com/ManuelReschke/Turbopic/internal/pkg/middleware"
)

type ApiRouter struct {
	handlers *controllers.Handlers
	repos    *repository.Repositories
	cfg      Config
}

func NewApiRouter(handlers *controllers.Handlers, repos *repository.Repositories, cfg Config) *ApiRouter {
	return &ApiRouter{handlers: handlers, repos: repos, cfg: cfg}
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", h.rateLimiter())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")
	h.registerServiceRoutes(v1)

	authed := v1.Group("", middleware.Authenticate(h.repos, h.cfg.ServiceToken))
	authed.Get("/account", h.handlers.HandleGetUserAccount)
	authed.Get("/balance", h.handlers.HandleGetBalance)
	authed.Post("/usage/deduct", h.handlers.HandleDeduct)
	authed.Get("/usage/tokens", h.handlers.HandleTokenUsage)
	authed.Get("/usage/products", h.handlers.HandleProductUsage)
	authed.Get("/payments", h.handlers.HandlePayments)
	authed.Get("/permissions", h.handlers.HandleGetPermissions)
	authed.Get("/permissions/check", h.handlers.HandleCheckPermission)
	authed.Get("/permissions/:category", h.handlers.HandleGetPermissionValue)
	authed.Post("/generations", h.handlers.HandleCreateGeneration)
	authed.Get("/generations/:productId", h.handlers.HandleGetGeneration)
}

// registerServiceRoutes mounts the operations only internal callers may trigger.
func (h ApiRouter) registerServiceRoutes(v1 fiber.Router) {
	svc := middleware.RequireServiceToken(h.cfg.ServiceToken)
	v1.Post("/subscriptions/refresh", svc, h.handlers.HandleRefreshRenewals)
	v1.Post("/catalog/sync", svc, h.handlers.HandleCatalogSync)
}

// rateLimiter limits per credential, falling back to the client IP.
func (h ApiRouter) rateLimiter() fiber.Handler {
	max := h.cfg.RateLimitMax
	if max < 1 {
		max = 120
	}
	window := h.cfg.RateLimitWindow
	if window <= 0 {
		window = time.Minute
	}
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		Storage:    h.cfg.LimiterStorage,
		KeyGenerator: func(c *fiber.Ctx) string {
			credential := c.Get(fiber.HeaderAuthorization)
			if credential == "" {
				credential = c.Get(middleware.ServiceTokenHeader)
			}
			if credential == "" {
				return "ip:" + c.IP()
			}
			sum := sha256.Sum256([]byte(credential))
			return "cred:" + hex.EncodeToString(sum[:8])
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "Too many requests",
			})
		},
	})
}
