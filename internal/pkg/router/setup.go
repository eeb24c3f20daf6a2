package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Turbopic/app/controllers"
	"github.com/ManuelReschke/Turbopic/app/repository"
)

// Router installs a group of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// Config carries the secrets and limits the routes are guarded with.
type Config struct {
	ServiceToken     string
	ShopifyAPISecret string
	MetricsUser      string
	MetricsPassword  string
	RateLimitMax     int
	RateLimitWindow  time.Duration
	// LimiterStorage shares limiter counters between instances; nil keeps
	// them in memory.
	LimiterStorage fiber.Storage
	// OpenAPIFile is served under /docs/api/v1 when set.
	OpenAPIFile string
}

// InstallRouter registers the public, webhook, service and API routes.
func InstallRouter(app *fiber.App, handlers *controllers.Handlers, repos *repository.Repositories, cfg Config) {
	setup(app,
		NewHttpRouter(handlers, repos, cfg),
		NewApiRouter(handlers, repos, cfg),
	)
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
