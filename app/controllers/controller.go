package controllers

import (
	"context"
	"time"

	"github.com/ManuelReschke/Turbopic/app/repository"
	"github.com/ManuelReschke/Turbopic/internal/pkg/billing"
	"github.com/ManuelReschke/Turbopic/internal/pkg/entitlements"
	"github.com/ManuelReschke/Turbopic/internal/pkg/jobqueue"
	"github.com/ManuelReschke/Turbopic/internal/pkg/permissions"
)

// GenerationQueue accepts product generation jobs.
type GenerationQueue interface {
	Enqueue(ctx context.Context, payload jobqueue.GenerationJobPayload) (*jobqueue.Job, error)
}

// CatalogSyncer mirrors the provider price catalog into plans.
type CatalogSyncer interface {
	Sync(ctx context.Context) (*billing.CatalogResult, error)
}

// Dependencies are the services the HTTP handlers call into.
type Dependencies struct {
	Repos               *repository.Repositories
	Balance             *entitlements.Calculator
	Engine              *entitlements.Engine
	Reconciler          *billing.Reconciler
	Journal             *billing.Journal
	Permissions         *permissions.Deriver
	Catalog             CatalogSyncer
	Generations         GenerationQueue
	StripeWebhookSecret string
	// WebhookTimeout bounds the processing of a single webhook delivery.
	WebhookTimeout time.Duration
}

// Handlers serves the metering, billing and generation API.
type Handlers struct {
	repos          *repository.Repositories
	balance        *entitlements.Calculator
	engine         *entitlements.Engine
	reconciler     *billing.Reconciler
	journal        *billing.Journal
	permissions    *permissions.Deriver
	catalog        CatalogSyncer
	generations    GenerationQueue
	stripeSecret   string
	webhookTimeout time.Duration
	now            func() time.Time
}

// New creates the handlers from explicit dependencies.
func New(deps Dependencies) *Handlers {
	timeout := deps.WebhookTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Handlers{
		repos:          deps.Repos,
		balance:        deps.Balance,
		engine:         deps.Engine,
		reconciler:     deps.Reconciler,
		journal:        deps.Journal,
		permissions:    deps.Permissions,
		catalog:        deps.Catalog,
		generations:    deps.Generations,
		stripeSecret:   deps.StripeWebhookSecret,
		webhookTimeout: timeout,
		now:            time.Now,
	}
}
