package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/Turbopic/app/models"
	"github.com/ManuelReschke/Turbopic/app/repository"
	"github.com/ManuelReschke/Turbopic/internal/pkg/billing"
	"github.com/ManuelReschke/Turbopic/internal/pkg/entitlements"
	"github.com/ManuelReschke/Turbopic/internal/pkg/jobqueue"
	"github.com/ManuelReschke/Turbopic/internal/pkg/permissions"
	"github.com/ManuelReschke/Turbopic/internal/pkg/usercontext"
)

const testStripeSecret = "whsec_ctrl_test"

type fakeGenerations struct {
	payloads []jobqueue.GenerationJobPayload
	err      error
}

func (f *fakeGenerations) Enqueue(_ context.Context, payload jobqueue.GenerationJobPayload) (*jobqueue.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.payloads = append(f.payloads, payload)
	return &jobqueue.Job{ID: "job-1", Type: jobqueue.JobTypeGenerateProduct, Status: jobqueue.JobStatusPending}, nil
}

type fakeCatalog struct {
	calls int
}

func (f *fakeCatalog) Sync(context.Context) (*billing.CatalogResult, error) {
	f.calls++
	return &billing.CatalogResult{Upserted: 2, Hidden: 1}, nil
}

type fixture struct {
	repos       *repository.Repositories
	handlers    *Handlers
	generations *fakeGenerations
	catalog     *fakeCatalog
	owner       *models.User
	other       *models.User
	plan        *models.Plan
	integration *models.Integration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	repos := repository.NewMemoryStore()

	f := &fixture{repos: repos, generations: &fakeGenerations{}, catalog: &fakeCatalog{}}
	f.owner = &models.User{Name: "merchant", Email: "owner@example.com", Status: models.STATUS_ACTIVE}
	require.NoError(t, repos.User.Create(ctx, f.owner))
	f.other = &models.User{Name: "someone", Email: "other@example.com", Status: models.STATUS_ACTIVE}
	require.NoError(t, repos.User.Create(ctx, f.other))

	f.plan = &models.Plan{
		Title: "Growth Plan", Kind: models.PlanKindSubscription, ShopifyPlanHandle: "growth",
		StripePriceID: "price_growth", Tokens: 100, ProductUnits: 10, Visible: true,
	}
	require.NoError(t, repos.Plan.Create(ctx, f.plan))

	f.integration = &models.Integration{UserID: f.owner.ID, ShopDomain: "demo.myshopify.com", ShopGID: "gid://shopify/Shop/1"}
	require.NoError(t, repos.Integration.Create(ctx, f.integration))

	f.handlers = New(Dependencies{
		Repos:               repos,
		Balance:             entitlements.NewCalculator(repos, entitlements.DefaultFreeProductUnits),
		Engine:              entitlements.NewEngine(repos, entitlements.EngineConfig{MaxAttempts: 5}),
		Reconciler:          billing.NewReconciler(repos, nil, billing.ReconcilerConfig{MaxAttempts: 5}),
		Journal:             billing.NewJournal(repos.WebhookEvent),
		Permissions:         permissions.NewDeriver(repos),
		Catalog:             f.catalog,
		Generations:         f.generations,
		StripeWebhookSecret: testStripeSecret,
	})
	return f
}

// app mounts the handlers behind a middleware that installs uc.
func (f *fixture) app(uc usercontext.UserContext) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if uc.IsLoggedIn {
			usercontext.SetUserContext(c, uc)
		}
		return c.Next()
	})
	h := f.handlers
	app.Post("/webhooks/stripe", h.HandleStripeWebhook)
	app.Post("/webhooks/shopify", h.HandleShopifyWebhook)
	app.Get("/balance", h.HandleGetBalance)
	app.Post("/usage/deduct", h.HandleDeduct)
	app.Get("/usage/tokens", h.HandleTokenUsage)
	app.Get("/usage/products", h.HandleProductUsage)
	app.Get("/payments", h.HandlePayments)
	app.Get("/permissions", h.HandleGetPermissions)
	app.Get("/permissions/check", h.HandleCheckPermission)
	app.Get("/permissions/:category", h.HandleGetPermissionValue)
	app.Post("/generations", h.HandleCreateGeneration)
	app.Get("/generations/:productId", h.HandleGetGeneration)
	app.Post("/subscriptions/refresh", h.HandleRefreshRenewals)
	app.Post("/catalog/sync", h.HandleCatalogSync)
	app.Get("/account", h.HandleGetUserAccount)
	return app
}

func (f *fixture) asOwner() usercontext.UserContext {
	id := f.integration.ID
	return usercontext.UserContext{
		UserID: f.owner.ID, IsLoggedIn: true, Method: usercontext.MethodIntegrationToken,
		IntegrationID: &id, ShopDomain: f.integration.ShopDomain,
	}
}

func trustedCaller() usercontext.UserContext {
	return usercontext.UserContext{IsLoggedIn: true, Trusted: true, Method: usercontext.MethodServiceToken}
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any, headers map[string]string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

var errBoom = errors.New("boom")

