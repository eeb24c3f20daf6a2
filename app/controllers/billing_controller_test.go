package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/ManuelReschke/Turbopic/app/models"
	"github.com/ManuelReschke/Turbopic/app/repository"
	"github.com/ManuelReschke/Turbopic/internal/pkg/usercontext"
)

func signedStripeEvent(t *testing.T, id, eventType string, object map[string]any) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"api_version": "2025-07-30.basil",
		"created":     time.Now().Unix(),
		"data":        map[string]any{"object": object},
	})
	require.NoError(t, err)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testStripeSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return signed.Payload, signed.Header
}

func TestHandleStripeWebhook(t *testing.T) {
	f := newFixture(t)
	app := f.app(usercontext.UserContext{})

	checkout := map[string]any{
		"id": "cs_1", "object": "checkout.session", "mode": "subscription", "customer": "cus_42",
		"metadata": map[string]any{"userId": fmt.Sprint(f.owner.ID)},
	}
	body, header := signedStripeEvent(t, "evt_checkout", "checkout.session.completed", checkout)

	t.Run("applies a verified event", func(t *testing.T) {
		status, out := doJSON(t, app, fiber.MethodPost, "/webhooks/stripe", body, map[string]string{"Stripe-Signature": header})
		require.Equal(t, fiber.StatusOK, status, out)
		result := out["result"].(map[string]any)
		assert.Equal(t, "customer_linked", result["decision"])

		user, err := f.repos.User.GetByID(context.Background(), f.owner.ID)
		require.NoError(t, err)
		assert.Equal(t, "cus_42", user.StripeCustomerID)
	})

	t.Run("redelivery is acknowledged as duplicate", func(t *testing.T) {
		status, out := doJSON(t, app, fiber.MethodPost, "/webhooks/stripe", body, map[string]string{"Stripe-Signature": header})
		assert.Equal(t, fiber.StatusOK, status)
		assert.Equal(t, true, out["duplicate"])
	})

	t.Run("bad signature", func(t *testing.T) {
		status, out := doJSON(t, app, fiber.MethodPost, "/webhooks/stripe", body, map[string]string{"Stripe-Signature": "t=1,v1=deadbeef"})
		assert.Equal(t, fiber.StatusUnauthorized, status)
		assert.Equal(t, "invalid_signature", out["error"])
	})

	t.Run("unhandled type is ignored", func(t *testing.T) {
		other, otherHeader := signedStripeEvent(t, "evt_customer", "customer.created", map[string]any{"id": "cus_9", "object": "customer"})
		status, out := doJSON(t, app, fiber.MethodPost, "/webhooks/stripe", other, map[string]string{"Stripe-Signature": otherHeader})
		assert.Equal(t, fiber.StatusOK, status)
		assert.Equal(t, true, out["ignored"])
	})
}

func TestHandleStripeWebhookUnknownOwnerIsRetried(t *testing.T) {
	f := newFixture(t)
	app := f.app(usercontext.UserContext{})

	body, header := signedStripeEvent(t, "evt_orphan", "checkout.session.completed", map[string]any{
		"id": "cs_2", "object": "checkout.session", "mode": "payment", "customer": "cus_7",
		"metadata": map[string]any{"userId": "9999"},
	})

	for i := 0; i < 2; i++ {
		status, out := doJSON(t, app, fiber.MethodPost, "/webhooks/stripe", body, map[string]string{"Stripe-Signature": header})
		assert.Equal(t, fiber.StatusNotFound, status)
		assert.Equal(t, "not_found", out["error"])
	}
}

func shopifyEnvelope(t *testing.T, periodEnd time.Time) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"topic": "APP_SUBSCRIPTIONS_UPDATE",
		"shop":  "demo.myshopify.com",
		"payload": map[string]any{
			"app_subscription": map[string]any{
				"admin_graphql_api_id":      "gid://shopify/AppSubscription/1",
				"admin_graphql_api_shop_id": "gid://shopify/Shop/1",
				"name":                      "Growth Plan",
				"plan_handle":               "growth",
				"status":                    "ACTIVE",
				"price":                     "19.00",
				"currency":                  "USD",
				"current_period_end":        periodEnd.UTC().Format(time.RFC3339),
			},
		},
	})
	require.NoError(t, err)
	return body
}

func TestHandleShopifyWebhook(t *testing.T) {
	f := newFixture(t)
	app := f.app(trustedCaller())
	body := shopifyEnvelope(t, time.Now().Add(30*24*time.Hour))

	status, out := doJSON(t, app, fiber.MethodPost, "/webhooks/shopify", body, nil)
	require.Equal(t, fiber.StatusOK, status, out)
	assert.Equal(t, "create", out["result"].(map[string]any)["decision"])

	sub, err := f.repos.Subscription.GetByExternalID(context.Background(), models.BillingProviderShopify, "gid://shopify/AppSubscription/1")
	require.NoError(t, err)
	assert.Equal(t, f.owner.ID, sub.UserID)
	assert.Equal(t, 100.0, sub.RemainingTokens)

	status, out = doJSON(t, app, fiber.MethodPost, "/webhooks/shopify", body, nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, out["duplicate"])
}

func TestHandleShopifyWebhookRejects(t *testing.T) {
	f := newFixture(t)
	app := f.app(trustedCaller())

	status, _ := doJSON(t, app, fiber.MethodPost, "/webhooks/shopify", []byte("not json"), nil)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, out := doJSON(t, app, fiber.MethodPost, "/webhooks/shopify", []byte(`{"topic":"SHOP_UPDATE","payload":{}}`), nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, out["ignored"])

	status, _ = doJSON(t, app, fiber.MethodPost, "/webhooks/shopify", []byte(`{"topic":"APP_SUBSCRIPTIONS_UPDATE","payload":{}}`), nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestHandleShopifyWebhookShopOwnership(t *testing.T) {
	tests := []struct {
		name   string
		caller func(f *fixture) usercontext.UserContext
		want   int
	}{
		{name: "integration token of the shop", caller: (*fixture).asOwner, want: fiber.StatusOK},
		{
			name: "integration token of another shop",
			caller: func(f *fixture) usercontext.UserContext {
				uc := f.asOwner()
				uc.ShopDomain = "other.myshopify.com"
				return uc
			},
			want: fiber.StatusForbidden,
		},
		{
			name: "basic auth owner of the shop",
			caller: func(f *fixture) usercontext.UserContext {
				return usercontext.UserContext{UserID: f.owner.ID, IsLoggedIn: true, Method: usercontext.MethodBasic}
			},
			want: fiber.StatusOK,
		},
		{
			name: "basic auth user without the shop",
			caller: func(f *fixture) usercontext.UserContext {
				return usercontext.UserContext{UserID: f.other.ID, IsLoggedIn: true, Method: usercontext.MethodBasic}
			},
			want: fiber.StatusForbidden,
		},
		{
			name: "signed delivery of the shop",
			caller: func(f *fixture) usercontext.UserContext {
				return usercontext.UserContext{IsLoggedIn: true, Trusted: true, Method: usercontext.MethodShopifyHMAC, ShopDomain: "Demo.myshopify.com"}
			},
			want: fiber.StatusOK,
		},
		{
			name: "signed delivery of another shop",
			caller: func(f *fixture) usercontext.UserContext {
				return usercontext.UserContext{IsLoggedIn: true, Trusted: true, Method: usercontext.MethodShopifyHMAC, ShopDomain: "other.myshopify.com"}
			},
			want: fiber.StatusForbidden,
		},
		{
			name: "signed delivery without shop header",
			caller: func(f *fixture) usercontext.UserContext {
				return usercontext.UserContext{IsLoggedIn: true, Trusted: true, Method: usercontext.MethodShopifyHMAC}
			},
			want: fiber.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			app := f.app(tt.caller(f))
			body := shopifyEnvelope(t, time.Now().Add(30*24*time.Hour))

			status, out := doJSON(t, app, fiber.MethodPost, "/webhooks/shopify", body, nil)
			require.Equal(t, tt.want, status, out)

			_, err := f.repos.Subscription.GetByExternalID(context.Background(), models.BillingProviderShopify, "gid://shopify/AppSubscription/1")
			if tt.want == fiber.StatusForbidden {
				assert.Equal(t, "forbidden", out["error"])
				assert.ErrorIs(t, err, repository.ErrNotFound)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestHandleRefreshAndCatalog(t *testing.T) {
	f := newFixture(t)
	app := f.app(trustedCaller())

	status, out := doJSON(t, app, fiber.MethodPost, "/subscriptions/refresh", nil, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, 0.0, out["updated"])
	assert.Equal(t, 0.0, out["total"])

	status, out = doJSON(t, app, fiber.MethodPost, "/catalog/sync", nil, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, 2.0, out["upserted"])
	assert.Equal(t, 1, f.catalog.calls)
}
