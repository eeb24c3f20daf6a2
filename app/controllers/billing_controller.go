package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Turbopic/app/models"
	"github.com/ManuelReschke/Turbopic/app/repository"
	"github.com/ManuelReschke/Turbopic/internal/pkg/billing"
	"github.com/ManuelReschke/Turbopic/internal/pkg/metrics"
	"github.com/ManuelReschke/Turbopic/internal/pkg/usercontext"
)

// HandleStripeWebhook verifies, journals and applies a Stripe delivery.
func (h *Handlers) HandleStripeWebhook(c *fiber.Ctx) error {
	start := time.Now()
	defer func() {
		metrics.WebhookDuration.WithLabelValues(models.BillingProviderStripe).Observe(time.Since(start).Seconds())
	}()

	rawBody := append([]byte(nil), c.BodyRaw()...)
	ev, se, err := billing.ParseStripeEvent(rawBody, c.Get("Stripe-Signature"), h.stripeSecret)
	if se == nil {
		if errors.Is(err, billing.ErrInvalidSignature) {
			countWebhook(models.BillingProviderStripe, "", "invalid_signature")
			return errorResponse(c, fiber.StatusUnauthorized, "invalid_signature", "Stripe signature verification failed")
		}
		countWebhook(models.BillingProviderStripe, "", "invalid_payload")
		return errorResponse(c, fiber.StatusBadRequest, "invalid_payload", "Stripe event could not be decoded")
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), h.webhookTimeout)
	defer cancel()

	return h.processWebhook(ctx, c, webhookDelivery{
		input: billing.WebhookEventInput{
			Provider:        models.BillingProviderStripe,
			ProviderEventID: se.ID,
			EventType:       string(se.Type),
			PayloadJSON:     string(rawBody),
		},
		event:     ev,
		decodeErr: err,
		// A verified signature makes the delivery trusted.
		caller: billing.Caller{Trusted: true},
	})
}

// HandleShopifyWebhook journals and applies a Shopify delivery forwarded by
// the shop-side app. Authentication happens in middleware.
func (h *Handlers) HandleShopifyWebhook(c *fiber.Ctx) error {
	start := time.Now()
	defer func() {
		metrics.WebhookDuration.WithLabelValues(models.BillingProviderShopify).Observe(time.Since(start).Seconds())
	}()

	rawBody := append([]byte(nil), c.BodyRaw()...)
	var envelope billing.ShopifyEnvelope
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		countWebhook(models.BillingProviderShopify, "", "invalid_payload")
		return errorResponse(c, fiber.StatusBadRequest, "invalid_payload", "Shopify webhook body is not valid JSON")
	}
	uc := usercontext.GetUserContext(c)
	ctx, cancel := context.WithTimeout(c.UserContext(), h.webhookTimeout)
	defer cancel()

	if err := h.authorizeShop(ctx, uc, envelope.Shop); err != nil {
		countWebhook(models.BillingProviderShopify, envelope.Topic, "forbidden")
		return respondError(c, "Webhook", err)
	}
	ev, decodeErr := billing.ParseShopifyWebhook(rawBody)

	return h.processWebhook(ctx, c, webhookDelivery{
		input: billing.WebhookEventInput{
			Provider:    models.BillingProviderShopify,
			EventType:   envelope.Topic,
			PayloadJSON: string(rawBody),
		},
		event:     ev,
		decodeErr: decodeErr,
		caller:    billing.Caller{UserID: uc.UserID, Trusted: uc.Trusted},
	})
}

// authorizeShop checks that the caller may deliver events of shop. Signed
// deliveries and integration tokens are bound to one shop, basic auth users
// to the shops of their integrations. The service token may deliver for any shop.
func (h *Handlers) authorizeShop(ctx context.Context, uc usercontext.UserContext, shop string) error {
	shop = models.NormalizeShopDomain(shop)
	switch uc.Method {
	case usercontext.MethodServiceToken:
		return nil
	case usercontext.MethodShopifyHMAC, usercontext.MethodIntegrationToken:
		if shop != "" && models.NormalizeShopDomain(uc.ShopDomain) == shop {
			return nil
		}
	case usercontext.MethodBasic:
		in, err := h.repos.Integration.GetByShopDomain(ctx, shop)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("lookup integration for %s: %w", shop, err)
		}
		if err == nil && in.UserID == uc.UserID {
			return nil
		}
	}
	return fmt.Errorf("%w: caller may not deliver events of shop %q", errForbidden, shop)
}

type webhookDelivery struct {
	input     billing.WebhookEventInput
	event     billing.Event
	decodeErr error
	caller    billing.Caller
}

// processWebhook records the delivery, skips processed duplicates, applies
// the event and stores the outcome on the journal row.
func (h *Handlers) processWebhook(ctx context.Context, c *fiber.Ctx, d webhookDelivery) error {
	provider, eventType := d.input.Provider, d.input.EventType

	created, stored, err := h.journal.RecordWebhookEvent(ctx, d.input)
	if err != nil {
		log.Errorf("[Webhook] persist %s %s delivery: %v", provider, eventType, err)
		countWebhook(provider, eventType, "error")
		return errorResponse(c, fiber.StatusInternalServerError, "webhook_persist_failed", "Webhook could not be recorded")
	}
	if billing.IsDuplicate(created, stored) {
		countWebhook(provider, eventType, "duplicate")
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}

	finish := func(procErr error) {
		if err := h.journal.MarkWebhookProcessed(ctx, stored.ID, procErr); err != nil {
			log.Errorf("[Webhook] mark %s event %d processed: %v", provider, stored.ID, err)
		}
	}

	if d.decodeErr != nil {
		finish(d.decodeErr)
		countWebhook(provider, eventType, "invalid_payload")
		return errorResponse(c, fiber.StatusBadRequest, "invalid_payload", d.decodeErr.Error())
	}
	if d.event == nil {
		finish(nil)
		countWebhook(provider, eventType, "ignored")
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}

	res, err := h.reconciler.Apply(ctx, d.caller, d.event)
	if err != nil {
		finish(err)
		countWebhook(provider, eventType, "rejected")
		return respondError(c, "Webhook", err)
	}
	finish(nil)
	countWebhook(provider, eventType, "processed")
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "result": res})
}

func countWebhook(provider, eventType, outcome string) {
	if eventType == "" {
		eventType = "unknown"
	}
	metrics.WebhookEventsTotal.WithLabelValues(provider, eventType, outcome).Inc()
}

// HandleRefreshRenewals re-grants Shopify subscriptions whose renewals went missing.
func (h *Handlers) HandleRefreshRenewals(c *fiber.Ctx) error {
	res, err := h.reconciler.RefreshRenewals(c.UserContext())
	if err != nil {
		return respondError(c, "RenewalRefresh", err)
	}
	return c.JSON(res)
}

// HandleCatalogSync mirrors the configured Stripe product's prices into plans.
func (h *Handlers) HandleCatalogSync(c *fiber.Ctx) error {
	if h.catalog == nil {
		return errorResponse(c, fiber.StatusServiceUnavailable, "not_configured", "Stripe catalog is not configured")
	}
	res, err := h.catalog.Sync(c.UserContext())
	if err != nil {
		return respondError(c, "Catalog", err)
	}
	return c.JSON(res)
}
