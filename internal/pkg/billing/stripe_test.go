package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/ManuelReschke/Turbopic/app/models"
	"github.com/ManuelReschke/Turbopic/internal/pkg/entitlements"
)

const testWebhookSecret = "whsec_test_123"

func stripeEventJSON(t *testing.T, id, eventType string, object map[string]any) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"api_version": "2025-07-30.basil",
		"created":     fixedNow.Unix(),
		"data":        map[string]any{"object": object},
	})
	require.NoError(t, err)
	return body
}

func sign(payload []byte, secret string) *webhook.SignedPayload {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
}

func invoiceObject(subID string, userID uint, periodEnd time.Time) map[string]any {
	return map[string]any{
		"id":          fmt.Sprintf("in_%d", periodEnd.Unix()),
		"object":      "invoice",
		"status":      "paid",
		"customer":    "cus_123",
		"amount_paid": 1900,
		"currency":    "usd",
		"parent": map[string]any{
			"subscription_details": map[string]any{
				"subscription": subID,
				"metadata":     map[string]any{"userId": fmt.Sprint(userID)},
			},
		},
		"lines": map[string]any{
			"data": []any{map[string]any{
				"period":  map[string]any{"start": periodEnd.AddDate(0, -1, 0).Unix(), "end": periodEnd.Unix()},
				"pricing": map[string]any{"price_details": map[string]any{"price": "price_growth"}},
			}},
		},
	}
}

func parseSigned(t *testing.T, payload []byte) Event {
	t.Helper()
	signed := sign(payload, testWebhookSecret)
	ev, se, err := ParseStripeEvent(signed.Payload, signed.Header, testWebhookSecret)
	require.NoError(t, err)
	require.NotNil(t, se)
	return ev
}

func TestParseStripeEventVerifiesSignature(t *testing.T) {
	payload := stripeEventJSON(t, "evt_1", "invoice.paid", invoiceObject("sub_1", 7, fixedNow))

	t.Run("wrong secret", func(t *testing.T) {
		signed := sign(payload, "whsec_wrong")
		_, _, err := ParseStripeEvent(signed.Payload, signed.Header, testWebhookSecret)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("missing header", func(t *testing.T) {
		_, _, err := ParseStripeEvent(payload, "", testWebhookSecret)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("valid invoice", func(t *testing.T) {
		ev := parseSigned(t, payload)
		inv, ok := ev.(StripeInvoicePaid)
		require.True(t, ok)
		assert.Equal(t, "sub_1", inv.SubscriptionID)
		assert.Equal(t, "price_growth", inv.PriceID)
		assert.Equal(t, uint(7), inv.UserID)
		assert.Equal(t, "cus_123", inv.CustomerID)
		assert.Equal(t, int64(1900), inv.AmountCents)
		assert.True(t, inv.Authoritative)
		assert.True(t, inv.PeriodEnd.Equal(fixedNow.Truncate(time.Second)))
	})

	t.Run("unhandled type", func(t *testing.T) {
		ev := parseSigned(t, stripeEventJSON(t, "evt_2", "customer.created", map[string]any{"id": "cus_1"}))
		assert.Nil(t, ev)
	})
}

func TestInvoiceEventLegacyShape(t *testing.T) {
	var inv StripeInvoice
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": "in_1", "subscription": "sub_legacy", "customer": "cus_9", "created": 1700000000,
		"lines": {"data": [{"price": {"id": "price_old", "metadata": {"userId": "12"}}}]}
	}`), &inv))

	ev := invoiceEvent(inv)
	assert.Equal(t, "sub_legacy", ev.SubscriptionID)
	assert.Equal(t, "price_old", ev.PriceID)
	assert.Equal(t, uint(12), ev.UserID)
	assert.False(t, ev.Authoritative, "created is only a fallback")
	assert.Equal(t, int64(1700000000), ev.PeriodEnd.Unix())
}

// A subscription granting 100 tokens, 20 one-time tokens, 30 consumed: a
// same-cycle invoice keeps 70, the next cycle's invoice resets to 100.
func TestInvoicePaidScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repos.User.UpdateOneTimeBalance(ctx, f.owner.ID, f.user(t, f.owner.ID).BalanceVersion, 20, 0))

	t0 := fixedNow.AddDate(0, 0, 10).Truncate(time.Second)
	t1 := t0.AddDate(0, 1, 0)

	res, err := f.rec.Apply(ctx, trusted, parseSigned(t, stripeEventJSON(t, "evt_a", "invoice.paid", invoiceObject("sub_1", f.owner.ID, t0))))
	require.NoError(t, err)
	assert.Equal(t, DecisionCreate, res.Decision)

	engine := entitlements.NewEngine(f.repos, entitlements.EngineConfig{MaxAttempts: 5})
	receipt, err := engine.DeductTokens(ctx, f.owner.ID, 30, entitlements.UsageContext{Action: "generate"})
	require.NoError(t, err)
	assert.Zero(t, receipt.OneTimeDebit)

	sub := f.sub(t, models.BillingProviderStripe, "sub_1")
	assert.Equal(t, 70.0, sub.RemainingTokens)
	assert.Equal(t, models.SubscriptionStatusPaid, sub.Status)

	res, err = f.rec.Apply(ctx, trusted, parseSigned(t, stripeEventJSON(t, "evt_b", "invoice.paid", invoiceObject("sub_1", f.owner.ID, t0))))
	require.NoError(t, err)
	assert.Equal(t, DecisionSameCycle, res.Decision)
	assert.Equal(t, 70.0, f.sub(t, models.BillingProviderStripe, "sub_1").RemainingTokens)

	f.now = t0.Add(time.Hour)
	res, err = f.rec.Apply(ctx, trusted, parseSigned(t, stripeEventJSON(t, "evt_c", "invoice.paid", invoiceObject("sub_1", f.owner.ID, t1))))
	require.NoError(t, err)
	assert.Equal(t, DecisionRenew, res.Decision)
	assert.Equal(t, 100.0, f.sub(t, models.BillingProviderStripe, "sub_1").RemainingTokens)
	assert.Equal(t, 20.0, f.user(t, f.owner.ID).OneTimeTokens)

	payments, err := f.repos.Payment.ListByUser(ctx, f.owner.ID, fixedNow.AddDate(0, -1, 0), t1)
	require.NoError(t, err)
	assert.Len(t, payments, 2, "one payment row per invoice")
}

func TestInvoicePaidOwnerAndPlanResolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	end := fixedNow.AddDate(0, 1, 0)

	t.Run("customer id of a linked user", func(t *testing.T) {
		_, err := f.rec.Apply(ctx, trusted, StripeCheckoutCompleted{SessionID: "cs_1", CustomerID: "cus_linked", UserID: f.other.ID})
		require.NoError(t, err)

		res, err := f.rec.Apply(ctx, trusted, StripeInvoicePaid{
			InvoiceID: "in_linked", SubscriptionID: "sub_linked", CustomerID: "cus_linked",
			PriceID: "price_growth", Status: "paid", PeriodEnd: end, Authoritative: true,
		})
		require.NoError(t, err)
		assert.Equal(t, f.other.ID, res.UserID)
	})

	t.Run("unknown owner", func(t *testing.T) {
		_, err := f.rec.Apply(ctx, trusted, StripeInvoicePaid{
			InvoiceID: "in_x", SubscriptionID: "sub_x", CustomerID: "cus_unknown",
			PriceID: "price_growth", Status: "paid", PeriodEnd: end, Authoritative: true,
		})
		assert.ErrorIs(t, err, ErrOwnerNotFound)
	})

	t.Run("unknown price", func(t *testing.T) {
		_, err := f.rec.Apply(ctx, trusted, StripeInvoicePaid{
			InvoiceID: "in_y", SubscriptionID: "sub_y", UserID: f.owner.ID,
			PriceID: "price_missing", Status: "paid", PeriodEnd: end, Authoritative: true,
		})
		assert.ErrorIs(t, err, ErrPlanNotFound)
	})

	t.Run("existing owner wins over metadata", func(t *testing.T) {
		res, err := f.rec.Apply(ctx, trusted, StripeInvoicePaid{
			InvoiceID: "in_z", SubscriptionID: "sub_linked", UserID: f.owner.ID,
			PriceID: "price_growth", Status: "paid", PeriodEnd: end, Authoritative: true,
		})
		require.NoError(t, err)
		assert.Equal(t, f.other.ID, res.UserID)
	})
}

type stubPrices struct {
	prices []PriceInfo
	calls  int
}

func (s *stubPrices) PaymentIntentPrices(context.Context, string) ([]PriceInfo, error) {
	s.calls++
	return s.prices, nil
}

func TestPaymentSucceededCreditsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payload := stripeEventJSON(t, "evt_pi", "payment_intent.succeeded", map[string]any{
		"id":              "pi_1",
		"object":          "payment_intent",
		"status":          "succeeded",
		"amount_received": 900,
		"currency":        "usd",
		"metadata":        map[string]any{"userId": fmt.Sprint(f.owner.ID), "priceId": "price_pack"},
	})

	res, err := f.rec.Apply(ctx, trusted, parseSigned(t, payload))
	require.NoError(t, err)
	assert.Equal(t, DecisionCredit, res.Decision)
	assert.Equal(t, 50.0, res.Credited)

	res, err = f.rec.Apply(ctx, trusted, parseSigned(t, payload))
	require.NoError(t, err)
	assert.Equal(t, DecisionIgnored, res.Decision)

	u := f.user(t, f.owner.ID)
	assert.Equal(t, 50.0, u.OneTimeTokens)
	assert.Equal(t, 2.0, u.OneTimeProductUnits)
}

func TestPaymentSucceededGrantSources(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("metadata tokens", func(t *testing.T) {
		res, err := f.rec.Apply(ctx, trusted, StripePaymentSucceeded{PaymentIntentID: "pi_meta", UserID: f.other.ID, Tokens: 15})
		require.NoError(t, err)
		assert.Equal(t, 15.0, res.Credited)
	})

	t.Run("checkout line items", func(t *testing.T) {
		stub := &stubPrices{prices: []PriceInfo{{ID: "price_pack"}}}
		f.rec.prices = stub
		defer func() { f.rec.prices = nil }()

		res, err := f.rec.Apply(ctx, trusted, StripePaymentSucceeded{PaymentIntentID: "pi_lines", UserID: f.other.ID})
		require.NoError(t, err)
		assert.Equal(t, 50.0, res.Credited)
		assert.Equal(t, 1, stub.calls)
	})

	t.Run("nothing to grant", func(t *testing.T) {
		res, err := f.rec.Apply(ctx, trusted, StripePaymentSucceeded{PaymentIntentID: "pi_empty", UserID: f.other.ID})
		require.NoError(t, err)
		assert.Equal(t, DecisionIgnored, res.Decision)
	})

	assert.Equal(t, 65.0, f.user(t, f.other.ID).OneTimeTokens)
}

func TestSubscriptionDeletedRefundsRemainingTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.rec.Apply(ctx, trusted, StripeInvoicePaid{
		InvoiceID: "in_1", SubscriptionID: "sub_del", UserID: f.owner.ID,
		PriceID: "price_growth", Status: "paid", PeriodEnd: fixedNow.AddDate(0, 1, 0), Authoritative: true,
	})
	require.NoError(t, err)
	f.consume(t, f.sub(t, models.BillingProviderStripe, "sub_del"), 25)

	payload := stripeEventJSON(t, "evt_del", "customer.subscription.deleted", map[string]any{
		"id": "sub_del", "object": "subscription", "customer": "cus_123", "status": "canceled",
	})
	res, err := f.rec.Apply(ctx, trusted, parseSigned(t, payload))
	require.NoError(t, err)
	assert.Equal(t, DecisionRefund, res.Decision)
	assert.Equal(t, 75.0, res.Credited)

	sub := f.sub(t, models.BillingProviderStripe, "sub_del")
	assert.Equal(t, models.SubscriptionStatusCanceled, sub.Status)
	assert.Zero(t, sub.RemainingTokens)
	assert.Zero(t, sub.RemainingProductUnits)
	assert.Equal(t, 75.0, f.user(t, f.owner.ID).OneTimeTokens)

	res, err = f.rec.Apply(ctx, trusted, parseSigned(t, payload))
	require.NoError(t, err)
	assert.Zero(t, res.Credited, "a redelivery refunds nothing")
	assert.Equal(t, 75.0, f.user(t, f.owner.ID).OneTimeTokens)

	_, err = f.rec.Apply(ctx, trusted, StripeSubscriptionDeleted{SubscriptionID: "sub_unknown"})
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func TestCheckoutCompletedLinksCustomer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payload := stripeEventJSON(t, "evt_cs", "checkout.session.completed", map[string]any{
		"id": "cs_1", "object": "checkout.session", "mode": "subscription", "customer": "cus_42",
		"metadata": map[string]any{"userId": fmt.Sprint(f.owner.ID)},
	})
	res, err := f.rec.Apply(ctx, trusted, parseSigned(t, payload))
	require.NoError(t, err)
	assert.Equal(t, DecisionLinked, res.Decision)
	assert.Equal(t, "cus_42", f.user(t, f.owner.ID).StripeCustomerID)

	res, err = f.rec.Apply(ctx, trusted, StripeCheckoutCompleted{SessionID: "cs_2"})
	require.NoError(t, err)
	assert.Equal(t, DecisionIgnored, res.Decision)

	_, err = f.rec.Apply(ctx, trusted, StripeCheckoutCompleted{SessionID: "cs_3", CustomerID: "cus_1", UserID: 9999})
	assert.ErrorIs(t, err, ErrOwnerNotFound)
}
