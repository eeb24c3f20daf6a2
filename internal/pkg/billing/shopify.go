package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Turbopic/app/models"
	"github.com/ManuelReschke/Turbopic/app/repository"
)

// ShopifyEnvelope is the body the shop-side app forwards for every Shopify webhook.
type ShopifyEnvelope struct {
	Topic   string          `json:"topic"`
	Shop    string          `json:"shop"`
	Email   string          `json:"email"`
	Payload json.RawMessage `json:"payload"`
}

type shopifyAppSubscription struct {
	AdminGraphqlAPIID     string `json:"admin_graphql_api_id"`
	AdminGraphqlAPIShopID string `json:"admin_graphql_api_shop_id"`
	Name                  string `json:"name"`
	PlanHandle            string `json:"plan_handle"`
	Status                string `json:"status"`
	Price                 string `json:"price"`
	Currency              string `json:"currency"`
	CurrentPeriodEnd      string `json:"current_period_end"`
	UpdatedAt             string `json:"updated_at"`
	CreatedAt             string `json:"created_at"`
	Email                 string `json:"email"`
}

type shopifyOneTimePurchase struct {
	AdminGraphqlAPIID     string `json:"admin_graphql_api_id"`
	AdminGraphqlAPIShopID string `json:"admin_graphql_api_shop_id"`
	Name                  string `json:"name"`
	Status                string `json:"status"`
	Price                 string `json:"price"`
	Currency              string `json:"currency"`
	Email                 string `json:"email"`
}

// ParseShopifyWebhook decodes a forwarded Shopify delivery. Unknown topics
// return (nil, nil) so the caller can acknowledge them.
func ParseShopifyWebhook(body []byte) (Event, error) {
	var env ShopifyEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	shop := models.NormalizeShopDomain(env.Shop)

	switch env.Topic {
	case TopicAppSubscriptionsUpdate:
		var p struct {
			AppSubscription *shopifyAppSubscription `json:"app_subscription"`
		}
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
		if p.AppSubscription == nil {
			return nil, fmt.Errorf("%w: payload.app_subscription missing", ErrInvalidEvent)
		}
		s := p.AppSubscription
		end, source := shopifyPeriodEnd(s)
		return ShopifySubscriptionUpdate{
			ShopDomain:      shop,
			SubscriptionGID: s.AdminGraphqlAPIID,
			ShopGID:         s.AdminGraphqlAPIShopID,
			PlanHandle:      s.PlanHandle,
			PlanName:        s.Name,
			Status:          normalizeShopifyStatus(s.Status),
			AmountCents:     priceToCents(s.Price),
			Currency:        currencyOrDefault(s.Currency),
			Email:           firstNonEmpty(s.Email, env.Email),
			PeriodEnd:       end,
			PeriodEndSource: source,
		}, nil

	case TopicAppPurchasesOneTimeUpdate:
		var p struct {
			AppPurchaseOneTime *shopifyOneTimePurchase `json:"app_purchase_one_time"`
		}
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
		purchase := p.AppPurchaseOneTime
		if purchase == nil {
			// Older app versions forward the purchase unwrapped.
			purchase = &shopifyOneTimePurchase{}
			if err := json.Unmarshal(env.Payload, purchase); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
			}
		}
		return ShopifyOneTimePurchaseUpdate{
			ShopDomain:  shop,
			PurchaseGID: purchase.AdminGraphqlAPIID,
			ShopGID:     purchase.AdminGraphqlAPIShopID,
			Name:        purchase.Name,
			Status:      strings.ToLower(strings.TrimSpace(purchase.Status)),
			AmountCents: priceToCents(purchase.Price),
			Currency:    currencyOrDefault(purchase.Currency),
			Email:       firstNonEmpty(purchase.Email, env.Email),
		}, nil
	}

	log.Infof("[Reconciler] unhandled Shopify topic %q", env.Topic)
	return nil, nil
}

// shopifyPeriodEnd prefers an explicit current_period_end and falls back to
// updated_at, then created_at.
func shopifyPeriodEnd(s *shopifyAppSubscription) (time.Time, PeriodEndSource) {
	candidates := []struct {
		value  string
		source PeriodEndSource
	}{
		{s.CurrentPeriodEnd, PeriodEndExplicit},
		{s.UpdatedAt, PeriodEndUpdatedAt},
		{s.CreatedAt, PeriodEndCreatedAt},
	}
	for _, c := range candidates {
		if strings.TrimSpace(c.value) == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(c.value))
		if err != nil {
			log.Warnf("[Reconciler] unparsable Shopify %s %q", c.source, c.value)
			continue
		}
		return t.UTC(), c.source
	}
	return time.Time{}, PeriodEndNone
}

func normalizeShopifyStatus(status string) string {
	switch s := strings.ToLower(strings.TrimSpace(status)); s {
	case "cancelled", "declined":
		return models.SubscriptionStatusCanceled
	case "frozen", "accepted":
		return models.SubscriptionStatusPending
	default:
		return s
	}
}

func priceToCents(price string) int64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(price), 64)
	if err != nil {
		return 0
	}
	return int64(math.Round(f * 100))
}

func currencyOrDefault(c string) string {
	if c = strings.TrimSpace(c); c == "" {
		return "USD"
	}
	return strings.ToUpper(c)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func (r *Reconciler) applyShopifySubscription(ctx context.Context, caller Caller, e ShopifySubscriptionUpdate) (*Result, error) {
	if caller.UserID == 0 && !caller.Trusted {
		return nil, ErrUntrustedCaller
	}
	e.Status = normalizeShopifyStatus(e.Status)
	if !e.Authoritative() && e.PeriodEndSource != PeriodEndNone {
		log.Warnf("[Reconciler] Shopify subscription %s carries no current_period_end, using %s (low confidence)", e.SubscriptionGID, e.PeriodEndSource)
	}

	plan, err := r.matchPlan(ctx, models.PlanKindSubscription, false, e.PlanHandle, e.PlanName)
	if err != nil {
		log.Warnf("[Reconciler] Shopify subscription %s: %v", e.SubscriptionGID, err)
		return nil, err
	}

	res, err := r.upsertSubscription(ctx, upsert{
		provider:     models.BillingProviderShopify,
		externalID:   e.SubscriptionGID,
		plan:         plan,
		incoming:     Incoming{Status: e.Status, PeriodEnd: e.PeriodEnd, Authoritative: e.Authoritative()},
		shopGID:      e.ShopGID,
		claimedOwner: caller.UserID,
		owner: func(ctx context.Context) (uint, error) {
			return r.resolveShopOwner(ctx, caller, e.ShopDomain, e.ShopGID, e.Email)
		},
	})
	if err != nil {
		return nil, err
	}

	r.logPayment(ctx, &models.Payment{
		UserID:         res.UserID,
		Provider:       models.BillingProviderShopify,
		InvoiceID:      e.SubscriptionGID,
		Status:         e.Status,
		AmountCents:    e.AmountCents,
		Currency:       e.Currency,
		SubscriptionID: uintPtr(res.SubscriptionID),
		PlanID:         uintPtr(plan.ID),
		PaidAt:         r.now(),
	})
	return res, nil
}

// applyShopifyOneTime upserts the purchase's payment row and credits the
// matching one-time plan once, on the transition to active.
func (r *Reconciler) applyShopifyOneTime(ctx context.Context, caller Caller, e ShopifyOneTimePurchaseUpdate) (*Result, error) {
	if caller.UserID == 0 && !caller.Trusted {
		return nil, ErrUntrustedCaller
	}
	e.Status = strings.ToLower(strings.TrimSpace(e.Status))
	ownerID, err := r.resolveShopOwner(ctx, caller, e.ShopDomain, e.ShopGID, e.Email)
	if err != nil {
		return nil, err
	}

	plan, err := r.matchPlan(ctx, models.PlanKindOneTime, true, e.Name)
	if err != nil && !errors.Is(err, ErrPlanNotFound) {
		return nil, err
	}
	if plan == nil {
		log.Warnf("[Reconciler] Shopify one-time purchase %s %q matches no visible one-time plan, nothing to credit", e.PurchaseGID, e.Name)
	}

	res := &Result{Decision: DecisionIgnored, UserID: ownerID}
	err = r.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		payment := &models.Payment{
			UserID:      ownerID,
			Provider:    models.BillingProviderShopify,
			InvoiceID:   e.PurchaseGID,
			Status:      e.Status,
			AmountCents: e.AmountCents,
			Currency:    e.Currency,
			OneTime:     true,
			PaidAt:      r.now(),
		}
		if plan != nil {
			payment.PlanID = uintPtr(plan.ID)
		}
		previous, err := tx.Payment.Upsert(ctx, payment)
		if err != nil {
			return fmt.Errorf("upsert payment %s: %w", e.PurchaseGID, err)
		}
		if plan == nil || e.Status != models.PaymentStatusActive || previous == models.PaymentStatusActive {
			return nil
		}
		if err := tx.User.CreditOneTime(ctx, payment.UserID, models.UsageKindTokens, plan.Tokens); err != nil {
			return fmt.Errorf("credit one-time tokens: %w", err)
		}
		if err := tx.User.CreditOneTime(ctx, payment.UserID, models.UsageKindProductUnits, plan.ProductUnits); err != nil {
			return fmt.Errorf("credit one-time product units: %w", err)
		}
		res.Decision = DecisionCredit
		res.UserID = payment.UserID
		res.Credited = plan.Tokens
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.Decision == DecisionCredit {
		log.Infof("[Reconciler] credited %.4f one-time tokens to user %d for purchase %s", res.Credited, res.UserID, e.PurchaseGID)
	}
	return res, nil
}

// sameShop reports whether an integration found by email can belong to the
// delivering shop: its shop graph id must match when both are known,
// otherwise its domain must.
func sameShop(in models.Integration, shopDomain, shopGID string) bool {
	if shopGID != "" && in.ShopGID != "" {
		return in.ShopGID == shopGID
	}
	shopDomain = models.NormalizeShopDomain(shopDomain)
	return shopDomain != "" && models.NormalizeShopDomain(in.ShopDomain) == shopDomain
}

// resolveShopOwner resolves the owner of a new Shopify record: the
// authenticated caller, else (trusted callers only) the integration of the
// shop, else an integration of the same shop registered under the payload email.
func (r *Reconciler) resolveShopOwner(ctx context.Context, caller Caller, shopDomain, shopGID, email string) (uint, error) {
	if caller.UserID != 0 {
		return caller.UserID, nil
	}
	if !caller.Trusted {
		return 0, ErrUntrustedCaller
	}
	shopDomain = models.NormalizeShopDomain(shopDomain)

	if shopDomain != "" {
		in, err := r.repos.Integration.GetByShopDomain(ctx, shopDomain)
		if err == nil {
			return in.UserID, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return 0, fmt.Errorf("lookup integration for %s: %w", shopDomain, err)
		}
	}
	if shopGID != "" {
		in, err := r.repos.Integration.GetByShopGID(ctx, shopGID)
		if err == nil {
			return in.UserID, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return 0, fmt.Errorf("lookup integration for %s: %w", shopGID, err)
		}
	}
	if email != "" {
		list, err := r.repos.Integration.ListByEmail(ctx, email)
		if err != nil {
			return 0, fmt.Errorf("lookup integrations for %s: %w", email, err)
		}
		for _, in := range list {
			if sameShop(in, shopDomain, shopGID) {
				return in.UserID, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: shop %q (%s)", ErrOwnerNotFound, shopDomain, shopGID)
}
