package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"github.com/ManuelReschke/Turbopic/app/models"
	"github.com/ManuelReschke/Turbopic/app/repository"
)

// CatalogPrice is an active Stripe price of the catalog product.
type CatalogPrice struct {
	ID          string
	ProductID   string
	ProductName string
	Nickname    string
	Recurring   bool
	Interval    string
	UnitAmount  int64
	Currency    string
	Metadata    map[string]string
}

// PriceSource lists the active prices of a Stripe product.
type PriceSource interface {
	ActivePrices(ctx context.Context, productID string) ([]CatalogPrice, error)
}

// StripeAPI talks to the Stripe API. It serves the catalog sync and the
// checkout line-item lookup of payment intents.
type StripeAPI struct {
	sc *client.API
}

// NewStripeAPI creates a Stripe API client for secretKey.
func NewStripeAPI(secretKey string) *StripeAPI {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &StripeAPI{sc: sc}
}

// ActivePrices lists the active prices of productID with the product expanded.
func (a *StripeAPI) ActivePrices(ctx context.Context, productID string) ([]CatalogPrice, error) {
	params := &stripelib.PriceListParams{
		Active:  stripelib.Bool(true),
		Product: stripelib.String(productID),
	}
	params.AddExpand("data.product")

	var out []CatalogPrice
	it := a.sc.Prices.List(params)
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := it.Price()
		cp := CatalogPrice{
			ID:         p.ID,
			Nickname:   p.Nickname,
			Recurring:  p.Type == stripelib.PriceTypeRecurring,
			UnitAmount: p.UnitAmount,
			Currency:   string(p.Currency),
			Metadata:   p.Metadata,
		}
		if p.Product != nil {
			cp.ProductID = p.Product.ID
			cp.ProductName = p.Product.Name
		}
		if p.Recurring != nil {
			cp.Interval = string(p.Recurring.Interval)
		}
		out = append(out, cp)
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("list stripe prices of %s: %w", productID, err)
	}
	return out, nil
}

// PaymentIntentPrices returns the prices of the checkout session that created
// the payment intent.
func (a *StripeAPI) PaymentIntentPrices(ctx context.Context, paymentIntentID string) ([]PriceInfo, error) {
	sessions := a.sc.CheckoutSessions.List(&stripelib.CheckoutSessionListParams{
		PaymentIntent: stripelib.String(paymentIntentID),
	})
	if !sessions.Next() {
		if err := sessions.Err(); err != nil {
			return nil, fmt.Errorf("list checkout sessions of %s: %w", paymentIntentID, err)
		}
		return nil, nil
	}
	session := sessions.CheckoutSession()

	var out []PriceInfo
	items := a.sc.CheckoutSessions.ListLineItems(&stripelib.CheckoutSessionListLineItemsParams{
		Session: stripelib.String(session.ID),
	})
	for items.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if li := items.LineItem(); li.Price != nil {
			out = append(out, PriceInfo{ID: li.Price.ID, Metadata: li.Price.Metadata})
		}
	}
	if err := items.Err(); err != nil {
		return nil, fmt.Errorf("list line items of session %s: %w", session.ID, err)
	}
	return out, nil
}

// CatalogResult summarizes a catalog sync.
type CatalogResult struct {
	Upserted int `json:"upserted"`
	Hidden   int `json:"hidden"`
}

// Catalog mirrors the Stripe product's prices into the plan table.
type Catalog struct {
	repos     *repository.Repositories
	source    PriceSource
	productID string
}

// NewCatalog creates a catalog sync for productID.
func NewCatalog(repos *repository.Repositories, source PriceSource, productID string) *Catalog {
	return &Catalog{repos: repos, source: source, productID: productID}
}

// Sync upserts every active price as a plan and hides plans of the product
// whose price is no longer active. Grants come from the price metadata keys
// tokens and productUnits.
func (c *Catalog) Sync(ctx context.Context) (*CatalogResult, error) {
	if c.source == nil || strings.TrimSpace(c.productID) == "" {
		return nil, errors.New("stripe catalog is not configured")
	}
	prices, err := c.source.ActivePrices(ctx, c.productID)
	if err != nil {
		return nil, err
	}

	res := &CatalogResult{}
	active := make(map[string]struct{}, len(prices))
	for _, p := range prices {
		plan := &models.Plan{
			Title:           catalogTitle(p),
			Kind:            models.PlanKindOneTime,
			StripePriceID:   p.ID,
			StripeProductID: firstNonEmpty(p.ProductID, c.productID),
			Tokens:          parseAmount(p.Metadata["tokens"]),
			ProductUnits:    parseAmount(p.Metadata["productUnits"]),
			AmountCents:     p.UnitAmount,
			Currency:        p.Currency,
			Interval:        models.BillingIntervalUnknown,
		}
		if p.Recurring {
			plan.Kind = models.PlanKindSubscription
			plan.Interval = normalizeInterval(p.Interval)
		}
		if err := c.repos.Plan.UpsertByStripePrice(ctx, plan); err != nil {
			return nil, fmt.Errorf("upsert plan for price %s: %w", p.ID, err)
		}
		active[p.ID] = struct{}{}
		res.Upserted++
	}

	plans, err := c.repos.Plan.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	for _, p := range plans {
		if p.StripePriceID == "" || !p.Visible || p.StripeProductID != c.productID {
			continue
		}
		if _, ok := active[p.StripePriceID]; ok {
			continue
		}
		if err := c.repos.Plan.SetVisible(ctx, p.ID, false); err != nil {
			return nil, fmt.Errorf("hide plan %d: %w", p.ID, err)
		}
		res.Hidden++
	}
	log.Infof("[Catalog] synced stripe product %s: %d plans upserted, %d hidden", c.productID, res.Upserted, res.Hidden)
	return res, nil
}

func catalogTitle(p CatalogPrice) string {
	if t := firstNonEmpty(p.Metadata["title"], p.Nickname); t != "" {
		return t
	}
	if p.ProductName != "" {
		return p.ProductName
	}
	return p.ID
}

func normalizeInterval(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "month", "monthly":
		return models.BillingIntervalMonth
	case "year", "yearly", "annual":
		return models.BillingIntervalYear
	default:
		return models.BillingIntervalUnknown
	}
}
