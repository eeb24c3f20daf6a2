package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/Turbopic/app/models"
	"github.com/ManuelReschke/Turbopic/app/repository"
)

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

const (
	testShop    = "demo.myshopify.com"
	testShopGID = "gid://shopify/Shop/1"
	testSubGID  = "gid://shopify/AppSubscription/1"
)

type fixture struct {
	repos *repository.Repositories
	rec   *Reconciler
	now   time.Time
	owner *models.User
	other *models.User
	plan  *models.Plan
	pack  *models.Plan
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{repos: repository.NewMemoryStore(), now: fixedNow}

	f.owner = &models.User{Name: "merchant", Email: "owner@example.com"}
	require.NoError(t, f.repos.User.Create(ctx, f.owner))
	f.other = &models.User{Name: "intruder", Email: "other@example.com"}
	require.NoError(t, f.repos.User.Create(ctx, f.other))

	f.plan = &models.Plan{
		Title: "Growth Plan", Kind: models.PlanKindSubscription, ShopifyPlanHandle: "growth",
		StripePriceID: "price_growth", Tokens: 100, ProductUnits: 10, Visible: true,
	}
	require.NoError(t, f.repos.Plan.Create(ctx, f.plan))
	f.pack = &models.Plan{
		Title: "Token Pack", Kind: models.PlanKindOneTime, StripePriceID: "price_pack",
		Tokens: 50, ProductUnits: 2, Visible: true,
	}
	require.NoError(t, f.repos.Plan.Create(ctx, f.pack))

	require.NoError(t, f.repos.Integration.Create(ctx, &models.Integration{
		UserID: f.owner.ID, ShopDomain: testShop, ShopGID: testShopGID, Email: f.owner.Email,
	}))

	f.rec = NewReconciler(f.repos, nil, ReconcilerConfig{MaxAttempts: 5})
	f.rec.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) subUpdate(status string, periodEnd time.Time) ShopifySubscriptionUpdate {
	return ShopifySubscriptionUpdate{
		ShopDomain:      testShop,
		SubscriptionGID: testSubGID,
		ShopGID:         testShopGID,
		PlanHandle:      "growth",
		PlanName:        "Growth Plan",
		Status:          status,
		AmountCents:     1900,
		Currency:        "USD",
		PeriodEnd:       periodEnd,
		PeriodEndSource: PeriodEndExplicit,
	}
}

func (f *fixture) sub(t *testing.T, provider, externalID string) *models.Subscription {
	t.Helper()
	sub, err := f.repos.Subscription.GetByExternalID(context.Background(), provider, externalID)
	require.NoError(t, err)
	return sub
}

func (f *fixture) user(t *testing.T, id uint) *models.User {
	t.Helper()
	u, err := f.repos.User.GetByID(context.Background(), id)
	require.NoError(t, err)
	return u
}

// consume lowers the remaining tokens of a subscription as a deduction would.
func (f *fixture) consume(t *testing.T, sub *models.Subscription, tokens float64) {
	t.Helper()
	require.NoError(t, f.repos.Subscription.UpdateRemaining(context.Background(), sub.ID, sub.Version,
		models.UsageKindTokens, sub.RemainingTokens-tokens))
}

var trusted = Caller{Trusted: true}
