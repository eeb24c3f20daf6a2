package entitlements

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/Turbopic/app/models"
	"github.com/ManuelReschke/Turbopic/app/repository"
)

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

type fixture struct {
	repos *repository.Repositories
	user  *models.User
	plan  *models.Plan
	seq   int
}

func newFixture(t *testing.T, oneTimeTokens, oneTimeUnits float64) *fixture {
	t.Helper()
	ctx := context.Background()
	repos := repository.NewMemoryStore()
	user := &models.User{Name: "merchant", Email: fmt.Sprintf("u%d@example.com", time.Now().UnixNano())}
	require.NoError(t, repos.User.Create(ctx, user))
	if oneTimeTokens > 0 || oneTimeUnits > 0 {
		require.NoError(t, repos.User.UpdateOneTimeBalance(ctx, user.ID, user.BalanceVersion, oneTimeTokens, oneTimeUnits))
	}
	plan := &models.Plan{Title: "Pro", Kind: models.PlanKindSubscription, Tokens: 100, ProductUnits: 10, Visible: true}
	require.NoError(t, repos.Plan.Create(ctx, plan))
	return &fixture{repos: repos, user: user, plan: plan}
}

// addSub creates a subscription; later calls get later creation times.
func (f *fixture) addSub(t *testing.T, status string, tokens, units float64) *models.Subscription {
	t.Helper()
	f.seq++
	sub := &models.Subscription{
		UserID:                f.user.ID,
		Provider:              models.BillingProviderStripe,
		ExternalID:            fmt.Sprintf("sub_%d", f.seq),
		PlanID:                f.plan.ID,
		Status:                status,
		RemainingTokens:       tokens,
		RemainingProductUnits: units,
		CreatedAt:             fixedNow.AddDate(0, -1, 0).Add(time.Duration(f.seq) * time.Minute),
	}
	require.NoError(t, f.repos.Subscription.Create(context.Background(), sub))
	return sub
}

func (f *fixture) calculator() *Calculator {
	c := NewCalculator(f.repos, DefaultFreeProductUnits)
	c.now = func() time.Time { return fixedNow }
	return c
}

func (f *fixture) engine(cfg EngineConfig) *Engine {
	e := NewEngine(f.repos, cfg)
	e.now = func() time.Time { return fixedNow }
	return e
}

func (f *fixture) remaining(t *testing.T, id uint, kind models.UsageKind) float64 {
	t.Helper()
	sub, err := f.repos.Subscription.GetByID(context.Background(), id)
	require.NoError(t, err)
	return sub.Remaining(kind)
}

func (f *fixture) reloadUser(t *testing.T) *models.User {
	t.Helper()
	u, err := f.repos.User.GetByID(context.Background(), f.user.ID)
	require.NoError(t, err)
	return u
}
