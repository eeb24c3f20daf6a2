package entitlements

import (
	"context"
	"math"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Turbopic/app/models"
	"github.com/ManuelReschke/Turbopic/app/repository"
)

// DefaultFreeProductUnits is the monthly allowance of a user without an active subscription.
const DefaultFreeProductUnits = 3.0

// ProductUnits is the product-unit balance of a user.
type ProductUnits struct {
	Usage        float64 `json:"usage"`
	Available    float64 `json:"available"`
	OneTimeUnits float64 `json:"oneTimeUnits"`
}

// Spendable is the figure a pre-check compares against a required weight.
func (p ProductUnits) Spendable() float64 {
	return round(p.Available + p.OneTimeUnits)
}

// TokenDistribution splits a user's token position for dashboards.
type TokenDistribution struct {
	UsedTokens         float64 `json:"usedTokens"`
	SubscriptionTokens float64 `json:"subscriptionTokens"`
	OneTimeTokens      float64 `json:"oneTimeTokens"`
}

// Calculator answers balance queries without mutating state. Lookup failures
// are logged and reported as zero capacity.
type Calculator struct {
	repos     *repository.Repositories
	freeUnits float64
	now       func() time.Time
}

// NewCalculator creates a balance calculator.
func NewCalculator(repos *repository.Repositories, freeUnitsPerMonth float64) *Calculator {
	return &Calculator{repos: repos, freeUnits: freeUnitsPerMonth, now: time.Now}
}

// AvailableTokens returns the remaining tokens of all active subscriptions plus the one-time pool.
func (c *Calculator) AvailableTokens(ctx context.Context, userID uint) float64 {
	user, err := c.repos.User.GetByID(ctx, userID)
	if err != nil {
		log.Warnf("[Balance] load user %d: %v", userID, err)
		return 0
	}
	subs, err := c.repos.Subscription.ListActiveByUser(ctx, userID)
	if err != nil {
		log.Warnf("[Balance] load subscriptions of user %d: %v", userID, err)
		return 0
	}
	return round(sumRemaining(subs, models.UsageKindTokens) + user.OneTimeTokens)
}

// AvailableProductUnits returns this month's usage and the remaining product
// units. Without an active subscription the monthly free allowance applies.
func (c *Calculator) AvailableProductUnits(ctx context.Context, userID uint) ProductUnits {
	from, to := MonthBounds(c.now())
	usage, err := c.repos.Usage.SumProductUsage(ctx, userID, from, to)
	if err != nil {
		log.Warnf("[Balance] sum product usage of user %d: %v", userID, err)
		return ProductUnits{}
	}
	subs, err := c.repos.Subscription.ListActiveByUser(ctx, userID)
	if err != nil {
		log.Warnf("[Balance] load subscriptions of user %d: %v", userID, err)
		return ProductUnits{}
	}
	user, err := c.repos.User.GetByID(ctx, userID)
	if err != nil {
		log.Warnf("[Balance] load user %d: %v", userID, err)
		return ProductUnits{}
	}

	out := ProductUnits{Usage: round(usage), OneTimeUnits: round(user.OneTimeProductUnits)}
	if len(subs) == 0 {
		out.Available = round(math.Max(0, c.freeUnits-usage))
		return out
	}
	out.Available = round(sumRemaining(subs, models.UsageKindProductUnits))
	return out
}

// TokenDistribution returns used-this-month, subscription and one-time tokens.
func (c *Calculator) TokenDistribution(ctx context.Context, userID uint) TokenDistribution {
	from, to := MonthBounds(c.now())
	used, err := c.repos.Usage.SumTokenUsage(ctx, userID, from, to)
	if err != nil {
		log.Warnf("[Balance] sum token usage of user %d: %v", userID, err)
		return TokenDistribution{}
	}
	user, err := c.repos.User.GetByID(ctx, userID)
	if err != nil {
		log.Warnf("[Balance] load user %d: %v", userID, err)
		return TokenDistribution{}
	}
	subs, err := c.repos.Subscription.ListActiveByUser(ctx, userID)
	if err != nil {
		log.Warnf("[Balance] load subscriptions of user %d: %v", userID, err)
		return TokenDistribution{}
	}
	return TokenDistribution{
		UsedTokens:         round(used),
		SubscriptionTokens: round(sumRemaining(subs, models.UsageKindTokens)),
		OneTimeTokens:      round(user.OneTimeTokens),
	}
}

// Spendable returns what a pre-check compares against for the given kind.
func (c *Calculator) Spendable(ctx context.Context, userID uint, kind models.UsageKind) float64 {
	if kind == models.UsageKindProductUnits {
		return c.AvailableProductUnits(ctx, userID).Spendable()
	}
	return c.AvailableTokens(ctx, userID)
}

// MonthBounds returns the UTC calendar month [start, end) containing t.
func MonthBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

func sumRemaining(subs []models.Subscription, kind models.UsageKind) float64 {
	var total float64
	for i := range subs {
		if r := subs[i].Remaining(kind); r > 0 {
			total += r
		}
	}
	return total
}

// round keeps four decimals, the precision of the balance columns.
func round(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
