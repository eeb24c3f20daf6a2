package billing

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Turbopic/app/models"
	"github.com/ManuelReschke/Turbopic/app/repository"
	"github.com/ManuelReschke/Turbopic/internal/pkg/metrics"
)

// RefreshResult reports how many active Shopify subscriptions were re-granted.
type RefreshResult struct {
	Updated int `json:"updated"`
	Total   int `json:"total"`
}

// RefreshRenewals re-grants every active Shopify subscription whose period
// ended more than a month ago, for missed or delayed renewal webhooks. The
// new period end is now; the grant guard makes concurrent runs harmless.
func (r *Reconciler) RefreshRenewals(ctx context.Context) (*RefreshResult, error) {
	subs, err := r.repos.Subscription.ListByProviderStatus(ctx, models.BillingProviderShopify, models.SubscriptionStatusActive)
	if err != nil {
		return nil, fmt.Errorf("list active shopify subscriptions: %w", err)
	}

	now := r.now().UTC()
	res := &RefreshResult{Total: len(subs)}
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if sub.CurrentPeriodEnd == nil || sub.Plan == nil {
			metrics.RenewalRefreshTotal.WithLabelValues("skipped").Inc()
			continue
		}
		nextReset := sub.CurrentPeriodEnd.AddDate(0, 1, 0)
		if !now.After(nextReset) {
			metrics.RenewalRefreshTotal.WithLabelValues("current").Inc()
			continue
		}

		granted, err := r.repos.Subscription.GrantCycle(ctx, sub.ID, repository.CycleGrant{
			PeriodEnd:    now,
			Status:       sub.Status,
			PlanID:       sub.PlanID,
			Tokens:       sub.Plan.Tokens,
			ProductUnits: sub.Plan.ProductUnits,
			GrantKey:     models.GrantKey(sub.ExternalID, now),
		})
		if err != nil {
			metrics.RenewalRefreshTotal.WithLabelValues("error").Inc()
			return res, fmt.Errorf("refresh subscription %d: %w", sub.ID, err)
		}
		if granted {
			res.Updated++
			metrics.RenewalRefreshTotal.WithLabelValues("refreshed").Inc()
			log.Infof("[RenewalRefresh] re-granted subscription %d (%s) of user %d", sub.ID, sub.ExternalID, sub.UserID)
		}
	}
	log.Infof("[RenewalRefresh] tokens refreshed: %d / %d", res.Updated, res.Total)
	return res, nil
}
