package repository

import (
	"context"
	"fmt"

	"github.com/ManuelReschke/Turbopic/app/models"
	"gorm.io/gorm"
)

type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new subscription repository instance
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

func (r *subscriptionRepository) Create(ctx context.Context, sub *models.Subscription) error {
	if sub.Version == 0 {
		sub.Version = 1
	}
	return translate(r.db.WithContext(ctx).Omit("Plan").Create(sub).Error)
}

func (r *subscriptionRepository) GetByID(ctx context.Context, id uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).Preload("Plan").First(&sub, id).Error; err != nil {
		return nil, translate(err)
	}
	return &sub, nil
}

func (r *subscriptionRepository) GetByExternalID(ctx context.Context, provider, externalID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).Preload("Plan").
		Where("provider = ? AND external_id = ?", provider, externalID).
		First(&sub).Error
	if err != nil {
		return nil, translate(err)
	}
	return &sub, nil
}

func (r *subscriptionRepository) ListActiveByUser(ctx context.Context, userID uint) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).Preload("Plan").
		Where("user_id = ? AND status IN ?", userID, models.CapacityBearingStatuses).
		Order("created_at ASC, id ASC").
		Find(&subs).Error
	return subs, translate(err)
}

func (r *subscriptionRepository) LatestPaidByUser(ctx context.Context, userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.SubscriptionStatusPaid).
		Order("created_at DESC, id DESC").
		First(&sub).Error
	if err != nil {
		return nil, translate(err)
	}
	return &sub, nil
}

func (r *subscriptionRepository) ListByProviderStatus(ctx context.Context, provider, status string) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).Preload("Plan").
		Where("provider = ? AND status = ?", provider, status).
		Order("id ASC").
		Find(&subs).Error
	return subs, translate(err)
}

func (r *subscriptionRepository) Update(ctx context.Context, sub *models.Subscription) error {
	if sub.RemainingTokens < 0 || sub.RemainingProductUnits < 0 {
		return fmt.Errorf("negative remaining capacity on subscription %d", sub.ID)
	}
	res := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ? AND version = ?", sub.ID, sub.Version).
		Updates(map[string]interface{}{
			"plan_id":                 sub.PlanID,
			"status":                  sub.Status,
			"current_period_end":      sub.CurrentPeriodEnd,
			"remaining_tokens":        sub.RemainingTokens,
			"remaining_product_units": sub.RemainingProductUnits,
			"last_granted_period_end": sub.LastGrantedPeriodEnd,
			"last_grant_key":          sub.LastGrantKey,
			"shop_gid":                sub.ShopGID,
			"customer_id":             sub.CustomerID,
			"version":                 gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	sub.Version++
	return nil
}

func (r *subscriptionRepository) UpdateRemaining(ctx context.Context, id uint, expectedVersion int64, kind models.UsageKind, remaining float64) error {
	if remaining < 0 {
		return fmt.Errorf("negative remaining capacity on subscription %d", id)
	}
	column := "remaining_tokens"
	if kind == models.UsageKindProductUnits {
		column = "remaining_product_units"
	}
	res := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(map[string]interface{}{
			column:    remaining,
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (r *subscriptionRepository) GrantCycle(ctx context.Context, id uint, grant CycleGrant) (bool, error) {
	periodEnd := grant.PeriodEnd.UTC()
	res := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ? AND (last_granted_period_end IS NULL OR last_granted_period_end < ?)", id, periodEnd).
		Updates(map[string]interface{}{
			"plan_id":                 grant.PlanID,
			"status":                  grant.Status,
			"current_period_end":      periodEnd,
			"remaining_tokens":        grant.Tokens,
			"remaining_product_units": grant.ProductUnits,
			"last_granted_period_end": periodEnd,
			"last_grant_key":          grant.GrantKey,
			"version":                 gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected > 0, nil
}
