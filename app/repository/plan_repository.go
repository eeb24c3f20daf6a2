package repository

import (
	"context"
	"errors"

	"github.com/ManuelReschke/Turbopic/app/models"
	"gorm.io/gorm"
)

type planRepository struct {
	db *gorm.DB
}

// NewPlanRepository creates a new plan repository instance
func NewPlanRepository(db *gorm.DB) PlanRepository {
	return &planRepository{db: db}
}

func (r *planRepository) Create(ctx context.Context, plan *models.Plan) error {
	return translate(r.db.WithContext(ctx).Create(plan).Error)
}

func (r *planRepository) GetByID(ctx context.Context, id uint) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.WithContext(ctx).Preload("Permissions").First(&plan, id).Error; err != nil {
		return nil, translate(err)
	}
	return &plan, nil
}

func (r *planRepository) GetByStripePriceID(ctx context.Context, priceID string) (*models.Plan, error) {
	if priceID == "" {
		return nil, ErrNotFound
	}
	var plan models.Plan
	if err := r.db.WithContext(ctx).Where("stripe_price_id = ?", priceID).First(&plan).Error; err != nil {
		return nil, translate(err)
	}
	return &plan, nil
}

func (r *planRepository) List(ctx context.Context) ([]models.Plan, error) {
	var plans []models.Plan
	err := r.db.WithContext(ctx).Order("id ASC").Find(&plans).Error
	return plans, translate(err)
}

func (r *planRepository) ListVisible(ctx context.Context, kind string) ([]models.Plan, error) {
	q := r.db.WithContext(ctx).Where("visible = ?", true)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	var plans []models.Plan
	err := q.Order("id ASC").Find(&plans).Error
	return plans, translate(err)
}

// UpsertByStripePrice relies on the unique price id; title, grants and
// pricing follow the catalog, the row is made visible again.
func (r *planRepository) UpsertByStripePrice(ctx context.Context, plan *models.Plan) error {
	existing, err := r.GetByStripePriceID(ctx, plan.StripePriceID)
	switch {
	case errors.Is(err, ErrNotFound):
		plan.Visible = true
		return r.Create(ctx, plan)
	case err != nil:
		return err
	}
	plan.ID = existing.ID
	plan.Visible = true
	return translate(r.db.WithContext(ctx).Model(existing).Updates(map[string]interface{}{
		"title":             plan.Title,
		"kind":              plan.Kind,
		"stripe_product_id": plan.StripeProductID,
		"tokens":            plan.Tokens,
		"product_units":     plan.ProductUnits,
		"amount_cents":      plan.AmountCents,
		"currency":          plan.Currency,
		"interval":          plan.Interval,
		"visible":           true,
	}).Error)
}

func (r *planRepository) SetVisible(ctx context.Context, id uint, visible bool) error {
	return translate(r.db.WithContext(ctx).Model(&models.Plan{}).Where("id = ?", id).Update("visible", visible).Error)
}
