package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/Turbopic/app/models"
	"gorm.io/gorm"
)

type usageRepository struct {
	db *gorm.DB
}

// NewUsageRepository creates a new usage ledger repository instance
func NewUsageRepository(db *gorm.DB) UsageRepository {
	return &usageRepository{db: db}
}

func (r *usageRepository) CreateTokenUsage(ctx context.Context, usage *models.TokenUsage) error {
	return translate(r.db.WithContext(ctx).Create(usage).Error)
}

func (r *usageRepository) CreateProductUsage(ctx context.Context, usage *models.ProductUsage) error {
	return translate(r.db.WithContext(ctx).Omit("Integration").Create(usage).Error)
}

// SumTokenUsage sums ledger amounts in [from, to).
func (r *usageRepository) SumTokenUsage(ctx context.Context, userID uint, from, to time.Time) (float64, error) {
	var total float64
	err := r.db.WithContext(ctx).Model(&models.TokenUsage{}).
		Select("COALESCE(SUM(tokens_used), 0)").
		Where("user_id = ? AND used_at >= ? AND used_at < ?", userID, from, to).
		Scan(&total).Error
	return total, translate(err)
}

// SumProductUsage sums ledger weights in [from, to).
func (r *usageRepository) SumProductUsage(ctx context.Context, userID uint, from, to time.Time) (float64, error) {
	var total float64
	err := r.db.WithContext(ctx).Model(&models.ProductUsage{}).
		Select("COALESCE(SUM(weight), 0)").
		Where("user_id = ? AND used_at >= ? AND used_at < ?", userID, from, to).
		Scan(&total).Error
	return total, translate(err)
}

func (r *usageRepository) ListTokenUsage(ctx context.Context, userID uint, from, to time.Time) ([]models.TokenUsage, error) {
	var rows []models.TokenUsage
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND used_at >= ? AND used_at < ?", userID, from, to).
		Order("used_at ASC, id ASC").
		Find(&rows).Error
	return rows, translate(err)
}

func (r *usageRepository) ListProductUsage(ctx context.Context, userID uint, from, to time.Time) ([]models.ProductUsage, error) {
	var rows []models.ProductUsage
	err := r.db.WithContext(ctx).Preload("Integration").
		Where("user_id = ? AND used_at >= ? AND used_at < ?", userID, from, to).
		Order("used_at ASC, id ASC").
		Find(&rows).Error
	return rows, translate(err)
}
