package repository

import (
	"context"

	"github.com/ManuelReschke/Turbopic/app/models"
	"gorm.io/gorm"
)

type generatedProductRepository struct {
	db *gorm.DB
}

// NewGeneratedProductRepository creates a new product repository instance
func NewGeneratedProductRepository(db *gorm.DB) GeneratedProductRepository {
	return &generatedProductRepository{db: db}
}

func (r *generatedProductRepository) Create(ctx context.Context, product *models.GeneratedProduct) error {
	return translate(r.db.WithContext(ctx).Create(product).Error)
}

func (r *generatedProductRepository) GetByID(ctx context.Context, id uint) (*models.GeneratedProduct, error) {
	var p models.GeneratedProduct
	if err := r.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (r *generatedProductRepository) UpdateJobStatus(ctx context.Context, id uint, status, jobError string) error {
	return translate(r.db.WithContext(ctx).Model(&models.GeneratedProduct{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"job_status": status, "job_error": jobError}).Error)
}
