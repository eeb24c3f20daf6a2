package repository

import (
	"context"

	"github.com/ManuelReschke/Turbopic/app/models"
	"gorm.io/gorm"
)

type permissionRepository struct {
	db *gorm.DB
}

// NewPermissionRepository creates a new permission repository instance
func NewPermissionRepository(db *gorm.DB) PermissionRepository {
	return &permissionRepository{db: db}
}

func (r *permissionRepository) Create(ctx context.Context, perm *models.Permission) error {
	return translate(r.db.WithContext(ctx).Create(perm).Error)
}

func (r *permissionRepository) ListByPlan(ctx context.Context, planID uint) ([]models.Permission, error) {
	var perms []models.Permission
	err := r.db.WithContext(ctx).Where("plan_id = ?", planID).Order("id ASC").Find(&perms).Error
	return perms, translate(err)
}

func (r *permissionRepository) ListByUser(ctx context.Context, userID uint) ([]models.Permission, error) {
	var perms []models.Permission
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id ASC").Find(&perms).Error
	return perms, translate(err)
}
