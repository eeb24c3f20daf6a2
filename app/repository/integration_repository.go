package repository

import (
	"context"
	"strings"
	"time"

	"github.com/ManuelReschke/Turbopic/app/models"
	"gorm.io/gorm"
)

type integrationRepository struct {
	db *gorm.DB
}

// NewIntegrationRepository creates a new integration repository instance
func NewIntegrationRepository(db *gorm.DB) IntegrationRepository {
	return &integrationRepository{db: db}
}

func (r *integrationRepository) Create(ctx context.Context, in *models.Integration) error {
	in.ShopDomain = models.NormalizeShopDomain(in.ShopDomain)
	return translate(r.db.WithContext(ctx).Create(in).Error)
}

func (r *integrationRepository) GetByID(ctx context.Context, id uint) (*models.Integration, error) {
	var in models.Integration
	if err := r.db.WithContext(ctx).First(&in, id).Error; err != nil {
		return nil, translate(err)
	}
	return &in, nil
}

func (r *integrationRepository) GetByShopDomain(ctx context.Context, domain string) (*models.Integration, error) {
	domain = models.NormalizeShopDomain(domain)
	if domain == "" {
		return nil, ErrNotFound
	}
	var in models.Integration
	if err := r.db.WithContext(ctx).Where("shop_domain = ?", domain).First(&in).Error; err != nil {
		return nil, translate(err)
	}
	return &in, nil
}

func (r *integrationRepository) GetByShopGID(ctx context.Context, gid string) (*models.Integration, error) {
	if strings.TrimSpace(gid) == "" {
		return nil, ErrNotFound
	}
	var in models.Integration
	if err := r.db.WithContext(ctx).Where("shop_gid = ?", gid).First(&in).Error; err != nil {
		return nil, translate(err)
	}
	return &in, nil
}

func (r *integrationRepository) ListByEmail(ctx context.Context, email string) ([]models.Integration, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, nil
	}
	var list []models.Integration
	err := r.db.WithContext(ctx).Where("LOWER(email) = ?", email).Order("id ASC").Find(&list).Error
	return list, translate(err)
}

// GetByTokenHash resolves an active token hash to its integration.
func (r *integrationRepository) GetByTokenHash(ctx context.Context, hash string) (*models.Integration, error) {
	trimmed := strings.TrimSpace(hash)
	if trimmed == "" {
		return nil, ErrNotFound
	}
	var in models.Integration
	err := r.db.WithContext(ctx).
		Where("token_hash = ? AND token_hash <> '' AND token_revoked_at IS NULL", trimmed).
		First(&in).Error
	if err != nil {
		return nil, translate(err)
	}
	return &in, nil
}

func (r *integrationRepository) TouchToken(ctx context.Context, id uint) error {
	return translate(r.db.WithContext(ctx).Model(&models.Integration{}).
		Where("id = ?", id).
		Update("token_last_used_at", time.Now()).Error)
}
