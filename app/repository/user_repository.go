package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/ManuelReschke/Turbopic/app/models"
	"gorm.io/gorm"
)

// userRepository implements the UserRepository interface
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository instance
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// Create creates a new user in the database
func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	return translate(r.db.WithContext(ctx).Create(user).Error)
}

// GetByID retrieves a user by their ID
func (r *userRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// GetByEmail retrieves a user by their email address
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&user).Error
	if err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// GetByStripeCustomerID retrieves the user owning a Stripe customer
func (r *userRepository) GetByStripeCustomerID(ctx context.Context, customerID string) (*models.User, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, ErrNotFound
	}
	var user models.User
	if err := r.db.WithContext(ctx).Where("stripe_customer_id = ?", customerID).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (r *userRepository) SetStripeCustomerID(ctx context.Context, id uint, customerID string) error {
	return translate(r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("stripe_customer_id", customerID).Error)
}

func (r *userRepository) UpdateOneTimeBalance(ctx context.Context, id uint, expectedVersion int64, tokens, productUnits float64) error {
	if tokens < 0 || productUnits < 0 {
		return fmt.Errorf("negative one-time balance for user %d", id)
	}
	res := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND balance_version = ?", id, expectedVersion).
		Updates(map[string]interface{}{
			"one_time_tokens":        tokens,
			"one_time_product_units": productUnits,
			"balance_version":        gorm.Expr("balance_version + 1"),
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (r *userRepository) CreditOneTime(ctx context.Context, id uint, kind models.UsageKind, amount float64) error {
	if amount <= 0 {
		return nil
	}
	column := "one_time_tokens"
	if kind == models.UsageKindProductUnits {
		column = "one_time_product_units"
	}
	res := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			column:            gorm.Expr(column+" + ?", amount),
			"balance_version": gorm.Expr("balance_version + 1"),
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
