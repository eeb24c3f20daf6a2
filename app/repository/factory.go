package repository

import (
	"context"
	"errors"
	"sync"

	"gorm.io/gorm"
)

// Factory lazily builds the gorm-backed repositories for one database handle
type Factory struct {
	db    *gorm.DB
	repos *Repositories
	once  sync.Once
}

// NewFactory creates a new repository factory
func NewFactory(db *gorm.DB) *Factory {
	return &Factory{
		db: db,
	}
}

// GetRepositories returns the repositories of this factory
func (f *Factory) GetRepositories() *Repositories {
	f.once.Do(func() {
		f.repos = NewRepositories(f.db)
	})
	return f.repos
}

// NewRepositories creates gorm-backed repositories. Transaction opens a
// database transaction and hands fn repositories bound to it.
func NewRepositories(db *gorm.DB) *Repositories {
	repos := &Repositories{
		User:         NewUserRepository(db),
		Plan:         NewPlanRepository(db),
		Subscription: NewSubscriptionRepository(db),
		Usage:        NewUsageRepository(db),
		Permission:   NewPermissionRepository(db),
		Integration:  NewIntegrationRepository(db),
		Payment:      NewPaymentRepository(db),
		WebhookEvent: NewWebhookEventRepository(db),
		Product:      NewGeneratedProductRepository(db),
	}
	repos.transaction = func(ctx context.Context, fn func(tx *Repositories) error) error {
		return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(NewRepositories(tx))
		})
	}
	return repos
}

// translate maps gorm errors onto the repository sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	default:
		return err
	}
}
