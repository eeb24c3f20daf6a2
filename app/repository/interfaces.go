package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/Turbopic/app/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("repository: record not found")
	// ErrConflict is returned when a version-guarded update matched no row.
	ErrConflict = errors.New("repository: version conflict")
	// ErrDuplicate is returned when an insert violates a unique key.
	ErrDuplicate = errors.New("repository: duplicate key")
)

// UserRepository defines the user and one-time balance operations
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByStripeCustomerID(ctx context.Context, customerID string) (*models.User, error)
	SetStripeCustomerID(ctx context.Context, id uint, customerID string) error
	// UpdateOneTimeBalance overwrites both one-time pools when the stored
	// balance version equals expectedVersion, and bumps the version.
	UpdateOneTimeBalance(ctx context.Context, id uint, expectedVersion int64, tokens, productUnits float64) error
	// CreditOneTime adds amount to the one-time pool of kind and bumps the version.
	CreditOneTime(ctx context.Context, id uint, kind models.UsageKind, amount float64) error
}

// PlanRepository defines the plan catalog operations
type PlanRepository interface {
	Create(ctx context.Context, plan *models.Plan) error
	GetByID(ctx context.Context, id uint) (*models.Plan, error)
	GetByStripePriceID(ctx context.Context, priceID string) (*models.Plan, error)
	List(ctx context.Context) ([]models.Plan, error)
	// ListVisible returns visible plans of the given kind, or of every kind when kind is empty.
	ListVisible(ctx context.Context, kind string) ([]models.Plan, error)
	// UpsertByStripePrice inserts or updates a plan keyed by its Stripe price id.
	UpsertByStripePrice(ctx context.Context, plan *models.Plan) error
	SetVisible(ctx context.Context, id uint, visible bool) error
}

// CycleGrant describes a full capacity reset for a new billing cycle.
type CycleGrant struct {
	PeriodEnd    time.Time
	Status       string
	PlanID       uint
	Tokens       float64
	ProductUnits float64
	GrantKey     string
}

// SubscriptionRepository defines the subscription store operations
type SubscriptionRepository interface {
	Create(ctx context.Context, sub *models.Subscription) error
	GetByID(ctx context.Context, id uint) (*models.Subscription, error)
	GetByExternalID(ctx context.Context, provider, externalID string) (*models.Subscription, error)
	// ListActiveByUser returns capacity-bearing subscriptions, oldest first.
	ListActiveByUser(ctx context.Context, userID uint) ([]models.Subscription, error)
	// LatestPaidByUser returns the most recently created subscription with status paid.
	LatestPaidByUser(ctx context.Context, userID uint) (*models.Subscription, error)
	ListByProviderStatus(ctx context.Context, provider, status string) ([]models.Subscription, error)
	// Update writes the mutable fields of sub guarded by sub.Version and
	// increments sub.Version on success. UserID, Provider and ExternalID are never written.
	Update(ctx context.Context, sub *models.Subscription) error
	// UpdateRemaining sets the remaining balance of kind guarded by expectedVersion.
	UpdateRemaining(ctx context.Context, id uint, expectedVersion int64, kind models.UsageKind, remaining float64) error
	// GrantCycle resets capacity only when last_granted_period_end is unset or
	// before grant.PeriodEnd. It reports whether the row was updated.
	GrantCycle(ctx context.Context, id uint, grant CycleGrant) (bool, error)
}

// UsageRepository defines the append-only usage ledger
type UsageRepository interface {
	CreateTokenUsage(ctx context.Context, usage *models.TokenUsage) error
	CreateProductUsage(ctx context.Context, usage *models.ProductUsage) error
	SumTokenUsage(ctx context.Context, userID uint, from, to time.Time) (float64, error)
	SumProductUsage(ctx context.Context, userID uint, from, to time.Time) (float64, error)
	ListTokenUsage(ctx context.Context, userID uint, from, to time.Time) ([]models.TokenUsage, error)
	ListProductUsage(ctx context.Context, userID uint, from, to time.Time) ([]models.ProductUsage, error)
}

// PermissionRepository defines the permission lookups
type PermissionRepository interface {
	Create(ctx context.Context, perm *models.Permission) error
	ListByPlan(ctx context.Context, planID uint) ([]models.Permission, error)
	ListByUser(ctx context.Context, userID uint) ([]models.Permission, error)
}

// IntegrationRepository defines the shop integration lookups
type IntegrationRepository interface {
	Create(ctx context.Context, in *models.Integration) error
	GetByID(ctx context.Context, id uint) (*models.Integration, error)
	GetByShopDomain(ctx context.Context, domain string) (*models.Integration, error)
	GetByShopGID(ctx context.Context, gid string) (*models.Integration, error)
	ListByEmail(ctx context.Context, email string) ([]models.Integration, error)
	GetByTokenHash(ctx context.Context, hash string) (*models.Integration, error)
	TouchToken(ctx context.Context, id uint) error
}

// PaymentRepository defines the payment log operations
type PaymentRepository interface {
	// Upsert inserts or updates the payment keyed by InvoiceID and returns the
	// status stored before the call, or "" when the row is new.
	Upsert(ctx context.Context, payment *models.Payment) (string, error)
	ListByUser(ctx context.Context, userID uint, from, to time.Time) ([]models.Payment, error)
}

// WebhookEventRepository defines the webhook journal operations
type WebhookEventRepository interface {
	// Record inserts the event unless (provider, provider_event_id) exists and
	// returns whether it was created together with the stored row.
	Record(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkProcessed(ctx context.Context, id uint, processingError string) error
}

// GeneratedProductRepository defines the product job-status operations
type GeneratedProductRepository interface {
	Create(ctx context.Context, product *models.GeneratedProduct) error
	GetByID(ctx context.Context, id uint) (*models.GeneratedProduct, error)
	UpdateJobStatus(ctx context.Context, id uint, status, jobError string) error
}

// Repositories struct holds all repository instances
type Repositories struct {
	User         UserRepository
	Plan         PlanRepository
	Subscription SubscriptionRepository
	Usage        UsageRepository
	Permission   PermissionRepository
	Integration  IntegrationRepository
	Payment      PaymentRepository
	WebhookEvent WebhookEventRepository
	Product      GeneratedProductRepository

	transaction func(ctx context.Context, fn func(tx *Repositories) error) error
}

// Transaction runs fn against repositories bound to one transaction. All
// writes made through tx are committed together, or none are when fn fails.
func (r *Repositories) Transaction(ctx context.Context, fn func(tx *Repositories) error) error {
	return r.transaction(ctx, fn)
}
