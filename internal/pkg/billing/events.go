package billing

import (
	"errors"
	"time"

	"github.com/ManuelReschke/Turbopic/app/models"
)

var (
	ErrOwnerNotFound        = errors.New("billing: subscription owner could not be resolved")
	ErrPlanNotFound         = errors.New("billing: plan could not be resolved")
	ErrUntrustedCaller      = errors.New("billing: caller is neither authenticated nor trusted")
	ErrInvalidEvent         = errors.New("billing: invalid event")
	ErrSubscriptionNotFound = errors.New("billing: subscription not found")
)

// Event types as delivered by the providers.
const (
	TopicAppSubscriptionsUpdate    = "APP_SUBSCRIPTIONS_UPDATE"
	TopicAppPurchasesOneTimeUpdate = "APP_PURCHASES_ONE_TIME_UPDATE"

	StripeInvoicePaidType          = "invoice.paid"
	StripePaymentIntentSucceeded   = "payment_intent.succeeded"
	StripeSubscriptionDeletedType  = "customer.subscription.deleted"
	StripeCheckoutSessionCompleted = "checkout.session.completed"
)

// PeriodEndSource tells where a Shopify period end was taken from.
type PeriodEndSource string

const (
	PeriodEndExplicit  PeriodEndSource = "current_period_end"
	PeriodEndUpdatedAt PeriodEndSource = "updated_at"
	PeriodEndCreatedAt PeriodEndSource = "created_at"
	PeriodEndNone      PeriodEndSource = ""
)

// Caller is the identity an event arrives with. Trusted callers presented the
// service token (or a verified provider signature) and may resolve owners by
// shop lookup.
type Caller struct {
	UserID  uint
	Trusted bool
}

// Event is one billing lifecycle event. The set of variants is closed.
type Event interface {
	Provider() string
	Type() string
	event()
}

// ShopifySubscriptionUpdate is an APP_SUBSCRIPTIONS_UPDATE delivery.
type ShopifySubscriptionUpdate struct {
	ShopDomain      string
	SubscriptionGID string `validate:"required"`
	ShopGID         string
	PlanHandle      string
	PlanName        string
	Status          string `validate:"required"`
	AmountCents     int64
	Currency        string
	Email           string
	PeriodEnd       time.Time
	PeriodEndSource PeriodEndSource
}

// ShopifyOneTimePurchaseUpdate is an APP_PURCHASES_ONE_TIME_UPDATE delivery.
type ShopifyOneTimePurchaseUpdate struct {
	ShopDomain  string
	PurchaseGID string `validate:"required"`
	ShopGID     string
	Name        string
	Status      string `validate:"required"`
	AmountCents int64
	Currency    string
	Email       string
}

// StripeInvoicePaid is a settled recurring invoice.
type StripeInvoicePaid struct {
	InvoiceID      string `validate:"required"`
	SubscriptionID string `validate:"required"`
	CustomerID     string
	PriceID        string `validate:"required"`
	UserID         uint
	Status         string
	AmountCents    int64
	Currency       string
	PeriodEnd      time.Time
	Authoritative  bool
}

// StripePaymentSucceeded is a one-time top-up payment.
type StripePaymentSucceeded struct {
	PaymentIntentID string `validate:"required"`
	CustomerID      string
	UserID          uint
	PriceID         string
	Tokens          float64
	ProductUnits    float64
	AmountCents     int64
	Currency        string
}

// StripeSubscriptionDeleted is a subscription cancellation.
type StripeSubscriptionDeleted struct {
	SubscriptionID string `validate:"required"`
	CustomerID     string
}

// StripeCheckoutCompleted links a Stripe customer to a user.
type StripeCheckoutCompleted struct {
	SessionID  string
	CustomerID string
	UserID     uint
	Mode       string
}

func (ShopifySubscriptionUpdate) Provider() string    { return models.BillingProviderShopify }
func (ShopifyOneTimePurchaseUpdate) Provider() string { return models.BillingProviderShopify }
func (StripeInvoicePaid) Provider() string            { return models.BillingProviderStripe }
func (StripePaymentSucceeded) Provider() string       { return models.BillingProviderStripe }
func (StripeSubscriptionDeleted) Provider() string    { return models.BillingProviderStripe }
func (StripeCheckoutCompleted) Provider() string      { return models.BillingProviderStripe }

func (ShopifySubscriptionUpdate) Type() string    { return TopicAppSubscriptionsUpdate }
func (ShopifyOneTimePurchaseUpdate) Type() string { return TopicAppPurchasesOneTimeUpdate }
func (StripeInvoicePaid) Type() string            { return StripeInvoicePaidType }
func (StripePaymentSucceeded) Type() string       { return StripePaymentIntentSucceeded }
func (StripeSubscriptionDeleted) Type() string    { return StripeSubscriptionDeletedType }
func (StripeCheckoutCompleted) Type() string      { return StripeCheckoutSessionCompleted }

func (ShopifySubscriptionUpdate) event()    {}
func (ShopifyOneTimePurchaseUpdate) event() {}
func (StripeInvoicePaid) event()            {}
func (StripePaymentSucceeded) event()       {}
func (StripeSubscriptionDeleted) event()    {}
func (StripeCheckoutCompleted) event()      {}

// Authoritative reports whether the period end came from an explicit field.
func (e ShopifySubscriptionUpdate) Authoritative() bool {
	return e.PeriodEndSource == PeriodEndExplicit
}
