package models

import (
	"strings"
	"time"
)

// Billing provider constants used across billing-related models.
const (
	BillingProviderShopify = "shopify"
	BillingProviderStripe  = "stripe"
)

const (
	SubscriptionStatusPending  = "pending"
	SubscriptionStatusActive   = "active"
	SubscriptionStatusTrialing = "trialing"
	SubscriptionStatusPaid     = "paid"
	SubscriptionStatusCanceled = "canceled"
	SubscriptionStatusExpired  = "expired"
)

// CapacityBearingStatuses are the statuses whose remaining balances count as available capacity.
var CapacityBearingStatuses = []string{
	SubscriptionStatusActive,
	SubscriptionStatusTrialing,
	SubscriptionStatusPaid,
}

// Subscription is a user's instance of a Plan at one billing provider. The
// (provider, external_id) pair is the idempotency key for every webhook-driven
// upsert; user_id is set once on creation and never reassigned.
type Subscription struct {
	ID                    uint       `gorm:"primaryKey" json:"id"`
	UserID                uint       `gorm:"not null;index:idx_subscriptions_user_status,priority:1" json:"user_id"`
	Provider              string     `gorm:"type:varchar(20);not null;index:ux_subscriptions_provider_external,unique,priority:1;index:idx_subscriptions_provider_status,priority:1" json:"provider"`
	ExternalID            string     `gorm:"type:varchar(191);not null;index:ux_subscriptions_provider_external,unique,priority:2" json:"external_id"`
	PlanID                uint       `gorm:"not null;index" json:"plan_id"`
	Status                string     `gorm:"type:varchar(32);not null;default:'pending';index:idx_subscriptions_user_status,priority:2;index:idx_subscriptions_provider_status,priority:2" json:"status"`
	CurrentPeriodEnd      *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	RemainingTokens       float64    `gorm:"type:decimal(16,4);not null;default:0" json:"remaining_tokens"`
	RemainingProductUnits float64    `gorm:"type:decimal(16,4);not null;default:0" json:"remaining_product_units"`
	LastGrantedPeriodEnd  *time.Time `gorm:"type:timestamp;default:null" json:"last_granted_period_end,omitempty"`
	LastGrantKey          string     `gorm:"type:varchar(255);default:''" json:"last_grant_key"`
	ShopGID               string     `gorm:"type:varchar(191);default:'';index" json:"shop_gid"`
	CustomerID            string     `gorm:"type:varchar(191);default:'';index" json:"customer_id"`
	Version               int64      `gorm:"not null;default:1" json:"-"`
	Plan                  *Plan      `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
	CreatedAt             time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt             time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsCapacityBearing reports whether the status counts towards available capacity.
func IsCapacityBearing(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusPaid:
		return true
	default:
		return false
	}
}

// IsTerminalStatus reports whether the status ends the subscription's life.
func IsTerminalStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case SubscriptionStatusCanceled, SubscriptionStatusExpired:
		return true
	default:
		return false
	}
}

// Remaining returns the remaining balance of the given usage kind.
func (s *Subscription) Remaining(kind UsageKind) float64 {
	if kind == UsageKindProductUnits {
		return s.RemainingProductUnits
	}
	return s.RemainingTokens
}

// GrantKey identifies a single cycle grant of a subscription.
func GrantKey(externalID string, periodEnd time.Time) string {
	return externalID + ":" + periodEnd.UTC().Format(time.RFC3339)
}
