package models

import (
	"strings"
	"time"
)

const (
	PlanKindSubscription = "subscription"
	PlanKindOneTime      = "one_time"
)

const (
	BillingIntervalMonth   = "month"
	BillingIntervalYear    = "year"
	BillingIntervalUnknown = "unknown"
)

// Plan is a catalog entry granting a token and product-unit allowance per
// cycle (or once, for one-time plans). Only the catalog sync creates plans.
type Plan struct {
	ID                uint         `gorm:"primaryKey" json:"id"`
	Title             string       `gorm:"type:varchar(191);not null" json:"title"`
	Kind              string       `gorm:"type:varchar(20);not null;default:'subscription';index" json:"kind"`
	ShopifyPlanHandle string       `gorm:"type:varchar(191);default:'';index" json:"shopify_plan_handle"`
	StripePriceID     string       `gorm:"type:varchar(191);default:'';index" json:"stripe_price_id"`
	StripeProductID   string       `gorm:"type:varchar(191);default:''" json:"stripe_product_id"`
	Tokens            float64      `gorm:"type:decimal(16,4);not null;default:0" json:"tokens"`
	ProductUnits      float64      `gorm:"type:decimal(16,4);not null;default:0" json:"product_units"`
	AmountCents       int64        `gorm:"not null;default:0" json:"amount_cents"`
	Currency          string       `gorm:"type:varchar(3);default:'usd'" json:"currency"`
	Interval          string       `gorm:"type:varchar(16);not null;default:'unknown'" json:"interval"`
	Visible           bool         `gorm:"default:true;index" json:"visible"`
	Permissions       []Permission `gorm:"foreignKey:PlanID" json:"permissions,omitempty"`
	CreatedAt         time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsOneTime reports whether the plan is a one-time top-up.
func (p *Plan) IsOneTime() bool {
	return p.Kind == PlanKindOneTime
}

// Grant returns the plan's per-cycle grant of the given usage kind.
func (p *Plan) Grant(kind UsageKind) float64 {
	if kind == UsageKindProductUnits {
		return p.ProductUnits
	}
	return p.Tokens
}

// MatchesName reports whether any of the given names equals the plan's handle
// or title, ignoring case.
func (p *Plan) MatchesName(names ...string) bool {
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if p.ShopifyPlanHandle != "" && strings.EqualFold(p.ShopifyPlanHandle, n) {
			return true
		}
		if p.Title != "" && strings.EqualFold(p.Title, n) {
			return true
		}
	}
	return false
}
