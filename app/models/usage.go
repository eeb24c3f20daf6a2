package models

import "time"

// UsageKind names a consumable capacity.
type UsageKind string

const (
	UsageKindTokens       UsageKind = "tokens"
	UsageKindProductUnits UsageKind = "productUnits"
)

// Product usage keys and their weights.
const (
	UsageKeyFullProduct = "full_product"

	WeightFullProduct     = 1.0
	WeightFieldRegenerate = 0.1
)

// TokenUsage is an immutable ledger entry for one token deduction.
type TokenUsage struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uint      `gorm:"not null;index:idx_token_usages_user_used,priority:1" json:"user_id"`
	SubscriptionID *uint     `gorm:"index" json:"subscription_id,omitempty"`
	TokensUsed     float64   `gorm:"type:decimal(16,4);not null" json:"tokens_used"`
	Action         string    `gorm:"type:varchar(100);default:''" json:"action"`
	ProductID      *uint     `gorm:"index" json:"product_id,omitempty"`
	JobID          string    `gorm:"type:varchar(64);default:''" json:"job_id,omitempty"`
	UsedAt         time.Time `gorm:"not null;index:idx_token_usages_user_used,priority:2" json:"used_at"`
}

// ProductUsage is an immutable ledger entry for one product-unit deduction.
type ProductUsage struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uint      `gorm:"not null;index:idx_product_usages_user_used,priority:1" json:"user_id"`
	SubscriptionID *uint     `gorm:"index" json:"subscription_id,omitempty"`
	IntegrationID  *uint     `gorm:"index" json:"integration_id,omitempty"`
	ProductID      *uint     `gorm:"index" json:"product_id,omitempty"`
	JobID          string    `gorm:"type:varchar(64);default:''" json:"job_id,omitempty"`
	Key            string    `gorm:"type:varchar(100);not null;default:'full_product'" json:"key"`
	Weight         float64   `gorm:"type:decimal(16,4);not null" json:"weight"`
	UsedAt         time.Time `gorm:"not null;index:idx_product_usages_user_used,priority:2" json:"used_at"`

	Integration *Integration `gorm:"foreignKey:IntegrationID" json:"integration,omitempty"`
	CurrentShop bool         `gorm:"-" json:"current_shop"`
}
