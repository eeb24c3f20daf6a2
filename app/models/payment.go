package models

import "time"

const (
	PaymentStatusPaid    = "paid"
	PaymentStatusActive  = "active"
	PaymentStatusPending = "pending"
)

// Payment is the analytics log of provider payments, keyed by invoice id,
// payment intent id or Shopify purchase gid.
type Payment struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uint      `gorm:"not null;index:idx_payments_user_paid,priority:1" json:"user_id"`
	Provider       string    `gorm:"type:varchar(20);not null" json:"provider"`
	InvoiceID      string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"invoice_id"`
	Status         string    `gorm:"type:varchar(32);not null" json:"status"`
	AmountCents    int64     `gorm:"not null;default:0" json:"amount_cents"`
	Currency       string    `gorm:"type:varchar(3);default:'usd'" json:"currency"`
	SubscriptionID *uint     `gorm:"index" json:"subscription_id,omitempty"`
	PlanID         *uint     `gorm:"index" json:"plan_id,omitempty"`
	OneTime        bool      `gorm:"default:false" json:"one_time"`
	PaidAt         time.Time `gorm:"not null;index:idx_payments_user_paid,priority:2" json:"paid_at"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
