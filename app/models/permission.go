package models

import "time"

// Permission attaches a "category:attribute:value" key to either a plan or a
// user. User rows override plan rows of the same category.
type Permission struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"type:varchar(191);not null" json:"key"`
	PlanID    *uint     `gorm:"index" json:"plan_id,omitempty"`
	UserID    *uint     `gorm:"index" json:"user_id,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
