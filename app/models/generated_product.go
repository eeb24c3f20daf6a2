package models

import "time"

const (
	JobStatusPending   = "pending"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// GeneratedProduct is a product whose listing fields are produced by the
// generation pipeline. JobStatus is polled by clients.
type GeneratedProduct struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	UserID        uint      `gorm:"not null;index" json:"user_id"`
	IntegrationID *uint     `gorm:"index" json:"integration_id,omitempty"`
	Title         string    `gorm:"type:varchar(255);default:''" json:"title"`
	Description   string    `gorm:"type:text" json:"description"`
	ImageURL      string    `gorm:"type:varchar(1024);default:''" json:"image_url"`
	JobStatus     string    `gorm:"type:varchar(20);default:'';index" json:"job_status"`
	JobError      string    `gorm:"type:text" json:"job_error,omitempty"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
