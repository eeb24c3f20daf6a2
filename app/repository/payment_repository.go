package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/Turbopic/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository creates a new payment repository instance
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

// Upsert locks the existing row so the returned previous status can guard a
// one-time credit inside the caller's transaction.
func (r *paymentRepository) Upsert(ctx context.Context, payment *models.Payment) (string, error) {
	db := r.db.WithContext(ctx)
	var existing models.Payment
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("invoice_id = ?", payment.InvoiceID).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := db.Create(payment).Error; err != nil {
			return "", translate(err)
		}
		return "", nil
	}
	if err != nil {
		return "", translate(err)
	}

	previous := existing.Status
	payment.ID = existing.ID
	payment.UserID = existing.UserID
	payment.Provider = existing.Provider
	err = db.Model(&existing).Updates(map[string]interface{}{
		"status":          payment.Status,
		"amount_cents":    payment.AmountCents,
		"currency":        payment.Currency,
		"subscription_id": payment.SubscriptionID,
		"plan_id":         payment.PlanID,
		"one_time":        payment.OneTime,
		"paid_at":         payment.PaidAt,
	}).Error
	return previous, translate(err)
}

func (r *paymentRepository) ListByUser(ctx context.Context, userID uint, from, to time.Time) ([]models.Payment, error) {
	var rows []models.Payment
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND paid_at >= ? AND paid_at < ?", userID, from, to).
		Order("paid_at ASC, id ASC").
		Find(&rows).Error
	return rows, translate(err)
}
