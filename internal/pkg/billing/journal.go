package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/ManuelReschke/Turbopic/app/models"
	"github.com/ManuelReschke/Turbopic/app/repository"
)

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
}

// Journal records provider deliveries so redeliveries of processed events
// are acknowledged without being applied twice.
type Journal struct {
	repo repository.WebhookEventRepository
}

// NewJournal creates a webhook journal from an injected repository.
func NewJournal(repo repository.WebhookEventRepository) *Journal {
	return &Journal{repo: repo}
}

// RecordWebhookEvent persists webhook payloads idempotently. Deliveries
// without a provider event id are keyed by the hash of their payload.
func (j *Journal) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		eventID = PayloadHash([]byte(in.PayloadJSON))
	}

	event := &models.BillingWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		Status:          models.WebhookEventStatusReceived,
	}
	return j.repo.Record(ctx, event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (j *Journal) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return j.repo.MarkProcessed(ctx, webhookEventID, errMsg)
}

// IsDuplicate reports whether a stored event was already applied successfully.
func IsDuplicate(created bool, stored *models.BillingWebhookEvent) bool {
	return !created && stored != nil && stored.Status == models.WebhookEventStatusProcessed
}

// PayloadHash is the journal key of a delivery without a provider event id.
func PayloadHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return "hash:" + hex.EncodeToString(sum[:])
}
