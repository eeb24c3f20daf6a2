package jobqueue

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/ManuelReschke/Turbopic/app/models"
)

type JobType string

const (
	JobTypeGenerateProduct JobType = "generate_product"
)

// JobStatus is the queue-side state of a job. The product row carries its own
// coarser status for API callers.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job is the redis-stored envelope of one unit of background work. RetryCount
// counts failed attempts; MaxRetries bounds the total attempts.
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// GenerationJobPayload contains the payload for product generation jobs
type GenerationJobPayload struct {
	ProductID     uint   `json:"product_id" validate:"required"`
	UserID        uint   `json:"user_id" validate:"required"`
	IntegrationID *uint  `json:"integration_id,omitempty"`
	Field         string `json:"field,omitempty"` // empty regenerates the whole product
}

// Weight is the product-unit cost of the job.
func (p GenerationJobPayload) Weight() float64 {
	if p.IsSingleField() {
		return models.WeightFieldRegenerate
	}
	return models.WeightFullProduct
}

// IsSingleField reports whether only one field is regenerated.
func (p GenerationJobPayload) IsSingleField() bool {
	return strings.TrimSpace(p.Field) != ""
}

// UsageKey is the ledger key the product usage is recorded under.
func (p GenerationJobPayload) UsageKey() string {
	if p.IsSingleField() {
		return strings.TrimSpace(p.Field)
	}
	return models.UsageKeyFullProduct
}

// ToMap flattens the payload into the job envelope.
func (p GenerationJobPayload) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"product_id": p.ProductID,
		"user_id":    p.UserID,
	}
	if p.IntegrationID != nil {
		m["integration_id"] = *p.IntegrationID
	}
	if p.Field != "" {
		m["field"] = p.Field
	}
	return m
}

// GenerationJobPayloadFromMap decodes the payload of a generate_product job.
func GenerationJobPayloadFromMap(data map[string]interface{}) (*GenerationJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var payload GenerationJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// HasAttemptsLeft reports whether the job may run again once the current
// attempt fails.
func (j *Job) HasAttemptsLeft() bool {
	return j.RetryCount+1 < j.MaxRetries
}

func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed records a failed attempt.
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying parks the job in the delayed set until its backoff elapses.
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
