package jobqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/Turbopic/app/models"
)

func TestGenerationJobPayload(t *testing.T) {
	integration := uint(4)
	tests := []struct {
		name   string
		in     GenerationJobPayload
		weight float64
		key    string
	}{
		{"full product", GenerationJobPayload{ProductID: 1, UserID: 2}, models.WeightFullProduct, "full_product"},
		{"single field", GenerationJobPayload{ProductID: 1, UserID: 2, Field: "title"}, models.WeightFieldRegenerate, "title"},
		{"blank field is a full product", GenerationJobPayload{ProductID: 1, UserID: 2, Field: "  "}, models.WeightFullProduct, "full_product"},
		{"with integration", GenerationJobPayload{ProductID: 1, UserID: 2, IntegrationID: &integration, Field: "description"}, models.WeightFieldRegenerate, "description"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.weight, tt.in.Weight())
			assert.Equal(t, tt.key, tt.in.UsageKey())

			back, err := GenerationJobPayloadFromMap(tt.in.ToMap())
			require.NoError(t, err)
			assert.Equal(t, tt.in.ProductID, back.ProductID)
			assert.Equal(t, tt.in.UserID, back.UserID)
			assert.Equal(t, tt.in.IntegrationID, back.IntegrationID)
		})
	}
}

func TestJobStateTransitions(t *testing.T) {
	job := &Job{ID: "j", Status: JobStatusPending, MaxRetries: 2}
	assert.True(t, job.HasAttemptsLeft())

	job.MarkAsProcessing()
	assert.Equal(t, JobStatusProcessing, job.Status)
	require.NotNil(t, job.ProcessedAt)

	job.MarkAsFailed("boom")
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	assert.Equal(t, "boom", job.ErrorMsg)
	assert.False(t, job.HasAttemptsLeft())

	job.MarkAsRetrying()
	assert.Equal(t, JobStatusRetrying, job.Status)

	job.MarkAsFailed("boom again")
	assert.Equal(t, 2, job.RetryCount)

	job.MarkAsCompleted()
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Empty(t, job.ErrorMsg)
	assert.NotNil(t, job.CompletedAt)
}
