package jobqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/Turbopic/app/models"
	"github.com/ManuelReschke/Turbopic/app/repository"
	"github.com/ManuelReschke/Turbopic/internal/pkg/entitlements"
)

type fakeGenerator struct {
	err    error
	calls  int
	fields []string
}

func (g *fakeGenerator) Generate(_ context.Context, _ *models.GeneratedProduct, field string) error {
	g.calls++
	g.fields = append(g.fields, field)
	return g.err
}

type generationFixture struct {
	repos   *repository.Repositories
	user    *models.User
	product *models.GeneratedProduct
	gen     *fakeGenerator
	proc    *GenerationProcessor
}

func newGenerationFixture(t *testing.T, freeUnits float64) *generationFixture {
	t.Helper()
	ctx := context.Background()
	f := &generationFixture{repos: repository.NewMemoryStore(), gen: &fakeGenerator{}}

	f.user = &models.User{Name: "merchant", Email: "merchant@example.com"}
	require.NoError(t, f.repos.User.Create(ctx, f.user))
	f.product = &models.GeneratedProduct{UserID: f.user.ID, Title: "Mug"}
	require.NoError(t, f.repos.Product.Create(ctx, f.product))

	f.proc = NewGenerationProcessor(
		f.repos,
		entitlements.NewCalculator(f.repos, freeUnits),
		entitlements.NewEngine(f.repos, entitlements.EngineConfig{MaxAttempts: 3}),
		f.gen,
	)
	return f
}

func (f *generationFixture) job(field string) *Job {
	return &Job{
		ID:         "job-1",
		Type:       JobTypeGenerateProduct,
		Payload:    GenerationJobPayload{ProductID: f.product.ID, UserID: f.user.ID, Field: field}.ToMap(),
		MaxRetries: DefaultMaxAttempts,
	}
}

func (f *generationFixture) productStatus(t *testing.T) (string, string) {
	t.Helper()
	p, err := f.repos.Product.GetByID(context.Background(), f.product.ID)
	require.NoError(t, err)
	return p.JobStatus, p.JobError
}

func (f *generationFixture) usage(t *testing.T) []models.ProductUsage {
	t.Helper()
	from, to := entitlements.MonthBounds(time.Now())
	rows, err := f.repos.Usage.ListProductUsage(context.Background(), f.user.ID, from, to)
	require.NoError(t, err)
	return rows
}

func TestGenerationProcessorRecordsUsage(t *testing.T) {
	f := newGenerationFixture(t, 3)
	ctx := context.Background()

	require.NoError(t, f.proc.Process(ctx, f.job("")))
	require.NoError(t, f.proc.Process(ctx, f.job("title")))

	status, _ := f.productStatus(t)
	assert.Equal(t, models.JobStatusCompleted, status)
	assert.Equal(t, []string{"", "title"}, f.gen.fields)

	rows := f.usage(t)
	require.Len(t, rows, 2)
	assert.Equal(t, models.UsageKeyFullProduct, rows[0].Key)
	assert.Equal(t, 1.0, rows[0].Weight)
	assert.Equal(t, "title", rows[1].Key)
	assert.Equal(t, 0.1, rows[1].Weight)
	assert.Equal(t, "job-1", rows[1].JobID)
	require.NotNil(t, rows[1].ProductID)
	assert.Equal(t, f.product.ID, *rows[1].ProductID)
}

func TestGenerationProcessorLimitReached(t *testing.T) {
	f := newGenerationFixture(t, 0)
	ctx := context.Background()
	job := f.job("")

	err := f.proc.Process(ctx, job)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLimitReached)
	assert.ErrorIs(t, err, ErrPermanent)
	assert.Zero(t, f.gen.calls)
	assert.Empty(t, f.usage(t))

	f.proc.Fail(ctx, job, err)
	status, msg := f.productStatus(t)
	assert.Equal(t, models.JobStatusFailed, status)
	assert.Equal(t, LimitReachedMessage, msg)
}

func TestGenerationProcessorWeightAgainstOneTimeUnits(t *testing.T) {
	f := newGenerationFixture(t, 0)
	ctx := context.Background()
	require.NoError(t, f.repos.User.UpdateOneTimeBalance(ctx, f.user.ID, f.user.BalanceVersion, 0, 0.1))

	err := f.proc.Process(ctx, f.job(""))
	assert.ErrorIs(t, err, ErrLimitReached, "a full product needs 1.0")

	require.NoError(t, f.proc.Process(ctx, f.job("description")))
	u, err := f.repos.User.GetByID(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Zero(t, u.OneTimeProductUnits)
}

func TestGenerationProcessorFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("generator error is retryable", func(t *testing.T) {
		f := newGenerationFixture(t, 3)
		f.gen.err = errors.New("upstream timeout")

		err := f.proc.Process(ctx, f.job(""))
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrPermanent)
		assert.Empty(t, f.usage(t))

		status, _ := f.productStatus(t)
		assert.Equal(t, models.JobStatusPending, status)

		f.proc.Fail(ctx, f.job(""), err)
		status, msg := f.productStatus(t)
		assert.Equal(t, models.JobStatusFailed, status)
		assert.Contains(t, msg, "upstream timeout")
	})

	t.Run("missing product is permanent", func(t *testing.T) {
		f := newGenerationFixture(t, 3)
		job := &Job{ID: "j", Payload: GenerationJobPayload{ProductID: 999, UserID: f.user.ID}.ToMap()}
		assert.ErrorIs(t, f.proc.Process(ctx, job), ErrPermanent)
	})

	t.Run("empty payload is permanent", func(t *testing.T) {
		f := newGenerationFixture(t, 3)
		assert.ErrorIs(t, f.proc.Process(ctx, &Job{ID: "j", Payload: map[string]interface{}{}}), ErrPermanent)
	})
}
