package jobqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Turbopic/app/models"
	"github.com/ManuelReschke/Turbopic/app/repository"
	"github.com/ManuelReschke/Turbopic/internal/pkg/entitlements"
)

// LimitReachedMessage is stored on a product whose owner ran out of product units.
const LimitReachedMessage = "limit reached"

// ErrLimitReached is returned when the owner cannot afford the job's weight.
var ErrLimitReached = errors.New("product unit limit reached")

// Generator produces the listing fields of a product. An empty field
// regenerates the whole product.
type Generator interface {
	Generate(ctx context.Context, product *models.GeneratedProduct, field string) error
}

// GenerationProcessor runs product generation jobs: balance pre-check,
// generation, then the product-usage ledger entry.
type GenerationProcessor struct {
	repos     *repository.Repositories
	balance   *entitlements.Calculator
	engine    *entitlements.Engine
	generator Generator
}

// NewGenerationProcessor wires a processor for JobTypeGenerateProduct.
func NewGenerationProcessor(repos *repository.Repositories, balance *entitlements.Calculator, engine *entitlements.Engine, generator Generator) *GenerationProcessor {
	return &GenerationProcessor{repos: repos, balance: balance, engine: engine, generator: generator}
}

// Process implements Processor.
func (p *GenerationProcessor) Process(ctx context.Context, job *Job) error {
	payload, err := GenerationJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, ErrPermanent)
	}
	if payload.ProductID == 0 || payload.UserID == 0 {
		return fmt.Errorf("payload without product or user: %w", ErrPermanent)
	}

	product, err := p.repos.Product.GetByID(ctx, payload.ProductID)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("product %d: %w: %w", payload.ProductID, err, ErrPermanent)
	}
	if err != nil {
		return fmt.Errorf("load product %d: %w", payload.ProductID, err)
	}

	weight := payload.Weight()
	if available := p.balance.Spendable(ctx, payload.UserID, models.UsageKindProductUnits); available < weight {
		log.Infof("[Generation] user %d: %.4f product units available, %.1f required", payload.UserID, available, weight)
		return fmt.Errorf("%w: %w", ErrLimitReached, ErrPermanent)
	}

	if err := p.repos.Product.UpdateJobStatus(ctx, product.ID, models.JobStatusPending, ""); err != nil {
		return fmt.Errorf("mark product %d pending: %w", product.ID, err)
	}

	if err := p.generator.Generate(ctx, product, payload.Field); err != nil {
		return fmt.Errorf("generate product %d: %w", product.ID, err)
	}

	productID := product.ID
	if _, err := p.engine.RecordProductUsage(ctx, payload.UserID, weight, entitlements.UsageContext{
		ProductID:     &productID,
		IntegrationID: payload.IntegrationID,
		Action:        payload.UsageKey(),
		JobID:         job.ID,
	}); err != nil {
		return fmt.Errorf("record product usage for product %d: %w", product.ID, err)
	}

	if err := p.repos.Product.UpdateJobStatus(ctx, product.ID, models.JobStatusCompleted, ""); err != nil {
		return fmt.Errorf("mark product %d completed: %w", product.ID, err)
	}
	log.Infof("[Generation] product %d generated (%s, weight %.1f)", product.ID, payload.UsageKey(), weight)
	return nil
}

// Fail implements Processor.
func (p *GenerationProcessor) Fail(ctx context.Context, job *Job, cause error) {
	payload, err := GenerationJobPayloadFromMap(job.Payload)
	if err != nil || payload.ProductID == 0 {
		return
	}
	msg := cause.Error()
	if errors.Is(cause, ErrLimitReached) {
		msg = LimitReachedMessage
	}
	if err := p.repos.Product.UpdateJobStatus(ctx, payload.ProductID, models.JobStatusFailed, msg); err != nil {
		log.Errorf("[Generation] mark product %d failed: %v", payload.ProductID, err)
	}
}

var payloadValidator = validator.New()

// EnqueueGeneration marks the product pending and enqueues its generation job.
// The product is marked failed when the job cannot be enqueued.
func EnqueueGeneration(ctx context.Context, q *Queue, products repository.GeneratedProductRepository, payload GenerationJobPayload) (*Job, error) {
	if err := payloadValidator.Struct(payload); err != nil {
		return nil, fmt.Errorf("invalid generation payload: %w", err)
	}

	if err := products.UpdateJobStatus(ctx, payload.ProductID, models.JobStatusPending, ""); err != nil {
		return nil, fmt.Errorf("mark product %d pending: %w", payload.ProductID, err)
	}

	job, err := q.EnqueueJob(ctx, JobTypeGenerateProduct, payload.ToMap())
	if err != nil {
		if statusErr := products.UpdateJobStatus(ctx, payload.ProductID, models.JobStatusFailed, err.Error()); statusErr != nil {
			log.Errorf("[Generation] Additionally failed to mark product %d failed: %v", payload.ProductID, statusErr)
		}
		return nil, fmt.Errorf("enqueue generation of product %d: %w", payload.ProductID, err)
	}
	return job, nil
}

// Generations enqueues product generations on a queue.
type Generations struct {
	queue    *Queue
	products repository.GeneratedProductRepository
}

// NewGenerations binds EnqueueGeneration to a queue and product store.
func NewGenerations(q *Queue, products repository.GeneratedProductRepository) *Generations {
	return &Generations{queue: q, products: products}
}

// Enqueue marks the product pending and enqueues its generation job.
func (g *Generations) Enqueue(ctx context.Context, payload GenerationJobPayload) (*Job, error) {
	return EnqueueGeneration(ctx, g.queue, g.products, payload)
}
