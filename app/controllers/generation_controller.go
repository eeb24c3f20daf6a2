package controllers

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Turbopic/app/models"
	"github.com/ManuelReschke/Turbopic/app/repository"
	"github.com/ManuelReschke/Turbopic/internal/pkg/jobqueue"
	"github.com/ManuelReschke/Turbopic/internal/pkg/usercontext"
)

type generationRequest struct {
	UserID    uint   `json:"userId"`
	ProductID uint   `json:"productId"`
	Field     string `json:"field"`
}

// HandleCreateGeneration enqueues a product generation after an advisory
// balance check. The worker repeats the check before generating.
func (h *Handlers) HandleCreateGeneration(c *fiber.Ctx) error {
	var req generationRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, "Generation", fmt.Errorf("%w: %v", errBadRequest, err))
	}
	if req.ProductID == 0 {
		return respondError(c, "Generation", fmt.Errorf("%w: productId is required", errBadRequest))
	}
	ctx := c.UserContext()

	product, err := h.repos.Product.GetByID(ctx, req.ProductID)
	if err != nil {
		return respondError(c, "Generation", err)
	}
	uc := usercontext.GetUserContext(c)
	requested := req.UserID
	if uc.Trusted && requested == 0 {
		requested = product.UserID
	}
	userID, err := targetUser(c, requested)
	if err != nil {
		return respondError(c, "Generation", err)
	}
	if product.UserID != userID {
		return respondError(c, "Generation", fmt.Errorf("product %d: %w", product.ID, repository.ErrNotFound))
	}

	payload := jobqueue.GenerationJobPayload{
		ProductID:     product.ID,
		UserID:        userID,
		IntegrationID: product.IntegrationID,
		Field:         req.Field,
	}
	if payload.IntegrationID == nil {
		payload.IntegrationID = uc.IntegrationID
	}

	if available := h.balance.Spendable(ctx, userID, models.UsageKindProductUnits); available < payload.Weight() {
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
			"error":     "limit_reached",
			"message":   jobqueue.LimitReachedMessage,
			"available": available,
			"required":  payload.Weight(),
		})
	}

	job, err := h.generations.Enqueue(ctx, payload)
	if err != nil {
		log.Errorf("[Generation] enqueue product %d: %v", product.ID, err)
		return errorResponse(c, fiber.StatusInternalServerError, "enqueue_failed", "Generation could not be queued")
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"jobId":     job.ID,
		"productId": product.ID,
		"status":    models.JobStatusPending,
		"weight":    payload.Weight(),
	})
}

// HandleGetGeneration returns the job status of a product for polling.
func (h *Handlers) HandleGetGeneration(c *fiber.Ctx) error {
	id, err := c.ParamsInt("productId")
	if err != nil || id <= 0 {
		return respondError(c, "Generation", fmt.Errorf("%w: invalid product id", errBadRequest))
	}
	product, err := h.repos.Product.GetByID(c.UserContext(), uint(id))
	if err != nil {
		return respondError(c, "Generation", err)
	}
	uc := usercontext.GetUserContext(c)
	if !uc.Trusted && product.UserID != uc.UserID {
		return respondError(c, "Generation", fmt.Errorf("product %d: %w", product.ID, repository.ErrNotFound))
	}
	return c.JSON(fiber.Map{
		"productId": product.ID,
		"status":    product.JobStatus,
		"error":     product.JobError,
		"updatedAt": formatTimePtr(&product.UpdatedAt),
	})
}
