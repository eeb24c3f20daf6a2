// Package generator hands product generation to the external AI pipeline.
package generator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Turbopic/app/models"
	"github.com/ManuelReschke/Turbopic/internal/pkg/jobqueue"
)

// ErrNotConfigured is returned by Disabled.
var ErrNotConfigured = errors.New("generation pipeline is not configured")

// Config points at the pipeline endpoint.
type Config struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// HTTP posts generation requests to the pipeline and waits for its verdict.
// The pipeline writes the generated fields itself.
type HTTP struct {
	cfg Config
}

// New returns an HTTP generator, or Disabled when no URL is configured.
func New(cfg Config) jobqueue.Generator {
	if cfg.URL == "" {
		return Disabled{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &HTTP{cfg: cfg}
}

type generateRequest struct {
	ProductID     uint   `json:"productId"`
	UserID        uint   `json:"userId"`
	IntegrationID *uint  `json:"integrationId,omitempty"`
	Field         string `json:"field,omitempty"`
	Title         string `json:"title"`
	ImageURL      string `json:"imageUrl"`
}

// Generate implements jobqueue.Generator. 4xx answers are permanent; network
// failures and 5xx answers are retried by the queue.
func (g *HTTP) Generate(ctx context.Context, product *models.GeneratedProduct, field string) error {
	timeout := g.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	agent := fiber.Post(g.cfg.URL)
	if g.cfg.Token != "" {
		agent.Set(fiber.HeaderAuthorization, "Bearer "+g.cfg.Token)
	}
	agent.JSON(generateRequest{
		ProductID:     product.ID,
		UserID:        product.UserID,
		IntegrationID: product.IntegrationID,
		Field:         field,
		Title:         product.Title,
		ImageURL:      product.ImageURL,
	})
	agent.Timeout(timeout)

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("call generation pipeline: %w", errors.Join(errs...))
	}
	switch {
	case code >= fiber.StatusInternalServerError || code == fiber.StatusTooManyRequests:
		return fmt.Errorf("generation pipeline answered %d: %s", code, truncate(body))
	case code >= fiber.StatusBadRequest:
		return fmt.Errorf("generation pipeline rejected product %d with %d: %s: %w", product.ID, code, truncate(body), jobqueue.ErrPermanent)
	}
	log.Debugf("[Generator] product %d accepted by pipeline (%d)", product.ID, code)
	return nil
}

// Disabled fails every job permanently.
type Disabled struct{}

// Generate implements jobqueue.Generator.
func (Disabled) Generate(context.Context, *models.GeneratedProduct, string) error {
	return fmt.Errorf("%w: %w", ErrNotConfigured, jobqueue.ErrPermanent)
}

func truncate(b []byte) string {
	const limit = 200
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
