package controllers

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Turbopic/app/models"
	"github.com/ManuelReschke/Turbopic/app/repository"
	"github.com/ManuelReschke/Turbopic/internal/pkg/entitlements"
	"github.com/ManuelReschke/Turbopic/internal/pkg/usercontext"
)

// HandleGetBalance returns the token and product-unit position of a user.
func (h *Handlers) HandleGetBalance(c *fiber.Ctx) error {
	userID, err := queryUser(c)
	if err != nil {
		return respondError(c, "Balance", err)
	}
	ctx := c.UserContext()
	units := h.balance.AvailableProductUnits(ctx, userID)
	return c.JSON(fiber.Map{
		"userId": userID,
		"tokens": fiber.Map{
			"available":    h.balance.AvailableTokens(ctx, userID),
			"distribution": h.balance.TokenDistribution(ctx, userID),
		},
		"productUnits": fiber.Map{
			"usedThisMonth": units.Usage,
			"available":     units.Available,
			"oneTimeUnits":  units.OneTimeUnits,
		},
	})
}

type deductRequest struct {
	UserID  uint                      `json:"userId"`
	Amount  float64                   `json:"amount"`
	Kind    models.UsageKind          `json:"kind"`
	Context entitlements.UsageContext `json:"context"`
}

// HandleDeduct consumes tokens or product units. Insufficient balance is
// not an error unless strict mode is enabled.
func (h *Handlers) HandleDeduct(c *fiber.Ctx) error {
	var req deductRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, "Deduction", fmt.Errorf("%w: %v", errBadRequest, err))
	}
	userID, err := targetUser(c, req.UserID)
	if err != nil {
		return respondError(c, "Deduction", err)
	}

	uc := usercontext.GetUserContext(c)
	if req.Context.IntegrationID == nil && uc.IntegrationID != nil {
		req.Context.IntegrationID = uc.IntegrationID
	}

	receipt, err := h.engine.Deduct(c.UserContext(), entitlements.Request{
		UserID:  userID,
		Amount:  req.Amount,
		Kind:    req.Kind,
		Context: req.Context,
	})
	if err != nil {
		return respondError(c, "Deduction", err)
	}
	return c.JSON(receipt)
}

// HandleTokenUsage lists the token ledger of a user in a date range.
func (h *Handlers) HandleTokenUsage(c *fiber.Ctx) error {
	userID, err := queryUser(c)
	if err != nil {
		return respondError(c, "Usage", err)
	}
	from, to, err := dateRange(c, h.now())
	if err != nil {
		return respondError(c, "Usage", err)
	}
	rows, err := h.repos.Usage.ListTokenUsage(c.UserContext(), userID, from, to)
	if err != nil {
		return respondError(c, "Usage", err)
	}
	var total float64
	for _, r := range rows {
		total += r.TokensUsed
	}
	return c.JSON(fiber.Map{"from": from, "to": to, "total": total, "usage": rows})
}

// HandleProductUsage lists the product-unit ledger of a user in a date
// range. Rows are flagged currentShop when they belong to the requested shop.
func (h *Handlers) HandleProductUsage(c *fiber.Ctx) error {
	userID, err := queryUser(c)
	if err != nil {
		return respondError(c, "Usage", err)
	}
	from, to, err := dateRange(c, h.now())
	if err != nil {
		return respondError(c, "Usage", err)
	}
	ctx := c.UserContext()
	rows, err := h.repos.Usage.ListProductUsage(ctx, userID, from, to)
	if err != nil {
		return respondError(c, "Usage", err)
	}

	shop := c.Query("shop", usercontext.GetUserContext(c).ShopDomain)
	if shop != "" {
		integration, err := h.repos.Integration.GetByShopDomain(ctx, models.NormalizeShopDomain(shop))
		switch {
		case err == nil:
			for i := range rows {
				rows[i].CurrentShop = rows[i].IntegrationID != nil && *rows[i].IntegrationID == integration.ID
			}
		case !errors.Is(err, repository.ErrNotFound):
			log.Warnf("[Usage] resolve shop %s: %v", shop, err)
		}
	}

	var total float64
	for _, r := range rows {
		total += r.Weight
	}
	return c.JSON(fiber.Map{"from": from, "to": to, "total": total, "usage": rows})
}

// HandlePayments lists the payment log of a user in a date range.
func (h *Handlers) HandlePayments(c *fiber.Ctx) error {
	userID, err := queryUser(c)
	if err != nil {
		return respondError(c, "Payments", err)
	}
	from, to, err := dateRange(c, h.now())
	if err != nil {
		return respondError(c, "Payments", err)
	}
	rows, err := h.repos.Payment.ListByUser(c.UserContext(), userID, from, to)
	if err != nil {
		return respondError(c, "Payments", err)
	}
	return c.JSON(fiber.Map{"from": from, "to": to, "payments": rows})
}
