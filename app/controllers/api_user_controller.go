package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Turbopic/internal/pkg/usercontext"
)

// HandleGetUserAccount returns account information for the authenticated caller.
func (h *Handlers) HandleGetUserAccount(c *fiber.Ctx) error {
	userID, err := queryUser(c)
	if err != nil {
		return respondError(c, "Account", err)
	}
	ctx := c.UserContext()
	account, err := h.repos.User.GetByID(ctx, userID)
	if err != nil {
		return respondError(c, "Account", err)
	}

	uc := usercontext.GetUserContext(c)
	units := h.balance.AvailableProductUnits(ctx, userID)
	response := fiber.Map{
		"id":            account.ID,
		"name":          account.Name,
		"email":         account.Email,
		"status":        account.Status,
		"created_at":    account.CreatedAt.UTC().Format(time.RFC3339),
		"last_login_at": formatTimePtr(account.LastLoginAt),
		"auth_method":   uc.Method,
		"shop_domain":   uc.ShopDomain,
		"balance": fiber.Map{
			"tokens":                 h.balance.AvailableTokens(ctx, userID),
			"one_time_tokens":        account.OneTimeTokens,
			"product_units":          units.Available,
			"product_units_used":     units.Usage,
			"one_time_product_units": units.OneTimeUnits,
		},
	}
	return c.JSON(response)
}
