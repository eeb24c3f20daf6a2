package controllers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Turbopic/internal/pkg/permissions"
)

// HandleGetPermissions returns the effective category -> key map of a user.
func (h *Handlers) HandleGetPermissions(c *fiber.Ctx) error {
	userID, err := queryUser(c)
	if err != nil {
		return respondError(c, "Permissions", err)
	}
	set, err := h.permissions.Effective(c.UserContext(), userID)
	if err != nil {
		return respondError(c, "Permissions", err)
	}
	return c.JSON(fiber.Map{"userId": userID, "permissions": set.Strings()})
}

// HandleCheckPermission answers ?key=category:attr:value with optional
// exact value or numeric minimum.
func (h *Handlers) HandleCheckPermission(c *fiber.Ctx) error {
	userID, err := queryUser(c)
	if err != nil {
		return respondError(c, "Permissions", err)
	}
	key := strings.TrimSpace(c.Query("key"))
	if key == "" {
		return respondError(c, "Permissions", fmt.Errorf("%w: key is required", errBadRequest))
	}

	var opts permissions.Options
	if v, ok := queryValue(c, "value"); ok {
		opts.ExactValue = &v
	}
	if raw, ok := queryValue(c, "min"); ok {
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return respondError(c, "Permissions", fmt.Errorf("%w: invalid min %q", errBadRequest, raw))
		}
		opts.MinValue = &n
	}

	granted, err := h.permissions.Has(c.UserContext(), userID, key, opts)
	if err != nil {
		return respondError(c, "Permissions", err)
	}
	return c.JSON(fiber.Map{"userId": userID, "key": key, "granted": granted})
}

// HandleGetPermissionValue returns the value segment of one category.
func (h *Handlers) HandleGetPermissionValue(c *fiber.Ctx) error {
	userID, err := queryUser(c)
	if err != nil {
		return respondError(c, "Permissions", err)
	}
	category := c.Params("category")
	value, ok, err := h.permissions.Value(c.UserContext(), userID, category)
	if err != nil {
		return respondError(c, "Permissions", err)
	}
	if !ok {
		return errorResponse(c, fiber.StatusNotFound, "not_found", "No permission for category "+category)
	}
	return c.JSON(fiber.Map{"userId": userID, "category": category, "value": value})
}

func queryValue(c *fiber.Ctx, name string) (string, bool) {
	v := strings.TrimSpace(c.Query(name))
	return v, v != ""
}
