package controllers

import (
	"fmt"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/Turbopic/app/repository"
	"github.com/ManuelReschke/Turbopic/internal/pkg/billing"
	"github.com/ManuelReschke/Turbopic/internal/pkg/entitlements"
	"github.com/ManuelReschke/Turbopic/internal/pkg/jobqueue"
	"github.com/ManuelReschke/Turbopic/internal/pkg/usercontext"
)

func TestFormatTimePtr(t *testing.T) {
	assert.Nil(t, formatTimePtr(nil))

	now := time.Date(2024, 5, 1, 12, 34, 56, 0, time.Local)
	formatted := formatTimePtr(&now)
	assert.IsType(t, "", formatted)

	expected := now.UTC().Format(time.RFC3339)
	assert.Equal(t, expected, formatted)
}

func TestHandleGetUserAccount(t *testing.T) {
	f := newFixture(t)

	status, out := doJSON(t, f.app(f.asOwner()), fiber.MethodGet, "/account", nil, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "owner@example.com", out["email"])
	assert.Equal(t, usercontext.MethodIntegrationToken, out["auth_method"])
	assert.Equal(t, "demo.myshopify.com", out["shop_domain"])
	assert.Equal(t, 3.0, out["balance"].(map[string]any)["product_units"])

	status, out = doJSON(t, f.app(trustedCaller()), fiber.MethodGet, fmt.Sprintf("/account?userId=%d", f.other.ID), nil, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "other@example.com", out["email"])

	status, _ = doJSON(t, f.app(usercontext.UserContext{}), fiber.MethodGet, "/account", nil, nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = doJSON(t, f.app(trustedCaller()), fiber.MethodGet, "/account?userId=x", nil, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", billing.ErrInvalidEvent), fiber.StatusBadRequest},
		{entitlements.ErrInvalidRequest, fiber.StatusBadRequest},
		{billing.ErrUntrustedCaller, fiber.StatusUnauthorized},
		{errForbidden, fiber.StatusForbidden},
		{billing.ErrOwnerNotFound, fiber.StatusNotFound},
		{billing.ErrPlanNotFound, fiber.StatusNotFound},
		{fmt.Errorf("load: %w", repository.ErrNotFound), fiber.StatusNotFound},
		{entitlements.ErrInsufficientBalance, fiber.StatusPaymentRequired},
		{jobqueue.ErrLimitReached, fiber.StatusPaymentRequired},
		{entitlements.ErrConcurrentUpdate, fiber.StatusConflict},
		{errBoom, fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			got, _ := statusForError(tt.err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDateRange(t *testing.T) {
	now := time.Date(2025, 3, 14, 18, 30, 0, 0, time.UTC)
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		from, to, err := dateRange(c, now)
		if err != nil {
			return respondError(c, "Test", err)
		}
		return c.JSON(fiber.Map{"from": from.Format(time.RFC3339), "to": to.Format(time.RFC3339)})
	})

	tests := []struct {
		query    string
		from, to string
	}{
		{"", "2025-03-01T00:00:00Z", "2025-03-16T00:00:00Z"},
		{"?from=2025-01-01&to=2025-01-31", "2025-01-01T00:00:00Z", "2025-02-01T00:00:00Z"},
		{"?to=2025-03-01", "2025-03-01T00:00:00Z", "2025-03-02T00:00:00Z"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			status, out := doJSON(t, app, fiber.MethodGet, "/"+tt.query, nil, nil)
			require.Equal(t, fiber.StatusOK, status, out)
			assert.Equal(t, tt.from, out["from"])
			assert.Equal(t, tt.to, out["to"])
		})
	}
}
