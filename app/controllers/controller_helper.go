package controllers

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Turbopic/app/repository"
	"github.com/ManuelReschke/Turbopic/internal/pkg/billing"
	"github.com/ManuelReschke/Turbopic/internal/pkg/entitlements"
	"github.com/ManuelReschke/Turbopic/internal/pkg/jobqueue"
	"github.com/ManuelReschke/Turbopic/internal/pkg/permissions"
	"github.com/ManuelReschke/Turbopic/internal/pkg/usercontext"
)

const dateLayout = "2006-01-02"

var (
	errBadRequest = errors.New("bad request")
	errForbidden  = errors.New("forbidden")
)

// errorResponse writes the JSON error body used by every endpoint.
func errorResponse(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}

// statusForError maps domain errors onto HTTP status codes.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, billing.ErrInvalidEvent),
		errors.Is(err, entitlements.ErrInvalidRequest),
		errors.Is(err, permissions.ErrInvalidKey):
		return fiber.StatusBadRequest, "bad_request"
	case errors.Is(err, billing.ErrUntrustedCaller), errors.Is(err, billing.ErrInvalidSignature):
		return fiber.StatusUnauthorized, "unauthorized"
	case errors.Is(err, errForbidden):
		return fiber.StatusForbidden, "forbidden"
	case errors.Is(err, billing.ErrOwnerNotFound),
		errors.Is(err, billing.ErrPlanNotFound),
		errors.Is(err, billing.ErrSubscriptionNotFound),
		errors.Is(err, repository.ErrNotFound):
		return fiber.StatusNotFound, "not_found"
	case errors.Is(err, entitlements.ErrInsufficientBalance), errors.Is(err, jobqueue.ErrLimitReached):
		return fiber.StatusPaymentRequired, "limit_reached"
	case errors.Is(err, entitlements.ErrConcurrentUpdate):
		return fiber.StatusConflict, "conflict"
	}
	return fiber.StatusInternalServerError, "internal_server_error"
}

// respondError logs server-side failures and writes the mapped status.
func respondError(c *fiber.Ctx, component string, err error) error {
	status, code := statusForError(err)
	if status >= fiber.StatusInternalServerError {
		log.Errorf("[%s] %s %s: %v", component, c.Method(), c.Path(), err)
	}
	return errorResponse(c, status, code, err.Error())
}

// targetUser resolves whose balance a request addresses. Trusted callers must
// name the user; everyone else acts on themselves.
func targetUser(c *fiber.Ctx, requested uint) (uint, error) {
	uc := usercontext.GetUserContext(c)
	if uc.Trusted {
		if requested == 0 {
			return 0, fmt.Errorf("%w: userId is required", errBadRequest)
		}
		return requested, nil
	}
	if !uc.IsLoggedIn || uc.UserID == 0 {
		return 0, billing.ErrUntrustedCaller
	}
	if requested != 0 && requested != uc.UserID {
		return 0, fmt.Errorf("%w: cannot act on another user", errForbidden)
	}
	return uc.UserID, nil
}

// queryUser reads the userId query parameter and resolves the target user.
func queryUser(c *fiber.Ctx) (uint, error) {
	raw := strings.TrimSpace(c.Query("userId"))
	if raw == "" {
		return targetUser(c, 0)
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid userId %q", errBadRequest, raw)
	}
	return targetUser(c, uint(id))
}

// dateRange parses the day-inclusive from/to query parameters into a
// half-open [from, to) interval. The defaults run from the first day of the
// current month to the end of tomorrow.
func dateRange(c *fiber.Ctx, now time.Time) (time.Time, time.Time, error) {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := today.AddDate(0, 0, 2)

	if raw := strings.TrimSpace(c.Query("from")); raw != "" {
		d, err := time.Parse(dateLayout, raw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: invalid from date %q", errBadRequest, raw)
		}
		from = d
	}
	if raw := strings.TrimSpace(c.Query("to")); raw != "" {
		d, err := time.Parse(dateLayout, raw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: invalid to date %q", errBadRequest, raw)
		}
		to = d.AddDate(0, 0, 1)
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: from must not be after to", errBadRequest)
	}
	return from, to, nil
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
