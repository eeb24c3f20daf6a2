package middleware

import (
	"encoding/base64"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Turbopic/app/models"
	"github.com/ManuelReschke/Turbopic/app/repository"
	"github.com/ManuelReschke/Turbopic/internal/pkg/security"
	"github.com/ManuelReschke/Turbopic/internal/pkg/usercontext"
)

func serviceTokenValid(presented, expected string) bool {
	return security.TokenMatches(strings.TrimSpace(presented), expected)
}

// integrationTokenAuth authenticates a shop-side caller by the hash of its
// integration token.
func integrationTokenAuth(c *fiber.Ctx, repos *repository.Repositories, token string) error {
	integration, err := repos.Integration.GetByTokenHash(c.UserContext(), models.HashToken(token))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return unauthorized(c, "Invalid API token")
		}
		log.Errorf("[Auth] integration token lookup failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Token verification failed"})
	}
	if !integration.HasActiveToken() {
		return unauthorized(c, "Invalid API token")
	}

	user, err := repos.User.GetByID(c.UserContext(), integration.UserID)
	if err != nil {
		log.Errorf("[Auth] owner %d of integration %d not loadable: %v", integration.UserID, integration.ID, err)
		return unauthorized(c, "Invalid API token")
	}
	if !user.IsActive() {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "User inactive"})
	}

	// Refresh last-used timestamp best-effort.
	if err := repos.Integration.TouchToken(c.UserContext(), integration.ID); err != nil {
		log.Warnf("[Auth] failed to update token usage timestamp for integration %d: %v", integration.ID, err)
	}

	integrationID := integration.ID
	usercontext.SetUserContext(c, usercontext.UserContext{
		UserID:        user.ID,
		Username:      user.Name,
		IsLoggedIn:    true,
		Method:        usercontext.MethodIntegrationToken,
		IntegrationID: &integrationID,
		ShopDomain:    integration.ShopDomain,
	})
	return c.Next()
}

// basicAuth authenticates a user by email and bcrypt password hash.
func basicAuth(c *fiber.Ctx, repos *repository.Repositories, email, password string) error {
	user, err := repos.User.GetByEmail(c.UserContext(), strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			log.Errorf("[Auth] user lookup failed: %v", err)
		}
		return unauthorized(c, "Invalid credentials")
	}
	if user.Password == "" || !user.CheckPassword(password) {
		return unauthorized(c, "Invalid credentials")
	}
	if !user.IsActive() {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "User inactive"})
	}

	usercontext.SetUserContext(c, usercontext.UserContext{
		UserID:     user.ID,
		Username:   user.Name,
		IsLoggedIn: true,
		Method:     usercontext.MethodBasic,
	})
	return c.Next()
}

func bearerToken(c *fiber.Ctx) string {
	auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func basicCredentials(c *fiber.Ctx) (string, string, bool) {
	auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if len(auth) <= 6 || !strings.EqualFold(auth[:6], "basic ") {
		return "", "", false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(auth[6:]))
	if err != nil {
		return "", "", false
	}
	email, password, ok := strings.Cut(string(raw), ":")
	if !ok || email == "" {
		return "", "", false
	}
	return email, password, true
}
