package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Turbopic/app/repository"
	"github.com/ManuelReschke/Turbopic/internal/pkg/security"
	"github.com/ManuelReschke/Turbopic/internal/pkg/usercontext"
)

// ServiceTokenHeader carries the shared secret of trusted internal callers.
const ServiceTokenHeader = "X-Service-Token"

// Authenticate resolves the caller from the service token, an integration
// bearer token or Basic credentials, in that order. Requests without any of
// them are rejected with 401.
func Authenticate(repos *repository.Repositories, serviceToken string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if presented := c.Get(ServiceTokenHeader); presented != "" {
			if !serviceTokenValid(presented, serviceToken) {
				return unauthorized(c, "Invalid service token")
			}
			usercontext.SetUserContext(c, usercontext.UserContext{
				IsLoggedIn: true,
				Trusted:    true,
				Method:     usercontext.MethodServiceToken,
			})
			return c.Next()
		}

		if token := bearerToken(c); token != "" {
			return integrationTokenAuth(c, repos, token)
		}
		if email, password, ok := basicCredentials(c); ok {
			return basicAuth(c, repos, email, password)
		}
		return unauthorized(c, "Missing or invalid authentication")
	}
}

// RequireServiceToken only admits requests carrying the service token.
func RequireServiceToken(serviceToken string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !serviceTokenValid(c.Get(ServiceTokenHeader), serviceToken) {
			return unauthorized(c, "Service token required")
		}
		usercontext.SetUserContext(c, usercontext.UserContext{
			IsLoggedIn: true,
			Trusted:    true,
			Method:     usercontext.MethodServiceToken,
		})
		return c.Next()
	}
}

// RequireTrusted rejects callers that did not authenticate with the service token.
func RequireTrusted(c *fiber.Ctx) error {
	if !usercontext.IsTrusted(c) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":   "forbidden",
			"message": "trusted caller required",
		})
	}
	return c.Next()
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": msg})
}

// ShopifyHMACHeader is the header Shopify signs webhook bodies in.
const ShopifyHMACHeader = "X-Shopify-Hmac-Sha256"

// ShopifyWebhookAuth admits deliveries signed with the app secret as trusted
// and otherwise falls back to Authenticate. A present but invalid signature
// is rejected.
func ShopifyWebhookAuth(repos *repository.Repositories, serviceToken, apiSecret string) fiber.Handler {
	fallback := Authenticate(repos, serviceToken)
	return func(c *fiber.Ctx) error {
		header := c.Get(ShopifyHMACHeader)
		if header == "" {
			return fallback(c)
		}
		if !security.VerifyShopifyHMAC(c.Body(), header, apiSecret) {
			return unauthorized(c, "Invalid webhook signature")
		}
		usercontext.SetUserContext(c, usercontext.UserContext{
			IsLoggedIn: true,
			Trusted:    true,
			Method:     usercontext.MethodShopifyHMAC,
			ShopDomain: c.Get("X-Shopify-Shop-Domain"),
		})
		return c.Next()
	}
}
