package usercontext

import "github.com/gofiber/fiber/v2"

// UserContext represents the authenticated caller of a request. Trusted
// callers (the service token) may act on behalf of any user.
type UserContext struct {
	UserID        uint   `json:"user_id"`
	Username      string `json:"username"`
	IsLoggedIn    bool   `json:"is_logged_in"`
	Trusted       bool   `json:"trusted"`
	Method        string `json:"method"`
	IntegrationID *uint  `json:"integration_id,omitempty"`
	ShopDomain    string `json:"shop_domain,omitempty"`
}

// GetUserContext retrieves the user context from fiber context
// Returns a default anonymous context if none is set
func GetUserContext(c *fiber.Ctx) UserContext {
	if ctx, ok := c.Locals(KeyUserContext).(UserContext); ok {
		return ctx
	}
	return UserContext{}
}

// SetUserContext stores the caller on the request.
func SetUserContext(c *fiber.Ctx, uc UserContext) {
	c.Locals(KeyUserContext, uc)
	c.Locals(KeyUserID, uc.UserID)
	c.Locals(KeyTrusted, uc.Trusted)
}

// IsLoggedIn checks if the current caller is authenticated
func IsLoggedIn(c *fiber.Ctx) bool {
	return GetUserContext(c).IsLoggedIn
}

// IsTrusted checks if the current caller holds the service token
func IsTrusted(c *fiber.Ctx) bool {
	return GetUserContext(c).Trusted
}

// GetUserID returns the current user's ID, or 0 if not logged in
func GetUserID(c *fiber.Ctx) uint {
	return GetUserContext(c).UserID
}
