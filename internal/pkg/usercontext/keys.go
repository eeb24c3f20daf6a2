package usercontext

// Shared Locals keys used across controllers and middlewares
const (
	KeyUserContext = "USER_CONTEXT"
	KeyUserID      = "user_id"
	KeyTrusted     = "trusted"
)

// Authentication methods recorded on the context.
const (
	MethodServiceToken     = "service_token"
	MethodIntegrationToken = "integration_token"
	MethodBasic            = "basic"
	MethodShopifyHMAC      = "shopify_hmac"
)
