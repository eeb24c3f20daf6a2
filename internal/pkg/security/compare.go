// Package security holds the secret comparisons used by the request authenticators.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strings"
)

// TokenMatches compares a presented secret with the configured one in
// constant time. An empty configured secret never matches.
func TokenMatches(presented, expected string) bool {
	if expected == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}

// SignShopifyPayload returns the base64 HMAC-SHA256 of body, the value Shopify
// sends in X-Shopify-Hmac-Sha256.
func SignShopifyPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyShopifyHMAC checks the X-Shopify-Hmac-Sha256 header of a webhook.
func VerifyShopifyHMAC(body []byte, header, secret string) bool {
	if secret == "" {
		return false
	}
	got, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header))
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
