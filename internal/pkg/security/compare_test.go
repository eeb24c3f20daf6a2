package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenMatches(t *testing.T) {
	tests := []struct {
		name      string
		presented string
		expected  string
		want      bool
	}{
		{"equal", "s3cret", "s3cret", true},
		{"different", "s3cret", "other", false},
		{"prefix", "s3c", "s3cret", false},
		{"nothing configured", "", "", false},
		{"nothing presented", "", "s3cret", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TokenMatches(tt.presented, tt.expected))
		})
	}
}

func TestVerifyShopifyHMAC(t *testing.T) {
	body := []byte(`{"app_subscription":{"admin_graphql_api_id":"gid://shopify/AppSubscription/1"}}`)
	header := SignShopifyPayload(body, "shpss_secret")

	assert.True(t, VerifyShopifyHMAC(body, header, "shpss_secret"))
	assert.True(t, VerifyShopifyHMAC(body, " "+header+" ", "shpss_secret"))
	assert.False(t, VerifyShopifyHMAC(body, header, "other"))
	assert.False(t, VerifyShopifyHMAC(append(body, ' '), header, "shpss_secret"))
	assert.False(t, VerifyShopifyHMAC(body, "not base64!", "shpss_secret"))
	assert.False(t, VerifyShopifyHMAC(body, header, ""))
}
