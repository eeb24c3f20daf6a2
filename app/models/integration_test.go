package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegrationIssueToken(t *testing.T) {
	in := &Integration{UserID: 1, ShopDomain: "demo.myshopify.com"}

	token, err := in.IssueToken()
	require.NoError(t, err)
	require.NotEmpty(t, token)

	assert.True(t, len(token) > 16)
	assert.Equal(t, token[:16], in.TokenPrefix)
	assert.NotNil(t, in.TokenCreatedAt)
	assert.Nil(t, in.TokenLastUsedAt)
	assert.True(t, in.HasActiveToken())
	assert.Equal(t, HashToken(token), in.TokenHash)
}

func TestIntegrationRevokeToken(t *testing.T) {
	in := &Integration{UserID: 99}
	_, err := in.IssueToken()
	require.NoError(t, err)

	in.RevokeToken()

	assert.False(t, in.HasActiveToken())
	assert.Equal(t, "", in.TokenHash)
	assert.Equal(t, "", in.TokenPrefix)
	assert.NotNil(t, in.TokenRevokedAt)
}

func TestNormalizeShopDomain(t *testing.T) {
	cases := map[string]string{
		"Demo.MyShopify.com":               "demo.myshopify.com",
		"https://demo.myshopify.com/admin": "demo.myshopify.com",
		"  http://shop.example  ":          "shop.example",
	}
	for in, want := range cases {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, NormalizeShopDomain(in))
		})
	}
}
