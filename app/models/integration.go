package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Integration links a user to a connected Shopify shop and carries the API
// token that shop-side callers authenticate with.
type Integration struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	UserID          uint       `gorm:"not null;index" json:"user_id"`
	ShopDomain      string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"shop_domain"`
	ShopGID         string     `gorm:"type:varchar(191);default:'';index" json:"shop_gid"`
	Email           string     `gorm:"type:varchar(200);default:'';index" json:"email"`
	TokenHash       string     `gorm:"type:char(64);default:'';index" json:"-"`
	TokenPrefix     string     `gorm:"type:varchar(20);default:''" json:"token_prefix"`
	TokenCreatedAt  *time.Time `json:"token_created_at"`
	TokenLastUsedAt *time.Time `json:"token_last_used_at"`
	TokenRevokedAt  *time.Time `json:"token_revoked_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

var tokenEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

const integrationTokenPrefix = "tp_"

// HasActiveToken reports whether the integration has a usable API token.
func (in *Integration) HasActiveToken() bool {
	return in != nil && in.TokenHash != "" && in.TokenRevokedAt == nil
}

// IssueToken generates a new API token, stores its hash on the struct and
// returns the raw secret. Callers persist the struct afterwards.
func (in *Integration) IssueToken() (string, error) {
	raw, prefix, hash, err := generateTokenMaterial()
	if err != nil {
		return "", err
	}
	now := time.Now()
	in.TokenHash = hash
	in.TokenPrefix = prefix
	in.TokenCreatedAt = &now
	in.TokenRevokedAt = nil
	in.TokenLastUsedAt = nil
	return raw, nil
}

// RevokeToken clears the token metadata without deleting the record.
func (in *Integration) RevokeToken() {
	in.TokenHash = ""
	in.TokenPrefix = ""
	now := time.Now()
	in.TokenRevokedAt = &now
	in.TokenLastUsedAt = nil
}

// TouchTokenUsage updates the last-used timestamp.
func (in *Integration) TouchTokenUsage() {
	now := time.Now()
	in.TokenLastUsedAt = &now
}

// HashToken returns the SHA-256 hash for the provided token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}

// NormalizeShopDomain lowercases a shop domain and strips any scheme or path.
func NormalizeShopDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	if i := strings.IndexByte(d, '/'); i >= 0 {
		d = d[:i]
	}
	return d
}

func generateTokenMaterial() (string, string, string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", "", err
	}
	encoded := strings.ToLower(tokenEncoding.EncodeToString(b))
	raw := integrationTokenPrefix + encoded
	if len(raw) < 12 {
		return "", "", "", fmt.Errorf("token generation failed: key too short")
	}
	prefix := raw[:min(len(raw), 16)]
	return raw, prefix, HashToken(raw), nil
}
