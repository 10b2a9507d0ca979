package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Method records how a caller authenticated.
type Method string

const (
	MethodJWT         Method = "jwt"
	MethodAPIKey      Method = "api_key"
	MethodCertificate Method = "certificate"
)

// Token types carried in the "type" claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Claims is the signed token payload.
type Claims struct {
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	TokenType   string   `json:"type"`
	jwt.RegisteredClaims
}

// AuthUser is the transient identity handed to the gateway after a
// successful validation. It is never persisted.
type AuthUser struct {
	UserID      string   `json:"user_id"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	AuthMethod  Method   `json:"auth_method"`
	// JTI and ExpiresAt are set for jwt, APIKeyID for api_key.
	JTI       string    `json:"jti,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	APIKeyID  string    `json:"api_key_id,omitempty"`
}

// HasPermission checks the embedded permission snapshot. The snapshot may be
// stale until the next reissue; authoritative checks go through the rbac
// engine.
func (u AuthUser) HasPermission(resource, action string) bool {
	for _, p := range u.Permissions {
		res, act, ok := strings.Cut(p, ":")
		if !ok {
			continue
		}
		if (res == "*" || res == resource) && (act == "*" || act == action) {
			return true
		}
	}
	return false
}

// TokenPair bundles freshly minted credentials.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// RevokedToken is a blacklist row. ExpiresAt mirrors the token's own expiry
// so the row is prunable once the token would have died naturally.
type RevokedToken struct {
	JTI       string    `json:"jti"`
	UserID    string    `json:"user_id"`
	RevokedAt time.Time `json:"revoked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// APIKeyRecord is the persisted shape of an API key. KeyHash is the one-way
// hash of the raw key; the raw value is returned exactly once at creation
// and never stored.
type APIKeyRecord struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	KeyHash    string     `json:"-"`
	KeyPrefix  string     `json:"key_prefix"`
	Role       string     `json:"role"`
	UserID     string     `json:"user_id"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// APIKeySummary is the listing shape. It carries no hash by construction.
type APIKeySummary struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	KeyPrefix  string     `json:"key_prefix"`
	Role       string     `json:"role"`
	UserID     string     `json:"user_id"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}
