package rotation

import "time"

// Source distinguishes secrets this platform mints from ones supplied by an
// operator or an external system.
type Source string

const (
	SourceInternal Source = "internal"
	SourceExternal Source = "external"
)

// Category groups secrets by what they protect.
type Category string

const (
	CategoryJWT          Category = "jwt"
	CategoryAuditSigning Category = "audit_signing"
	CategoryAPIKey       Category = "api_key"
	CategoryAdmin        Category = "admin"
	CategoryEncryption   Category = "encryption"
)

// Well-known secret names used by the control plane.
const (
	SecretTokenSigning = "token_secret"
	SecretAuditSigning = "audit_signing_key"
	SecretAdminHash    = "admin_password_hash"
)

// SecretMetadata tracks a secret's lifecycle without ever holding its value.
type SecretMetadata struct {
	Name                 string     `json:"name"`
	CreatedAt            time.Time  `json:"created_at"`
	ExpiresAt            *time.Time `json:"expires_at,omitempty"`
	RotatedAt            *time.Time `json:"rotated_at,omitempty"`
	RotationIntervalDays int        `json:"rotation_interval_days,omitempty"`
	AutoRotate           bool       `json:"auto_rotate"`
	Source               Source     `json:"source"`
	Category             Category   `json:"category"`
}

// PreviousValue is the one place a secret value is persisted: the outgoing
// value of a rotated secret, kept only until its grace expiry so restarted
// processes can keep honoring in-flight credentials.
type PreviousValue struct {
	Name      string    `json:"name"`
	Value     string    `json:"-"`
	StoredAt  time.Time `json:"stored_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func validSource(s Source) bool {
	return s == SourceInternal || s == SourceExternal
}

func validCategory(c Category) bool {
	switch c {
	case CategoryJWT, CategoryAuditSigning, CategoryAPIKey, CategoryAdmin, CategoryEncryption:
		return true
	}
	return false
}
