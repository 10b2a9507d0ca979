package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

const (
	defaultKeyPrefix = "sck"
	keySecretBytes   = 32
	displayPrefixLen = 10
)

// generateAPIKey mints a raw key of the form <prefix>_<secret> where the
// secret is 32 random bytes, base64url encoded. Returns the raw key, its
// display prefix and the hash stored for lookup.
func generateAPIKey(prefix string) (raw, displayPrefix, hash string, err error) {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	secret := make([]byte, keySecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", "", "", err
	}
	raw = prefix + "_" + base64.RawURLEncoding.EncodeToString(secret)
	return raw, keyDisplayPrefix(raw), hashAPIKey(raw), nil
}

// hashAPIKey is the one-way lookup hash of a raw key.
func hashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func keyDisplayPrefix(raw string) string {
	if len(raw) <= displayPrefixLen {
		return raw
	}
	return raw[:displayPrefixLen]
}

// wellFormedAPIKey rejects values that cannot be keys before any storage
// lookup happens.
func wellFormedAPIKey(raw, prefix string) bool {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	rest, ok := strings.CutPrefix(raw, prefix+"_")
	if !ok || rest == "" {
		return false
	}
	if _, err := base64.RawURLEncoding.DecodeString(rest); err != nil {
		return false
	}
	return true
}
