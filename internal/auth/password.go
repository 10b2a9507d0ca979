package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes a plaintext password using bcrypt. New credentials
// should always be stored this way.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares a plaintext password with a stored hash. Bcrypt
// hashes are recognized by their "$2" prefix; anything else is treated as a
// legacy unsalted SHA-256 hex digest, still accepted so existing deployments
// keep working. See README for the migration note.
func VerifyPassword(hash, password string) error {
	if hash == "" || password == "" {
		return ErrUnauthorized
	}
	if strings.HasPrefix(hash, "$2") {
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
			return ErrUnauthorized
		}
		return nil
	}
	sum := sha256.Sum256([]byte(password))
	digest := hex.EncodeToString(sum[:])
	if subtle.ConstantTimeCompare([]byte(digest), []byte(strings.ToLower(hash))) != 1 {
		return ErrUnauthorized
	}
	return nil
}
