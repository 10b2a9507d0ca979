package audit

import "errors"

var (
	ErrNotFound           = errors.New("audit: entry not found")
	ErrInvalidInput       = errors.New("audit: invalid input")
	ErrSigningKeyTooShort = errors.New("audit: signing key must be at least 32 characters")
	ErrIntegrityViolation = errors.New("audit: integrity violation")
)
