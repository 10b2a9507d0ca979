package rotation

import "errors"

var (
	ErrNotFound     = errors.New("rotation: not found")
	ErrInvalidInput = errors.New("rotation: invalid input")
)
