package rbac

import "errors"

var (
	ErrNotFound     = errors.New("rbac: not found")
	ErrInvalidInput = errors.New("rbac: invalid input")
	ErrBuiltinRole  = errors.New("rbac: builtin role cannot be deleted")
)
