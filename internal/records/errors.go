package records

import "errors"

var (
	ErrNotFound     = errors.New("saved analysis not found")
	ErrInvalidInput = errors.New("invalid saved analysis input")
)
