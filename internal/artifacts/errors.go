package artifacts

import "errors"

var (
	ErrNotFound     = errors.New("artifact not found")
	ErrCorrupt      = errors.New("artifact content does not match its hash")
	ErrInvalidInput = errors.New("invalid artifact input")
)
