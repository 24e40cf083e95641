package memory

import "errors"

var (
	// ErrInvalidRole is returned when a caller tries to store anything other
	// than a user or assistant turn. System turns are synthesized per request.
	ErrInvalidRole = errors.New("memory: only user and assistant turns can be stored")
)
