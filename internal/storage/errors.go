package storage

import "errors"

// Sentinel errors shared by both backends. Handlers map these to HTTP
// statuses; callers test with errors.Is.
var (
	// ErrNotFound: unknown event code, image uuid, or face id.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate: unique constraint hit (event code or image uuid).
	ErrDuplicate = errors.New("duplicate key")
	// ErrInvalidInput: malformed parameters rejected before touching a backend.
	ErrInvalidInput = errors.New("invalid input")
)
