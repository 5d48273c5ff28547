package export

import "errors"

// Sentinel errors returned by Sink implementations.
var (
	ErrNotFound     = errors.New("export: object not found")
	ErrUnauthorized = errors.New("export: access denied")
	ErrUnavailable  = errors.New("export: sink unavailable")
)
