package memory

import "errors"

// Sentinel errors for the memory engines.
var (
	ErrValidation          = errors.New("memory: validation failed")
	ErrNotFound            = errors.New("memory: not found")
	ErrInsufficientData    = errors.New("memory: insufficient data")
	ErrProviderUnavailable = errors.New("memory: provider unavailable")
	ErrInvalidWindowSize   = errors.New("memory: window size must be between 1 and 100")
)
