package fusion

import "errors"

// Sentinel errors for engine construction.
var (
	ErrNilAdapter  = errors.New("adapter is nil")
	ErrNilRegistry = errors.New("registry is nil")
	ErrNoAdapters  = errors.New("registry has no adapters")
)
