package bridge

import "errors"

// Domain-specific errors for the bridge.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrGenerationActive is returned when a device is found while a previous
	// generation for the same id has not been retired.
	ErrGenerationActive = errors.New("bridge: device generation already active")

	// ErrNotPresent is returned when retiring a device that is not present.
	ErrNotPresent = errors.New("bridge: device not present")

	// ErrPoolClosed is returned by Pool.Get after Pool.Close.
	ErrPoolClosed = errors.New("bridge: connection pool closed")

	// ErrStopped is returned for lifecycle events delivered after Stop.
	ErrStopped = errors.New("bridge: manager stopped")
)
