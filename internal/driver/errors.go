package driver

import "errors"

// Domain errors for the driver package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, driver.ErrUnknownKind) {
//	    // reject the swap, previous driver stays active
//	}
var (
	// ErrUnknownKind is returned when a driver-kind string has no registered
	// constructor.
	ErrUnknownKind = errors.New("driver: unknown kind")

	// ErrKindExists is returned when registering a constructor under a kind
	// that is already taken.
	ErrKindExists = errors.New("driver: kind already registered")

	// ErrInvalidConfig is returned when a constructor rejects its config.
	ErrInvalidConfig = errors.New("driver: invalid config")

	// ErrPushFailed is returned when a frame push to the device fails.
	ErrPushFailed = errors.New("driver: push failed")

	// ErrClosed is returned when operating on a closed driver.
	ErrClosed = errors.New("driver: closed")
)
