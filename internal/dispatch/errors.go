package dispatch

import "errors"

// Domain errors for the dispatch package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, dispatch.ErrValidation) {
//	    // malformed command, rejected before touching the scheduler
//	}
var (
	// ErrValidation is returned when a command envelope fails validation.
	// Validation failures are rejected at the dispatcher boundary before any
	// scheduler or registry call.
	ErrValidation = errors.New("dispatch: validation failed")

	// ErrUnknownSection is returned for command sections no handler owns.
	ErrUnknownSection = errors.New("dispatch: unknown section")

	// ErrUnknownAction is returned for actions a handler does not implement.
	ErrUnknownAction = errors.New("dispatch: unknown action")
)
