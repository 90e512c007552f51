package scheduler

import "errors"

// Domain errors for the scheduler package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, scheduler.ErrSwitchSuppressed) {
//	    // a manual selection is being protected; retry after the window
//	}
var (
	// ErrSwitchSuppressed is returned when an automated switch arrives inside
	// the grace window opened by a manual scene selection.
	ErrSwitchSuppressed = errors.New("scheduler: automated switch suppressed by manual grace window")

	// ErrNoActiveScene is returned when stop, pause, resume or redraw is
	// requested for a device with nothing playing.
	ErrNoActiveScene = errors.New("scheduler: no active scene")

	// ErrNotPaused is returned when resuming a device that is not paused.
	ErrNotPaused = errors.New("scheduler: not paused")

	// ErrSceneInit is returned when a scene's Init hook fails during a switch.
	ErrSceneInit = errors.New("scheduler: scene init failed")

	// ErrShuttingDown is returned for operations submitted after Shutdown.
	ErrShuttingDown = errors.New("scheduler: shutting down")
)
