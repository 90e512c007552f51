package scene

import "errors"

// Domain errors for the scene package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, scene.ErrNotFound) {
//	    // handle unknown scene name
//	}
var (
	// ErrNotFound is returned when a scene name does not exist in the table.
	ErrNotFound = errors.New("scene: not found")

	// ErrExists is returned when registering a scene name that already exists.
	ErrExists = errors.New("scene: already exists")

	// ErrInvalidModule is returned when a module fails shape validation
	// at registration time.
	ErrInvalidModule = errors.New("scene: invalid module")

	// ErrDeviceNotAllowed is returned when a module's device-type allow-list
	// excludes the target device.
	ErrDeviceNotAllowed = errors.New("scene: device type not allowed")
)
