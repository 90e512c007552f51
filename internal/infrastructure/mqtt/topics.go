package mqtt

import (
	"fmt"
	"strings"
)

// Topic layout for Pixelgrid fleet traffic.
//
// All device traffic uses one flat scheme under a configurable namespace:
//
//	{namespace}/{device_id}/{section}/{action}
//
// Inbound commands and outbound status share the scheme; the direction is
// determined by section/action. Core subscribes to the full device wildcard
// and filters out its own outbound actions (see OutboundAction).
//
// Examples with the default "pixelgrid" namespace:
//
//	pixelgrid/lobby-matrix/state/update     command: show new content
//	pixelgrid/lobby-matrix/scene/play       command: resume playback
//	pixelgrid/lobby-matrix/driver/set       command: hot-swap driver
//	pixelgrid/lobby-matrix/reset/soft       command: clear display
//	pixelgrid/lobby-matrix/scene/state      status:  scene state (retained)
//	pixelgrid/lobby-matrix/metrics/frame    status:  per-frame metrics
//	pixelgrid/lobby-matrix/error            status:  structured error
type Topics struct {
	// Namespace is the fleet topic prefix, e.g. "pixelgrid".
	Namespace string
}

// NewTopics returns a Topics builder for the given namespace.
// An empty namespace falls back to "pixelgrid".
func NewTopics(namespace string) Topics {
	if namespace == "" {
		namespace = "pixelgrid"
	}
	return Topics{Namespace: namespace}
}

// Command returns the command topic for a device section/action.
//
// Example: pixelgrid/lobby-matrix/state/update
func (t Topics) Command(deviceID, section, action string) string {
	return fmt.Sprintf("%s/%s/%s/%s", t.Namespace, deviceID, section, action)
}

// SceneState returns the retained scene-state topic for a device.
//
// Example: pixelgrid/lobby-matrix/scene/state
func (t Topics) SceneState(deviceID string) string {
	return fmt.Sprintf("%s/%s/scene/state", t.Namespace, deviceID)
}

// FrameMetrics returns the per-frame metrics topic for a device.
//
// Example: pixelgrid/lobby-matrix/metrics/frame
func (t Topics) FrameMetrics(deviceID string) string {
	return fmt.Sprintf("%s/%s/metrics/frame", t.Namespace, deviceID)
}

// DeviceError returns the structured error topic for a device.
//
// Example: pixelgrid/lobby-matrix/error
func (t Topics) DeviceError(deviceID string) string {
	return fmt.Sprintf("%s/%s/error", t.Namespace, deviceID)
}

// SystemStatus returns the controller status topic (online/offline, LWT).
//
// Example: pixelgrid/system/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.Namespace)
}

// AllDeviceCommands returns a wildcard pattern matching every device
// command topic in the namespace.
//
// Pattern: pixelgrid/+/+/+
func (t Topics) AllDeviceCommands() string {
	return fmt.Sprintf("%s/+/+/+", t.Namespace)
}

// ParseCommand splits a device command topic into its device/section/action
// parts. It returns ok=false for topics outside the namespace or with the
// wrong shape, including the reserved "system" device segment.
func (t Topics) ParseCommand(topic string) (deviceID, section, action string, ok bool) {
	parts := strings.Split(topic, "/")
	const commandParts = 4
	if len(parts) != commandParts || parts[0] != t.Namespace {
		return "", "", "", false
	}
	deviceID, section, action = parts[1], parts[2], parts[3]
	if deviceID == "" || section == "" || action == "" || deviceID == "system" {
		return "", "", "", false
	}
	return deviceID, section, action, true
}

// OutboundAction reports whether a section/action pair is one of Core's own
// outbound publications. The command subscriber uses this to skip traffic it
// published itself, since commands and status share the wildcard.
func OutboundAction(section, action string) bool {
	switch {
	case section == "scene" && action == "state":
		return true
	case section == "metrics":
		return true
	case section == "error":
		return true
	}
	return false
}
