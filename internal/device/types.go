package device

import "time"

// Record is the durable half of a display device. Runtime-only state (the
// driver handle, the render loop, the per-activation scene bag) lives in
// memory and is reconstructed at startup from this record.
// This matches the database schema in migrations/20260801_120000_initial_schema.up.sql.
type Record struct {
	// Identity
	ID   string `json:"id"`
	Name string `json:"name"`

	// Driver binding. Address interpretation is driver-specific (URL for
	// HTTP drivers, topic prefix for bus drivers, ignored by noop/sim).
	DriverKind string `json:"driver"`
	Address    string `json:"address"`

	// Canvas and capabilities
	Width              int  `json:"width"`
	Height             int  `json:"height"`
	SupportsBrightness bool `json:"supports_brightness"`
	SupportsPower      bool `json:"supports_power"`
	Brightness         int  `json:"brightness"`

	// Playback state. Generation increments on every accepted scene switch;
	// frames rendered under a stale generation are discarded at push time.
	DefaultScene string     `json:"default_scene"`
	ActiveScene  string     `json:"active_scene"`
	Status       Status     `json:"status"`
	Generation   uint64     `json:"generation"`
	LastRenderAt *time.Time `json:"last_render_at,omitempty"`

	// Metrics
	PushCount   int64 `json:"push_count"`
	ErrorCount  int64 `json:"error_count"`
	LastFrameMS int64 `json:"last_frame_ms"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy creates an independent copy of the Record. All fields are value
// types or immutable, so a field-wise copy with a fresh timestamp pointer is
// sufficient. This is essential for cache isolation.
func (r *Record) DeepCopy() *Record {
	if r == nil {
		return nil
	}

	cpy := *r
	if r.LastRenderAt != nil {
		t := *r.LastRenderAt
		cpy.LastRenderAt = &t
	}
	return &cpy
}

// Status represents the playback lifecycle state of a device.
type Status string

// Status constants. Transitions:
//
//	idle      -> switching
//	switching -> running | error
//	running   -> switching | stopped | error
//	stopped   -> switching
//	error     -> switching
const (
	StatusIdle      Status = "idle"
	StatusSwitching Status = "switching"
	StatusRunning   Status = "running"
	StatusStopped   Status = "stopped"
	StatusError     Status = "error"
)

// AllStatuses returns all valid status values.
func AllStatuses() []Status {
	return []Status{StatusIdle, StatusSwitching, StatusRunning, StatusStopped, StatusError}
}
