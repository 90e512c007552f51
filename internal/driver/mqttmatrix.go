package driver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nerrad567/pixelgrid-core/internal/frame"
)

// KindMQTTMatrix is the driver kind for matrix displays reached over the
// message bus.
const KindMQTTMatrix = "mqttmatrix"

// MQTTMatrix drives a matrix display whose firmware subscribes to the
// broker directly. The device address is the topic prefix the firmware
// listens on; the driver publishes to {address}/frame, {address}/clear,
// {address}/brightness and {address}/power.
//
// Frames go out QoS 0 and unretained - a display that missed a frame just
// waits for the next one, and stale retained frames on reconnect would be
// worse than a brief blank.
type MQTTMatrix struct {
	deviceID string
	prefix   string
	caps     Capabilities
	pub      Publisher
	log      Logger

	lastPushed *frame.Frame
}

// NewMQTTMatrixConstructor binds a Publisher into a Constructor so the kind
// can be registered in the factory alongside the built-ins.
func NewMQTTMatrixConstructor(pub Publisher) Constructor {
	return func(cfg Config) (Driver, error) {
		return newMQTTMatrix(cfg, pub)
	}
}

func newMQTTMatrix(cfg Config, pub Publisher) (Driver, error) {
	if pub == nil {
		return nil, fmt.Errorf("%w: mqttmatrix requires a publisher", ErrInvalidConfig)
	}
	prefix := strings.Trim(cfg.Address, "/")
	if prefix == "" || strings.ContainsAny(prefix, "+#") {
		return nil, fmt.Errorf("%w: mqttmatrix requires a literal topic prefix, got %q", ErrInvalidConfig, cfg.Address)
	}

	log := cfg.Logger
	if log == nil {
		log = noopLogger{}
	}

	return &MQTTMatrix{
		deviceID: cfg.DeviceID,
		prefix:   prefix,
		caps:     Capabilities{Brightness: cfg.Brightness, Power: cfg.Power},
		pub:      pub,
		log:      log,
	}, nil
}

// Kind returns "mqttmatrix".
func (*MQTTMatrix) Kind() string { return KindMQTTMatrix }

// Initialize blanks the display. The broker connection is shared and managed
// elsewhere, so there is nothing to open here.
func (m *MQTTMatrix) Initialize(ctx context.Context) error {
	m.lastPushed = nil
	return m.Clear(ctx)
}

// Push publishes the frame to the display's frame topic and returns the
// changed-pixel count relative to the previous successful push.
func (m *MQTTMatrix) Push(_ context.Context, f *frame.Frame) (int, error) {
	payload, err := json.Marshal(struct {
		Width  int    `json:"width"`
		Height int    `json:"height"`
		Pixels string `json:"pixels"`
	}{
		Width:  f.Width(),
		Height: f.Height(),
		Pixels: base64.StdEncoding.EncodeToString(f.Bytes()),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: encoding frame: %w", ErrPushFailed, err)
	}

	if err := m.pub.Publish(m.prefix+"/frame", payload, 0, false); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrPushFailed, err)
	}

	changed := f.DiffCount(m.lastPushed)
	m.lastPushed = f.Clone()
	return changed, nil
}

// Clear publishes a blank command.
func (m *MQTTMatrix) Clear(_ context.Context) error {
	m.lastPushed = nil
	return m.pub.Publish(m.prefix+"/clear", []byte(`{}`), 0, false)
}

// Capabilities reports what the device config declared.
func (m *MQTTMatrix) Capabilities() Capabilities { return m.caps }

// SetBrightness publishes a brightness change. Silent no-op when unsupported.
func (m *MQTTMatrix) SetBrightness(_ context.Context, level int) bool {
	if !m.caps.Brightness {
		return false
	}
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}

	payload, _ := json.Marshal(struct {
		Level int `json:"level"`
	}{Level: level})

	if err := m.pub.Publish(m.prefix+"/brightness", payload, 1, true); err != nil {
		m.log.Warn("brightness update failed", "device_id", m.deviceID, "error", err)
		return false
	}
	return true
}

// SetPower publishes a power change. Silent no-op when unsupported.
func (m *MQTTMatrix) SetPower(_ context.Context, on bool) bool {
	if !m.caps.Power {
		return false
	}

	payload, _ := json.Marshal(struct {
		On bool `json:"on"`
	}{On: on})

	if err := m.pub.Publish(m.prefix+"/power", payload, 1, true); err != nil {
		m.log.Warn("power update failed", "device_id", m.deviceID, "error", err)
		return false
	}
	return true
}

// Close does nothing; the broker connection outlives individual drivers.
func (m *MQTTMatrix) Close() error { return nil }
