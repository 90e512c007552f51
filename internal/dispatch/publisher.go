package dispatch

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/pixelgrid-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/pixelgrid-core/internal/scheduler"
)

// BusPublisher is the narrow MQTT surface the status publisher needs.
// Satisfied by *mqtt.Client.
type BusPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Broadcaster fans an event out to connected UI clients.
// Satisfied by the API package's websocket hub.
type Broadcaster interface {
	Broadcast(event any)
}

// FrameWriter records per-frame timing into time-series storage.
// Satisfied by *influxdb.Client.
type FrameWriter interface {
	WriteFrameMetric(deviceID, sceneName string, duration time.Duration, pixelsChanged int)
	WriteRenderError(deviceID, sceneName, stage string)
}

// StatusPublisher is the single outbound fanout: scene states retained on
// the bus and mirrored to websocket clients, structured errors on the
// device error topic, per-frame metrics to the bus metrics channel and to
// time-series storage.
//
// Publish failures are logged and swallowed; status publication is
// best-effort and must never fail a command.
type StatusPublisher struct {
	bus    BusPublisher
	topics mqtt.Topics
	hub    Broadcaster
	frames FrameWriter
	logger Logger
}

// NewStatusPublisher creates a status publisher. Only the bus is required;
// hub and frame writer are optional.
func NewStatusPublisher(bus BusPublisher, topics mqtt.Topics) *StatusPublisher {
	return &StatusPublisher{
		bus:    bus,
		topics: topics,
		logger: noopLogger{},
	}
}

// SetBroadcaster mirrors scene states to a websocket hub.
func (p *StatusPublisher) SetBroadcaster(hub Broadcaster) {
	p.hub = hub
}

// SetFrameWriter forwards per-frame metrics to time-series storage.
func (p *StatusPublisher) SetFrameWriter(fw FrameWriter) {
	p.frames = fw
}

// SetLogger sets the logger for the publisher.
func (p *StatusPublisher) SetLogger(l Logger) {
	if l != nil {
		p.logger = l
	}
}

// sceneStateEvent is the wire shape of a scene state publication.
type sceneStateEvent struct {
	Type string `json:"type"`
	scheduler.SceneState
}

// PublishSceneState publishes a device's scene state, retained so late
// subscribers immediately learn the current state.
func (p *StatusPublisher) PublishSceneState(st scheduler.SceneState) {
	payload, err := json.Marshal(st)
	if err != nil {
		p.logger.Error("encoding scene state", "device_id", st.DeviceID, "error", err)
		return
	}

	if err := p.bus.Publish(p.topics.SceneState(st.DeviceID), payload, 1, true); err != nil {
		p.logger.Warn("publishing scene state",
			"device_id", st.DeviceID, "status", st.Status, "error", err)
	}

	if p.hub != nil {
		p.hub.Broadcast(sceneStateEvent{Type: "scene_state", SceneState: st})
	}
}

// deviceErrorEvent is the wire shape of an error publication.
type deviceErrorEvent struct {
	Error     string    `json:"error"`
	Context   string    `json:"context,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PublishDeviceError publishes a structured error for a device.
func (p *StatusPublisher) PublishDeviceError(deviceID, message, errContext string) {
	payload, err := json.Marshal(deviceErrorEvent{
		Error:     message,
		Context:   errContext,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		p.logger.Error("encoding device error", "device_id", deviceID, "error", err)
		return
	}

	if err := p.bus.Publish(p.topics.DeviceError(deviceID), payload, 1, false); err != nil {
		p.logger.Warn("publishing device error", "device_id", deviceID, "error", err)
	}
}

// frameMetricEvent is the wire shape of a per-frame metrics publication.
type frameMetricEvent struct {
	Scene         string `json:"scene"`
	DurationMS    int64  `json:"durationMs"`
	PixelsChanged int    `json:"pixelsChanged"`
}

// FrameRendered publishes per-frame metrics to the bus metrics channel and
// to time-series storage. Implements scheduler.MetricsSink.
func (p *StatusPublisher) FrameRendered(deviceID, sceneName string, duration time.Duration, pixelsChanged int) {
	payload, err := json.Marshal(frameMetricEvent{
		Scene:         sceneName,
		DurationMS:    duration.Milliseconds(),
		PixelsChanged: pixelsChanged,
	})
	if err == nil {
		// QoS 0: per-frame metrics are high-volume and losing one is fine.
		if err := p.bus.Publish(p.topics.FrameMetrics(deviceID), payload, 0, false); err != nil {
			p.logger.Debug("publishing frame metrics", "device_id", deviceID, "error", err)
		}
	}

	if p.frames != nil {
		p.frames.WriteFrameMetric(deviceID, sceneName, duration, pixelsChanged)
	}
}

// RenderFailed records a render failure in time-series storage.
// Implements scheduler.MetricsSink.
func (p *StatusPublisher) RenderFailed(deviceID, sceneName, stage string) {
	if p.frames != nil {
		p.frames.WriteRenderError(deviceID, sceneName, stage)
	}
}
