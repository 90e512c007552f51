package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteFrameMetric records one render-cycle measurement for a device.
//
// This is the hot path for scheduler telemetry: one point per pushed frame.
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - deviceID: Device identifier (e.g., "lobby-matrix")
//   - scene: Scene that produced the frame
//   - duration: Wall time of the render call
//   - pixelsChanged: Changed-pixel count reported by the driver push
//
// Example:
//
//	client.WriteFrameMetric("lobby-matrix", "clock", 12*time.Millisecond, 148)
func (c *Client) WriteFrameMetric(deviceID, scene string, duration time.Duration, pixelsChanged int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"frame",
		map[string]string{
			"device_id": deviceID,
			"scene":     scene,
		},
		map[string]interface{}{
			"duration_ms":    float64(duration.Microseconds()) / 1000.0,
			"pixels_changed": pixelsChanged,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteRenderError records a render or push failure for a device.
//
// Error points are tagged by stage (render, push, init, cleanup) so
// dashboards can separate scene bugs from flaky hardware.
func (c *Client) WriteRenderError(deviceID, scene, stage string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"render_error",
		map[string]string{
			"device_id": deviceID,
			"scene":     scene,
			"stage":     stage,
		},
		map[string]interface{}{
			"count": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteDeviceGauge writes a single named gauge for a device.
//
// Used for slower-moving device telemetry such as brightness level or
// queue depths.
//
// Parameters:
//   - deviceID: Device identifier
//   - gauge: The metric name (e.g., "brightness", "push_count")
//   - value: The numeric value to record
func (c *Client) WriteDeviceGauge(deviceID string, gauge string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_gauge",
		map[string]string{
			"device_id": deviceID,
			"gauge":     gauge,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Example:
//
//	client.WritePoint("system_stats",
//	    map[string]string{"host": "core-01"},
//	    map[string]interface{}{"cpu_percent": 45.2, "memory_mb": 512})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
