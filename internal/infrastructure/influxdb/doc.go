// Package influxdb provides InfluxDB connectivity for Pixelgrid Core.
//
// It wraps the official influxdb-client-go v2 library with Pixelgrid-specific
// patterns for connection management, metric writing, and health monitoring.
//
// # Purpose
//
// This package handles time-series data storage for:
//   - Per-frame render metrics (duration, changed pixels)
//   - Render and push error counts per device/scene
//   - Slow-moving device gauges (brightness, cumulative push count)
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    URL:    "http://localhost:8086",
//	    Token:  "your-token",
//	    Org:    "pixelgrid",
//	    Bucket: "metrics",
//	}
//
//	client, err := influxdb.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Write per-frame metrics
//	client.WriteFrameMetric("lobby-matrix", "clock", 12*time.Millisecond, 148)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are logged via a callback.
// Connection and health check errors are returned directly.
//
// # Performance
//
// Writes are batched according to config.yaml settings (batch_size, flush_interval).
// This keeps the scheduler's render loops free of metric-emission latency.
package influxdb
