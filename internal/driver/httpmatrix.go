package driver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/nerrad567/pixelgrid-core/internal/frame"
)

// KindHTTPMatrix is the driver kind for HTTP-addressable matrix displays.
const KindHTTPMatrix = "httpmatrix"

const httpmatrixTimeout = 5 * time.Second

// HTTPMatrix drives a matrix display that exposes a small HTTP API, the
// common pattern for WLED-style controllers and DIY ESP32 panels. The
// device address is the controller's base URL; frames are POSTed as JSON
// with base64-encoded RGB data.
//
// Endpoints:
//
//	POST {address}/frame       push a frame
//	POST {address}/clear       blank the display
//	POST {address}/brightness  set brightness 0-100
//	POST {address}/power       set power on/off
type HTTPMatrix struct {
	deviceID string
	base     string
	caps     Capabilities
	client   *http.Client
	log      Logger

	lastPushed *frame.Frame
}

// NewHTTPMatrix constructs an HTTP matrix driver from the device config.
// The address must be an absolute http(s) URL.
func NewHTTPMatrix(cfg Config) (Driver, error) {
	u, err := url.Parse(cfg.Address)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: httpmatrix requires an absolute http(s) address, got %q", ErrInvalidConfig, cfg.Address)
	}

	log := cfg.Logger
	if log == nil {
		log = noopLogger{}
	}

	return &HTTPMatrix{
		deviceID: cfg.DeviceID,
		base:     u.String(),
		caps:     Capabilities{Brightness: cfg.Brightness, Power: cfg.Power},
		client:   &http.Client{Timeout: httpmatrixTimeout},
		log:      log,
	}, nil
}

// Kind returns "httpmatrix".
func (*HTTPMatrix) Kind() string { return KindHTTPMatrix }

// Initialize verifies the controller is reachable by blanking the display.
func (h *HTTPMatrix) Initialize(ctx context.Context) error {
	h.lastPushed = nil
	return h.Clear(ctx)
}

// Push POSTs the frame to the controller and returns the changed-pixel
// count relative to the previous successful push.
func (h *HTTPMatrix) Push(ctx context.Context, f *frame.Frame) (int, error) {
	body := struct {
		Width  int    `json:"width"`
		Height int    `json:"height"`
		Pixels string `json:"pixels"`
	}{
		Width:  f.Width(),
		Height: f.Height(),
		Pixels: base64.StdEncoding.EncodeToString(f.Bytes()),
	}

	if err := h.post(ctx, "/frame", body); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrPushFailed, err)
	}

	changed := f.DiffCount(h.lastPushed)
	h.lastPushed = f.Clone()
	return changed, nil
}

// Clear blanks the display.
func (h *HTTPMatrix) Clear(ctx context.Context) error {
	h.lastPushed = nil
	return h.post(ctx, "/clear", struct{}{})
}

// Capabilities reports what the device config declared.
func (h *HTTPMatrix) Capabilities() Capabilities { return h.caps }

// SetBrightness posts a brightness change. Silent no-op when unsupported.
func (h *HTTPMatrix) SetBrightness(ctx context.Context, level int) bool {
	if !h.caps.Brightness {
		return false
	}
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}

	body := struct {
		Level int `json:"level"`
	}{Level: level}

	if err := h.post(ctx, "/brightness", body); err != nil {
		h.log.Warn("brightness update failed", "device_id", h.deviceID, "error", err)
		return false
	}
	return true
}

// SetPower posts a power change. Silent no-op when unsupported.
func (h *HTTPMatrix) SetPower(ctx context.Context, on bool) bool {
	if !h.caps.Power {
		return false
	}

	body := struct {
		On bool `json:"on"`
	}{On: on}

	if err := h.post(ctx, "/power", body); err != nil {
		h.log.Warn("power update failed", "device_id", h.deviceID, "error", err)
		return false
	}
	return true
}

// Close releases idle connections.
func (h *HTTPMatrix) Close() error {
	h.client.CloseIdleConnections()
	return nil
}

func (h *HTTPMatrix) post(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.base+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("controller returned %s for %s", resp.Status, path)
	}
	return nil
}
