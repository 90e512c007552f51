package driver

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nerrad567/pixelgrid-core/internal/frame"
)

type fakePublisher struct {
	published []fakeMessage
	err       error
}

type fakeMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func (p *fakePublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, fakeMessage{topic, payload, qos, retained})
	return nil
}

func newTestMQTTMatrix(t *testing.T, pub Publisher) Driver {
	t.Helper()
	ctor := NewMQTTMatrixConstructor(pub)
	d, err := ctor(Config{
		DeviceID:   "dev-1",
		Address:    "displays/lobby",
		Width:      8,
		Height:     8,
		Brightness: true,
	})
	if err != nil {
		t.Fatalf("constructing mqttmatrix: %v", err)
	}
	return d
}

func TestMQTTMatrixPush(t *testing.T) {
	pub := &fakePublisher{}
	d := newTestMQTTMatrix(t, pub)

	f := frame.New(8, 8)
	f.Fill(0, 0, 255)

	changed, err := d.Push(context.Background(), f)
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if changed != 64 {
		t.Errorf("Push() changed = %d, want 64", changed)
	}

	if len(pub.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.published))
	}
	msg := pub.published[0]
	if msg.topic != "displays/lobby/frame" {
		t.Errorf("topic = %q, want displays/lobby/frame", msg.topic)
	}
	if msg.qos != 0 || msg.retained {
		t.Errorf("frame published qos=%d retained=%v, want qos=0 unretained", msg.qos, msg.retained)
	}

	var body struct {
		Width  int    `json:"width"`
		Height int    `json:"height"`
		Pixels string `json:"pixels"`
	}
	if err := json.Unmarshal(msg.payload, &body); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if body.Width != 8 || body.Height != 8 || body.Pixels == "" {
		t.Errorf("payload = %+v, want 8x8 with pixel data", body)
	}
}

func TestMQTTMatrixPushFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	d := newTestMQTTMatrix(t, pub)

	_, err := d.Push(context.Background(), frame.New(8, 8))
	if !errors.Is(err, ErrPushFailed) {
		t.Errorf("Push() error = %v, want ErrPushFailed", err)
	}
}

func TestMQTTMatrixCapabilityGating(t *testing.T) {
	pub := &fakePublisher{}
	d := newTestMQTTMatrix(t, pub)
	ctx := context.Background()

	// Brightness was declared, power was not.
	if !d.SetBrightness(ctx, 40) {
		t.Error("SetBrightness() = false, want true")
	}
	if d.SetPower(ctx, true) {
		t.Error("SetPower() = true on undeclared capability")
	}

	if len(pub.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.published))
	}
	if got := pub.published[0].topic; got != "displays/lobby/brightness" {
		t.Errorf("topic = %q, want displays/lobby/brightness", got)
	}
}

func TestMQTTMatrixInvalidConfig(t *testing.T) {
	ctor := NewMQTTMatrixConstructor(&fakePublisher{})

	tests := []struct {
		name    string
		address string
	}{
		{"empty address", ""},
		{"wildcard plus", "displays/+"},
		{"wildcard hash", "displays/#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ctor(Config{DeviceID: "dev-1", Address: tt.address})
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}
