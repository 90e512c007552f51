package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// CommandEnvelope is the uniform inbound command shape, derived from the
// topic `{namespace}/{deviceId}/{section}/{action}` plus the message payload.
// The same envelope is built by the MQTT consumer and by the HTTP API, so
// both surfaces run identical validation and handler code.
type CommandEnvelope struct {
	// CommandID tags log lines and error publications for one command.
	CommandID string

	DeviceID string
	Section  string
	Action   string

	// Payload is the raw JSON body. May be empty for payload-less actions.
	Payload json.RawMessage
}

// NewEnvelope builds an envelope with a fresh command id.
func NewEnvelope(deviceID, section, action string, payload []byte) CommandEnvelope {
	return CommandEnvelope{
		CommandID: uuid.NewString(),
		DeviceID:  deviceID,
		Section:   section,
		Action:    action,
		Payload:   payload,
	}
}

// Validate checks the envelope's addressing fields.
func (e *CommandEnvelope) Validate() error {
	if e.DeviceID == "" {
		return fmt.Errorf("%w: device id is required", ErrValidation)
	}
	if e.Section == "" {
		return fmt.Errorf("%w: section is required", ErrValidation)
	}
	if e.Action == "" {
		return fmt.Errorf("%w: action is required", ErrValidation)
	}
	return nil
}

// statePayload is the body of state/update commands. Internally produced
// animation-frame continuations carry the frame marker plus the scene and
// generation they were rendered for.
type statePayload struct {
	Scene            string `json:"scene,omitempty"`
	IsAnimationFrame bool   `json:"isAnimationFrame,omitempty"`
	GenerationID     uint64 `json:"generationId,omitempty"`
}

// scenePayload is the body of scene/play and scene/setDefault commands.
type scenePayload struct {
	Scene string `json:"scene,omitempty"`
}

// driverPayload is the body of driver/set commands.
type driverPayload struct {
	Driver  string `json:"driver"`
	Address string `json:"address,omitempty"`
}

// decodePayload unmarshals a command body. An empty payload decodes to the
// zero value so payload-less actions need no special casing.
func decodePayload(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: malformed payload: %w", ErrValidation, err)
	}
	return nil
}
